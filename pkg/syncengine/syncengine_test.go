package syncengine

import (
	"testing"

	"github.com/sanchxt/ldrop/pkg/fsindex"
)

func idx(entries map[string]fsindex.Entry) *fsindex.Index {
	return &fsindex.Index{Root: "/x", Entries: entries}
}

func TestReconcileSimpleCreateBothWays(t *testing.T) {
	local := idx(map[string]fsindex.Entry{
		"keep.txt":   {Kind: fsindex.KindFile, Size: 4, ContentHash: 1},
		"local.txt":  {Kind: fsindex.KindFile, Size: 4, ContentHash: 2},
	})
	remote := idx(map[string]fsindex.Entry{
		"keep.txt":   {Kind: fsindex.KindFile, Size: 4, ContentHash: 1},
		"remote.txt": {Kind: fsindex.KindFile, Size: 4, ContentHash: 3},
	})

	plan := Reconcile(local, remote, StrategyNewestWins)

	if len(plan.Conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %d", len(plan.Conflicts))
	}
	foundCreate := false
	for _, op := range plan.Apply {
		if op.Kind == OpCreate && op.Path == "remote.txt" {
			foundCreate = true
		}
	}
	if !foundCreate {
		t.Fatal("expected local apply plan to create remote.txt")
	}
	foundSendCreate := false
	for _, op := range plan.Send {
		if op.Kind == OpCreate && op.Path == "local.txt" {
			foundSendCreate = true
		}
	}
	if !foundSendCreate {
		t.Fatal("expected send plan to create local.txt on the peer")
	}
}

func TestReconcileDetectsRename(t *testing.T) {
	local := idx(map[string]fsindex.Entry{
		"old-name.txt": {Kind: fsindex.KindFile, Size: 10, ContentHash: 42},
	})
	remote := idx(map[string]fsindex.Entry{
		"new-name.txt": {Kind: fsindex.KindFile, Size: 10, ContentHash: 42},
	})

	plan := Reconcile(local, remote, StrategyNewestWins)

	if len(plan.Send) != 1 {
		t.Fatalf("expected exactly one send op, got %d: %+v", len(plan.Send), plan.Send)
	}
	op := plan.Send[0]
	if op.Kind != OpRename || op.FromPath != "old-name.txt" || op.Path != "new-name.txt" {
		t.Fatalf("expected rename old-name.txt -> new-name.txt, got %+v", op)
	}
}

func TestReconcileConflictNewestWins(t *testing.T) {
	local := idx(map[string]fsindex.Entry{
		"f.txt": {Kind: fsindex.KindFile, Size: 5, ContentHash: 1, ModTime: 200},
	})
	remote := idx(map[string]fsindex.Entry{
		"f.txt": {Kind: fsindex.KindFile, Size: 5, ContentHash: 2, ModTime: 100},
	})

	plan := Reconcile(local, remote, StrategyNewestWins)
	if len(plan.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %d", len(plan.Conflicts))
	}
	if len(plan.Send) != 1 || plan.Send[0].ContentHash != 1 {
		t.Fatalf("expected local (newer) version to be sent, got %+v", plan.Send)
	}
}

func TestReconcileConflictRemoteWins(t *testing.T) {
	local := idx(map[string]fsindex.Entry{
		"f.txt": {Kind: fsindex.KindFile, Size: 5, ContentHash: 1, ModTime: 999},
	})
	remote := idx(map[string]fsindex.Entry{
		"f.txt": {Kind: fsindex.KindFile, Size: 5, ContentHash: 2, ModTime: 1},
	})

	plan := Reconcile(local, remote, StrategyRemoteWins)
	if len(plan.Apply) != 1 || plan.Apply[0].ContentHash != 2 {
		t.Fatalf("expected remote version to win and be applied locally, got %+v", plan.Apply)
	}
}

func TestReconcileConflictKeepBoth(t *testing.T) {
	local := idx(map[string]fsindex.Entry{
		"report.pdf": {Kind: fsindex.KindFile, Size: 5, ContentHash: 1},
	})
	remote := idx(map[string]fsindex.Entry{
		"report.pdf": {Kind: fsindex.KindFile, Size: 5, ContentHash: 2},
	})

	plan := Reconcile(local, remote, StrategyKeepBoth)
	if len(plan.Apply) != 1 {
		t.Fatalf("expected one apply op for keep-both, got %d", len(plan.Apply))
	}
	if plan.Apply[0].Path != "report (conflicted copy).pdf" {
		t.Fatalf("expected conflicted-copy path, got %s", plan.Apply[0].Path)
	}
}

func TestOrderOpsParentsBeforeChildren(t *testing.T) {
	ops := []SyncOp{
		{Kind: OpCreate, Path: "a/b/c.txt"},
		{Kind: OpCreate, Path: "a"},
		{Kind: OpCreate, Path: "a/b"},
	}
	orderOps(ops)
	if ops[0].Path != "a" || ops[1].Path != "a/b" || ops[2].Path != "a/b/c.txt" {
		t.Fatalf("expected parent-before-child ordering, got %+v", ops)
	}
}

func TestOrderOpsDeletesAfterCreatesAtSameDepth(t *testing.T) {
	ops := []SyncOp{
		{Kind: OpDelete, Path: "z.txt"},
		{Kind: OpCreate, Path: "a.txt"},
	}
	orderOps(ops)
	if ops[0].Kind != OpCreate || ops[1].Kind != OpDelete {
		t.Fatalf("expected create before delete at same depth, got %+v", ops)
	}
}
