// Package syncengine implements the Sync Engine (§4.F): reconciling two
// file indices into ordered operation plans, classifying conflicts, and
// applying a resolution strategy.
package syncengine

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/sanchxt/ldrop/pkg/fsindex"
)

// OpKind identifies one of the four SyncOp variants (§3).
type OpKind int

const (
	OpCreate OpKind = iota
	OpModify
	OpDelete
	OpRename
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// SyncOp is one operation in a reconciliation plan (§3). OpID is assigned
// by the caller (the session layer) when the op is actually sent on the
// wire; the engine leaves it at zero.
type SyncOp struct {
	OpID        uint64
	Kind        OpKind
	Path        string
	FromPath    string // only set for OpRename
	EntryKind   fsindex.EntryKind
	Size        int64
	ContentHash uint64
	ChunkCount  int
}

// Strategy picks how a content conflict is resolved (§4.F step 3).
type Strategy int

const (
	StrategyNewestWins Strategy = iota
	StrategyLocalWins
	StrategyRemoteWins
	StrategyKeepBoth
)

// Conflict is one unresolved or resolved content conflict.
type Conflict struct {
	Path     string
	Local    fsindex.Entry
	Remote   fsindex.Entry
	Strategy Strategy
}

// Plan is the output of Reconcile: the ordered operations the local
// side must apply to itself, the ordered operations it must send to the
// peer, and the resolved conflicts.
type Plan struct {
	Apply     []SyncOp
	Send      []SyncOp
	Conflicts []Conflict
}

// Reconcile compares local and remote indices and produces a Plan
// (§4.F). Rename detection uses exact content-hash+size match only
// (§9 Open Question 3).
func Reconcile(local, remote *fsindex.Index, strategy Strategy) Plan {
	diffs := fsindex.Diff(local, remote)

	var deletedLocal, createdRemote []fsindex.DiffEntry
	var apply, send []SyncOp
	var conflicts []Conflict

	for _, d := range diffs {
		switch d.Kind {
		case fsindex.ChangeNone:
			continue
		case fsindex.ChangeCreateRemote:
			// present locally, absent remotely: candidate outbound create,
			// or rename source.
			deletedLocal = append(deletedLocal, d)
		case fsindex.ChangeCreateLocal:
			// present remotely, absent locally: candidate create, or
			// rename destination.
			createdRemote = append(createdRemote, d)
		case fsindex.ChangeConflict:
			c := Conflict{Path: d.Path, Strategy: strategy}
			if d.Local != nil {
				c.Local = *d.Local
			}
			if d.Remote != nil {
				c.Remote = *d.Remote
			}
			conflicts = append(conflicts, c)
		}
	}

	renamedFrom, renamedTo := detectRenames(deletedLocal, createdRemote)

	for _, d := range deletedLocal {
		if to, ok := renamedFrom[d.Path]; ok {
			send = append(send, SyncOp{Kind: OpRename, FromPath: d.Path, Path: to, EntryKind: d.Local.Kind})
			continue
		}
		op := SyncOp{Kind: OpCreate, Path: d.Path, EntryKind: d.Local.Kind}
		if d.Local.Kind == fsindex.KindFile {
			op.Size = d.Local.Size
			op.ContentHash = d.Local.ContentHash
			op.ChunkCount = chunkCount(d.Local.Size)
		}
		send = append(send, op)
	}
	for _, d := range createdRemote {
		if _, ok := renamedTo[d.Path]; ok {
			continue // already emitted as the rename's destination above
		}
		op := SyncOp{Kind: OpCreate, Path: d.Path, EntryKind: d.Remote.Kind}
		if d.Remote.Kind == fsindex.KindFile {
			op.Size = d.Remote.Size
			op.ContentHash = d.Remote.ContentHash
			op.ChunkCount = chunkCount(d.Remote.Size)
		}
		apply = append(apply, op)
	}

	for i := range conflicts {
		resolveConflict(&conflicts[i], &apply, &send)
	}

	orderOps(apply)
	orderOps(send)

	return Plan{Apply: apply, Send: send, Conflicts: conflicts}
}

// detectRenames pairs a deleted-local entry with a created-remote entry
// sharing identical content hash and size, tie-broken by the shortest
// path edit distance when more than one candidate matches (§4.F step 2).
func detectRenames(deletedLocal, createdRemote []fsindex.DiffEntry) (fromTo map[string]string, toFrom map[string]struct{}) {
	fromTo = make(map[string]string)
	toFrom = make(map[string]struct{})

	usedRemote := make(map[int]bool)
	for _, del := range deletedLocal {
		if del.Local == nil || del.Local.Kind != fsindex.KindFile {
			continue
		}
		bestIdx := -1
		bestDist := -1
		for i, created := range createdRemote {
			if usedRemote[i] || created.Remote == nil || created.Remote.Kind != fsindex.KindFile {
				continue
			}
			if created.Remote.ContentHash != del.Local.ContentHash || created.Remote.Size != del.Local.Size {
				continue
			}
			dist := editDistance(del.Path, created.Path)
			if bestIdx == -1 || dist < bestDist {
				bestIdx = i
				bestDist = dist
			}
		}
		if bestIdx != -1 {
			usedRemote[bestIdx] = true
			fromTo[del.Path] = createdRemote[bestIdx].Path
			toFrom[createdRemote[bestIdx].Path] = struct{}{}
		}
	}
	return fromTo, toFrom
}

// editDistance is the classic Levenshtein distance, used only to
// tie-break among multiple rename candidates with identical content.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func resolveConflict(c *Conflict, apply, send *[]SyncOp) {
	switch c.Strategy {
	case StrategyNewestWins:
		if c.Local.ModTime >= c.Remote.ModTime {
			*send = append(*send, modifyOp(c.Path, c.Local))
		} else {
			*apply = append(*apply, modifyOp(c.Path, c.Remote))
		}
	case StrategyLocalWins:
		*send = append(*send, modifyOp(c.Path, c.Local))
	case StrategyRemoteWins:
		*apply = append(*apply, modifyOp(c.Path, c.Remote))
	case StrategyKeepBoth:
		renamed := keepBothPath(c.Path)
		op := modifyOp(renamed, c.Remote)
		op.Kind = OpCreate
		*apply = append(*apply, op)
	}
}

func modifyOp(path string, e fsindex.Entry) SyncOp {
	return SyncOp{
		Kind:        OpModify,
		Path:        path,
		EntryKind:   e.Kind,
		Size:        e.Size,
		ContentHash: e.ContentHash,
		ChunkCount:  chunkCount(e.Size),
	}
}

// keepBothPath appends "(conflicted copy)" before the file extension,
// matching the Dropbox/syncthing convention familiar to users.
func keepBothPath(path string) string {
	dir, file := filepath.Split(path)
	ext := filepath.Ext(file)
	base := strings.TrimSuffix(file, ext)
	return filepath.ToSlash(filepath.Join(dir, base+" (conflicted copy)"+ext))
}

func chunkCount(size int64) int {
	const defaultChunkSize = 1024 * 1024
	if size == 0 {
		return 0
	}
	n := size / defaultChunkSize
	if size%defaultChunkSize != 0 {
		n++
	}
	return int(n)
}

// orderOps sorts a plan's operations so parent directories precede
// their children, deletes follow creates at the same depth, and
// otherwise falls back to lexical path order for determinism (§4.F
// step 4).
func orderOps(ops []SyncOp) {
	sort.SliceStable(ops, func(i, j int) bool {
		a, b := ops[i], ops[j]
		da, db := depth(a.Path), depth(b.Path)
		if da != db {
			return da < db
		}
		pa, pb := phaseRank(a.Kind), phaseRank(b.Kind)
		if pa != pb {
			return pa < pb
		}
		return a.Path < b.Path
	})
}

func depth(path string) int {
	return strings.Count(path, "/")
}

// phaseRank orders creates/renames before deletes at the same depth so
// a later create never collides with a not-yet-processed delete.
func phaseRank(k OpKind) int {
	switch k {
	case OpCreate, OpRename, OpModify:
		return 0
	case OpDelete:
		return 1
	default:
		return 2
	}
}
