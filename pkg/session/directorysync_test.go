package session

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sanchxt/ldrop/pkg/crypto"
	"github.com/sanchxt/ldrop/pkg/fsindex"
	"github.com/sanchxt/ldrop/pkg/syncengine"
)

// TestDirSyncChannelConcurrentOpsDoNotInterleave exercises §5's concern
// directly: the outbound sender and the live watch loop are two
// independent producers of ops on one DirSyncChannel, so two sendOneOp
// calls racing against each other must neither corrupt each other's
// frame sequence nor misroute each other's acks. Both land correctly
// at the peer even when submitted from concurrent goroutines.
func TestDirSyncChannelConcurrentOpsDoNotInterleave(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	dataA := []byte("file a contents, used to check independent op delivery")
	dataB := []byte("file b contents, a little bit different and longer than a")
	if err := os.WriteFile(filepath.Join(srcRoot, "a.txt"), dataA, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcRoot, "b.txt"), dataB, 0644); err != nil {
		t.Fatal(err)
	}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientSession := New(KindDirectorySync, clientConn, 0)
	serverSession := New(KindDirectorySync, serverConn, 0)
	clientD := NewDirSyncChannel(clientSession)
	serverD := NewDirSyncChannel(serverSession)

	serverDone := make(chan error, 1)
	go func() { serverDone <- RunDirectorySyncReceive(serverD, dstRoot, true) }()

	// the client only sends in this test, but still needs its own
	// receive loop running to catch the SyncOpAck frames the server
	// sends back and route them to the waiting sendOneOp calls.
	clientDone := make(chan error, 1)
	go func() { clientDone <- RunDirectorySyncReceive(clientD, srcRoot, true) }()

	opA := syncengine.SyncOp{
		Kind: syncengine.OpCreate, Path: "a.txt", EntryKind: fsindex.KindFile,
		Size: int64(len(dataA)), ContentHash: crypto.XXHash64(dataA), ChunkCount: chunkCountFor(int64(len(dataA))),
	}
	opB := syncengine.SyncOp{
		Kind: syncengine.OpCreate, Path: "b.txt", EntryKind: fsindex.KindFile,
		Size: int64(len(dataB)), ContentHash: crypto.XXHash64(dataB), ChunkCount: chunkCountFor(int64(len(dataB))),
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = sendOneOp(clientD, srcRoot, 101, opA)
	}()
	go func() {
		defer wg.Done()
		errs[1] = sendOneOp(clientD, srcRoot, 102, opB)
	}()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
	}

	clientSession.Cancel()
	serverSession.Cancel()
	<-serverDone
	<-clientDone

	gotA, err := os.ReadFile(filepath.Join(dstRoot, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(gotA) != string(dataA) {
		t.Fatalf("a.txt: got %q, want %q", gotA, dataA)
	}
	gotB, err := os.ReadFile(filepath.Join(dstRoot, "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(gotB) != string(dataB) {
		t.Fatalf("b.txt: got %q, want %q", gotB, dataB)
	}
}

// TestRunDirectorySyncSendSuppressesDeletesWhenDisabled covers the
// simpler sequential path through RunDirectorySyncSend/
// RunDirectorySyncReceive: a delete op is suppressed when
// sync_deletions is false, matching §4.F.
func TestRunDirectorySyncSendSuppressesDeletesWhenDisabled(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(dstRoot, "keep.txt"), []byte("keep me"), 0644); err != nil {
		t.Fatal(err)
	}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientD := NewDirSyncChannel(New(KindDirectorySync, clientConn, 0))
	serverD := NewDirSyncChannel(New(KindDirectorySync, serverConn, 0))

	serverDone := make(chan error, 1)
	go func() { serverDone <- RunDirectorySyncReceive(serverD, dstRoot, false) }()
	clientDone := make(chan error, 1)
	go func() { clientDone <- RunDirectorySyncReceive(clientD, srcRoot, false) }()

	ops := []syncengine.SyncOp{{Kind: syncengine.OpDelete, Path: "keep.txt", EntryKind: fsindex.KindFile}}
	counter := uint64(200)
	nextOpID := func() uint64 { counter++; return counter }

	if err := RunDirectorySyncSend(clientD, srcRoot, ops, nextOpID); err != nil {
		t.Fatalf("send: %v", err)
	}

	clientD.s.Cancel()
	serverD.s.Cancel()
	<-serverDone
	<-clientDone

	if _, err := os.Stat(filepath.Join(dstRoot, "keep.txt")); err != nil {
		t.Fatalf("expected keep.txt to survive a suppressed delete: %v", err)
	}
}
