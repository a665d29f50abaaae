package session

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/sanchxt/ldrop/pkg/chunk"
	"github.com/sanchxt/ldrop/pkg/constants"
	"github.com/sanchxt/ldrop/pkg/resume"
	"github.com/sanchxt/ldrop/pkg/sharecode"
	"github.com/sanchxt/ldrop/pkg/wire"
)

func writeTempFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestShareRoundTripTransfersFile exercises S1: a small single-file
// share over a connected pipe, sender and receiver driven concurrently,
// and checks the received bytes match.
func TestShareRoundTripTransfersFile(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	want := []byte("the quick brown fox jumps over the lazy dog")
	srcPath := writeTempFile(t, srcDir, "fox.txt", want)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	code, err := sharecode.New()
	if err != nil {
		t.Fatal(err)
	}

	senderSession := New(KindShare, clientConn, int64(len(want)))
	receiverSession := New(KindReceive, serverConn, int64(len(want)))

	senderErrCh := make(chan error, 1)
	go func() {
		local := HelloInfo{Name: "sender", DeviceID: "sender-1", PubKey: "pk-sender"}
		files := []ShareFile{{Path: srcPath, RelativePath: "fox.txt", Size: int64(len(want))}}
		senderErrCh <- RunShareSender(senderSession, code, local, files, "")
	}()

	receiverErrCh := make(chan error, 1)
	go func() {
		local := HelloInfo{Name: "receiver", DeviceID: "receiver-1", PubKey: "pk-receiver"}
		receiverErrCh <- RunShareReceiver(receiverSession, code, local, dstDir, func(wire.FileListPayload) ReceiveDecision {
			return ReceiveDecision{Accept: true}
		})
	}()

	if err := <-senderErrCh; err != nil {
		t.Fatalf("sender: %v", err)
	}
	if err := <-receiverErrCh; err != nil {
		t.Fatalf("receiver: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dstDir, "fox.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// TestShareRejectsWrongCode covers S5: a receiver whose HMAC check
// fails must reject code_verify and neither side should hang.
func TestShareRejectsWrongCode(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()
	srcPath := writeTempFile(t, srcDir, "secret.txt", []byte("shh"))

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	senderCode, err := sharecode.New()
	if err != nil {
		t.Fatal(err)
	}
	receiverCode, err := sharecode.New()
	if err != nil {
		t.Fatal(err)
	}
	if senderCode == receiverCode {
		t.Fatal("expected distinct codes for a mismatch test")
	}

	senderSession := New(KindShare, clientConn, 3)
	receiverSession := New(KindReceive, serverConn, 3)

	senderErrCh := make(chan error, 1)
	go func() {
		local := HelloInfo{Name: "sender", DeviceID: "sender-1", PubKey: "pk-sender"}
		files := []ShareFile{{Path: srcPath, RelativePath: "secret.txt", Size: 3}}
		senderErrCh <- RunShareSender(senderSession, senderCode, local, files, "")
	}()

	receiverErrCh := make(chan error, 1)
	go func() {
		local := HelloInfo{Name: "receiver", DeviceID: "receiver-1", PubKey: "pk-receiver"}
		receiverErrCh <- RunShareReceiver(receiverSession, receiverCode, local, dstDir, func(wire.FileListPayload) ReceiveDecision {
			return ReceiveDecision{Accept: true}
		})
	}()

	if err := <-senderErrCh; err == nil {
		t.Fatal("expected sender to observe code rejection")
	}
	if err := <-receiverErrCh; err == nil {
		t.Fatal("expected receiver to report the HMAC mismatch")
	}
}

// TestShareResumePicksUpRemainingChunks covers S4: a receiver that
// already has a ResumeState recording the first of three chunks
// complete only reads the remaining two chunks over the wire, and ends
// up with an identical file. The prior kill is simulated directly by
// seeding the ResumeState and partial output file on disk, since
// net.Pipe gives no deterministic way to sever a transfer at an exact
// chunk boundary.
func TestShareResumePicksUpRemainingChunks(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	// three chunks: two full (constants.DefaultChunkSize each) and one
	// partial, so the resumed run exercises both a full-size and a
	// short final chunk.
	full := constants.DefaultChunkSize
	want := make([]byte, full*2+100)
	for i := range want {
		want[i] = byte(i % 251)
	}
	srcPath := writeTempFile(t, srcDir, "big.bin", want)

	code, err := sharecode.New()
	if err != nil {
		t.Fatal(err)
	}
	local := HelloInfo{Name: "peer", DeviceID: "peer-1", PubKey: "pk"}
	files := []ShareFile{{Path: srcPath, RelativePath: "big.bin", Size: int64(len(want))}}

	const transferID = "test-fixed-transfer-id"
	dstPath := filepath.Join(dstDir, "big.bin")

	chunks, err := chunk.ChunkFile(srcPath, 0, constants.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	writer, err := chunk.NewResumableWriter(dstPath, int64(len(want)))
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.WriteChunkAt(chunks[0], 0); err != nil {
		t.Fatal(err)
	}
	if _, err := writer.Finalize(); err != nil {
		t.Fatal(err)
	}

	resumeState := resume.New(transferID, code.String(), local.DeviceID, dstDir, []string{"big.bin"}, int64(len(want)), 1000, protocolVersionString())
	resumeState.MarkChunkComplete(0, 0, int64(len(chunks[0].Data)), 1001)
	if err := resumeState.Save(); err != nil {
		t.Fatal(err)
	}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	senderErrCh := make(chan error, 1)
	go func() {
		senderErrCh <- RunShareSender(New(KindShare, clientConn, int64(len(want))), code, local, files, transferID)
	}()
	var willResume bool
	receiverErrCh := make(chan error, 1)
	go func() {
		receiverErrCh <- RunShareReceiver(New(KindReceive, serverConn, int64(len(want))), code, local, dstDir, func(list wire.FileListPayload) ReceiveDecision {
			willResume = list.TransferID == transferID
			return ReceiveDecision{Accept: true}
		})
	}()

	if err := <-senderErrCh; err != nil {
		t.Fatalf("resumed sender: %v", err)
	}
	if err := <-receiverErrCh; err != nil {
		t.Fatalf("resumed receiver: %v", err)
	}
	if !willResume {
		t.Fatal("expected the offered transfer_id to match the seeded resume state")
	}

	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d bytes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d differs after resume", i)
		}
	}

	if _, err := resume.Load(dstDir, transferID); err == nil {
		t.Fatal("expected resume state to be deleted on successful completion")
	}
}
