package chunk

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/sanchxt/ldrop/pkg/crypto"
)

func deterministicBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 256)
	}
	return b
}

// S1: happy-path share of a 5632-byte deterministic file, chunk size 1024.
func TestChunkFileS1(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s1.bin")
	data := deterministicBytes(5632)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	chunks, err := ChunkFile(path, 0, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 6 {
		t.Fatalf("got %d chunks, want 6", len(chunks))
	}
	wantSizes := []int{1024, 1024, 1024, 1024, 1024, 512}
	for i, c := range chunks {
		if len(c.Data) != wantSizes[i] {
			t.Errorf("chunk %d size = %d, want %d", i, len(c.Data), wantSizes[i])
		}
		if c.Checksum != crypto.XXHash64(c.Data) {
			t.Errorf("chunk %d checksum mismatch", i)
		}
		if err := VerifyChunk(c); err != nil {
			t.Errorf("chunk %d failed verification: %v", i, err)
		}
	}
	if chunks[5].IsLast != true {
		t.Fatal("last chunk must be flagged IsLast")
	}
	for i := 0; i < 5; i++ {
		if chunks[i].IsLast {
			t.Fatalf("chunk %d should not be flagged IsLast", i)
		}
	}

	// Reassemble via StreamWriter and confirm identical SHA-256.
	outPath := filepath.Join(dir, "s1-out.bin")
	w, err := NewStreamWriter(outPath)
	if err != nil {
		t.Fatal(err)
	}
	var written int
	for _, c := range chunks {
		if err := w.WriteChunk(c); err != nil {
			t.Fatal(err)
		}
		written += len(c.Data)
	}
	if written != 5632 {
		t.Fatalf("total bytes transferred = %d, want 5632", written)
	}
	gotSum, err := w.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	wantSum := crypto.SHA256Bytes(data)
	if gotSum != wantSum {
		t.Fatalf("sha256 mismatch: got %x want %x", gotSum, wantSum)
	}

	outData, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if hex.EncodeToString(outData) != hex.EncodeToString(data) {
		t.Fatal("reconstructed file does not match source bytes")
	}
}

// S2: empty file produces zero chunks, SHA-256 of empty string.
func TestChunkFileS2EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.bin")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	chunks, err := ChunkFile(path, 0, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected zero chunks for empty file, got %d", len(chunks))
	}

	outPath := filepath.Join(dir, "empty-out.bin")
	w, err := NewStreamWriter(outPath)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := w.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if hex.EncodeToString(sum[:]) != want {
		t.Fatalf("empty file sha256 = %x, want %s", sum, want)
	}
	info, err := os.Stat(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected zero-byte output file, got %d bytes", info.Size())
	}
}

func TestVerifyChunkRejectsMismatch(t *testing.T) {
	c := Chunk{Data: []byte("hello"), Checksum: 0xFFFFFFFF}
	if err := VerifyChunk(c); err == nil {
		t.Fatal("expected checksum mismatch to be rejected")
	}
}

// S4 groundwork: resumable writer accepts out-of-order chunks and
// produces the same final hash as the uninterrupted streaming path.
func TestResumableWriterOutOfOrder(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	data := deterministicBytes(3 * 1024 * 1024)
	if err := os.WriteFile(srcPath, data, 0644); err != nil {
		t.Fatal(err)
	}

	chunks, err := ChunkFile(srcPath, 0, 1024*1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}

	outPath := filepath.Join(dir, "resumed.bin")
	rw, err := NewResumableWriter(outPath, int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}

	// write chunk 2 first (as if resuming after chunks 0,1 already landed
	// in a prior process), then 0 and 1.
	order := []int{2, 0, 1}
	for _, i := range order {
		c := chunks[i]
		if err := rw.WriteChunkAt(c, int64(i)*1024*1024); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := rw.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	want := crypto.SHA256Bytes(data)
	if sum != want {
		t.Fatalf("resumable reconstruction mismatch: got %x want %x", sum, want)
	}
}

func TestResumableWriterTruncatesOversizedExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oversized.bin")
	if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}

	rw, err := NewResumableWriter(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	rw.f.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 10 {
		t.Fatalf("expected truncation to 10 bytes, got %d", info.Size())
	}
}
