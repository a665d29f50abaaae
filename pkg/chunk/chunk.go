// Package chunk implements the Chunker and Writer components (§4.C):
// splitting a file into fixed-size xxHash64-checksummed chunks, and two
// writer modes (streaming and resumable) that reconstruct it.
package chunk

import (
	"fmt"
	"io"
	"os"

	"github.com/sanchxt/ldrop/pkg/crypto"
	"github.com/sanchxt/ldrop/pkg/ldroperr"
)

// Chunk is one FileChunk (§3): data.len() <= chunk size, only the final
// chunk of a file may be short.
type Chunk struct {
	FileIndex  int
	ChunkIndex uint64
	Data       []byte
	Checksum   uint64
	IsLast     bool
}

// ChunkFile splits the file at path into chunks of at most chunkSize
// bytes. A zero-byte file returns zero chunks (§4.C: the session layer
// signals this as chunks=0 in ChunkStart).
func ChunkFile(path string, fileIndex int, chunkSize int) ([]Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ldroperr.FileNotFound(path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, ldroperr.IOError(err)
	}
	if info.Size() == 0 {
		return nil, nil
	}

	return chunkReader(f, fileIndex, chunkSize)
}

func chunkReader(r io.Reader, fileIndex int, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, ldroperr.Internal("chunk size must be positive")
	}

	var chunks []Chunk
	buf := make([]byte, chunkSize)
	var idx uint64

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			chunks = append(chunks, Chunk{
				FileIndex:  fileIndex,
				ChunkIndex: idx,
				Data:       data,
				Checksum:   crypto.XXHash64(data),
			})
			idx++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, ldroperr.IOError(err)
		}
	}

	if len(chunks) > 0 {
		chunks[len(chunks)-1].IsLast = true
	}
	return chunks, nil
}

// VerifyChunk checks that chunk.Checksum matches xxHash64(chunk.Data)
// (§8 Invariant 2).
func VerifyChunk(c Chunk) error {
	if crypto.XXHash64(c.Data) != c.Checksum {
		return ldroperr.ChecksumMismatch(c.FileIndex, c.ChunkIndex)
	}
	return nil
}

// StreamWriter appends chunks strictly in order, maintaining a rolling
// SHA-256 so Finalize is O(1) (§4.C streaming mode).
type StreamWriter struct {
	f        *os.File
	path     string
	nextIdx  uint64
	hashBuf  []byte // unused; the rolling SHA-256 lives in digester
	digester *shaAccumulator
}

// NewStreamWriter creates (or truncates) the file at path for
// sequential chunk writes.
func NewStreamWriter(path string) (*StreamWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, ldroperr.IOError(err)
	}
	return &StreamWriter{f: f, path: path, digester: newSHAAccumulator()}, nil
}

// WriteChunk verifies the chunk's checksum, appends its data, and
// rolls the running SHA-256 forward. Chunks must arrive in order.
func (w *StreamWriter) WriteChunk(c Chunk) error {
	if err := VerifyChunk(c); err != nil {
		return err
	}
	if c.ChunkIndex != w.nextIdx {
		return ldroperr.ProtocolError(fmt.Sprintf("streaming writer expected chunk %d, got %d", w.nextIdx, c.ChunkIndex))
	}
	if _, err := w.f.Write(c.Data); err != nil {
		return ldroperr.IOError(err)
	}
	w.digester.Write(c.Data)
	w.nextIdx++
	return nil
}

// Finalize closes the file and returns the whole-file SHA-256 (§3, §4.C,
// §8 Invariant 3).
func (w *StreamWriter) Finalize() ([32]byte, error) {
	defer w.f.Close()
	if err := w.f.Sync(); err != nil {
		return [32]byte{}, ldroperr.IOError(err)
	}
	return w.digester.Sum(), nil
}

// ResumableWriter accepts chunks at arbitrary offsets, seeking before
// each write; chunk order is not required. Finalize re-reads the whole
// file since a rolling hash would be wrong for out-of-order writes
// (§4.C).
type ResumableWriter struct {
	f    *os.File
	path string
}

// NewResumableWriter preallocates the file at path to expectedSize. If
// an existing file on disk is larger than expected, it is truncated to
// expectedSize at creation time (§9 Open Question 4).
func NewResumableWriter(path string, expectedSize int64) (*ResumableWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, ldroperr.IOError(err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ldroperr.IOError(err)
	}
	if info.Size() > expectedSize || info.Size() < expectedSize {
		if err := f.Truncate(expectedSize); err != nil {
			f.Close()
			return nil, ldroperr.IOError(err)
		}
	}

	return &ResumableWriter{f: f, path: path}, nil
}

// WriteChunkAt verifies the chunk's checksum then writes it at
// chunkIndex*chunkSize (the caller-supplied offset).
func (w *ResumableWriter) WriteChunkAt(c Chunk, offset int64) error {
	if err := VerifyChunk(c); err != nil {
		return err
	}
	if _, err := w.f.Seek(offset, io.SeekStart); err != nil {
		return ldroperr.IOError(err)
	}
	if _, err := w.f.Write(c.Data); err != nil {
		return ldroperr.IOError(err)
	}
	return nil
}

// Finalize closes the file and re-reads it to compute the whole-file
// SHA-256.
func (w *ResumableWriter) Finalize() ([32]byte, error) {
	defer w.f.Close()
	if err := w.f.Sync(); err != nil {
		return [32]byte{}, ldroperr.IOError(err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return [32]byte{}, ldroperr.IOError(err)
	}
	sum, err := crypto.SHA256Stream(w.f)
	if err != nil {
		return [32]byte{}, ldroperr.IOError(err)
	}
	return sum, nil
}
