// Package resume implements the Resume manager (§4.I): persisting and
// restoring ResumeState as an atomic dot-file in the transfer's output
// directory.
package resume

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sanchxt/ldrop/pkg/ldroperr"
)

// State is the ResumeState entity (§3). Owned exclusively by the
// receive session's main loop; updated on every successful chunk ack.
type State struct {
	TransferID          string           `json:"transfer_id"`
	Code                string           `json:"code,omitempty"`
	Files               []string         `json:"files"`
	CompletedChunks     map[int][]uint64 `json:"completed_chunks"`
	CompletedFileHashes map[int]string   `json:"completed_file_hashes"`
	SenderDeviceID      string           `json:"sender_device_id"`
	OutputDir           string           `json:"output_dir"`
	StartedAt           int64            `json:"started_at"`
	UpdatedAt           int64            `json:"updated_at"`
	BytesReceived       int64            `json:"bytes_received"`
	TotalBytes          int64            `json:"total_bytes"`
	ProtocolVersion     string           `json:"protocol_version"`
}

const filePrefix = "."
const fileSuffix = ".ldrop-resume.json"

// pathFor returns the dot-file path for a transfer under outputDir.
func pathFor(outputDir, transferID string) string {
	return filepath.Join(outputDir, filePrefix+transferID+fileSuffix)
}

// New creates a fresh ResumeState for a starting transfer.
func New(transferID, code, senderDeviceID, outputDir string, files []string, totalBytes int64, startedAt int64, protocolVersion string) *State {
	return &State{
		TransferID:          transferID,
		Code:                code,
		Files:               files,
		CompletedChunks:     make(map[int][]uint64),
		CompletedFileHashes: make(map[int]string),
		SenderDeviceID:      senderDeviceID,
		OutputDir:           outputDir,
		StartedAt:           startedAt,
		UpdatedAt:           startedAt,
		TotalBytes:          totalBytes,
		ProtocolVersion:     protocolVersion,
	}
}

// MarkChunkComplete records a successfully-acked chunk, enforcing the
// monotonicity invariant (§8 Invariant 4): bytes_received never
// decreases.
func (s *State) MarkChunkComplete(fileIdx int, chunkIdx uint64, chunkBytes int64, now int64) {
	s.CompletedChunks[fileIdx] = appendSorted(s.CompletedChunks[fileIdx], chunkIdx)
	s.BytesReceived += chunkBytes
	s.UpdatedAt = now
}

// MarkFileComplete records the whole-file SHA-256 once every chunk of
// fileIdx is present in CompletedChunks (§3 invariant: a file index
// appears in CompletedFileHashes only once all its chunks are
// complete). totalChunks is the file's chunk count.
func (s *State) MarkFileComplete(fileIdx int, totalChunks int, sha256Hex string, now int64) error {
	if len(s.CompletedChunks[fileIdx]) != totalChunks {
		return ldroperr.Internal(fmt.Sprintf("file %d: %d/%d chunks complete, cannot mark file hash yet", fileIdx, len(s.CompletedChunks[fileIdx]), totalChunks))
	}
	s.CompletedFileHashes[fileIdx] = sha256Hex
	s.UpdatedAt = now
	return nil
}

func appendSorted(chunks []uint64, idx uint64) []uint64 {
	for _, c := range chunks {
		if c == idx {
			return chunks
		}
	}
	chunks = append(chunks, idx)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i] < chunks[j] })
	return chunks
}

// Save atomically persists the state (write-temp + rename, §4.I).
func (s *State) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return ldroperr.Internal(fmt.Sprintf("marshal resume state: %v", err))
	}
	target := pathFor(s.OutputDir, s.TransferID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return ldroperr.IOError(err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return ldroperr.IOError(err)
	}
	return nil
}

// Load reads a persisted ResumeState from outputDir for transferID.
func Load(outputDir, transferID string) (*State, error) {
	data, err := os.ReadFile(pathFor(outputDir, transferID))
	if err != nil {
		return nil, ldroperr.IOError(err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, ldroperr.Internal(fmt.Sprintf("unmarshal resume state: %v", err))
	}
	return &s, nil
}

// Delete removes the persisted dot-file after an orderly
// TransferComplete (§4.I).
func Delete(outputDir, transferID string) error {
	err := os.Remove(pathFor(outputDir, transferID))
	if err != nil && !os.IsNotExist(err) {
		return ldroperr.IOError(err)
	}
	return nil
}

// List enumerates every resume dot-file under outputDir, validating
// that its protocol_version carries the expected major-version prefix
// before offering it for resume (§4.I: "callers list these files,
// validate protocol_version prefix, and offer resume").
func List(outputDir, expectedMajorPrefix string) ([]*State, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ldroperr.IOError(err)
	}

	var states []*State
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outputDir, name))
		if err != nil {
			continue
		}
		var s State
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		if !strings.HasPrefix(s.ProtocolVersion, expectedMajorPrefix) {
			continue
		}
		states = append(states, &s)
	}
	return states, nil
}
