// share.go implements the code-based Share/Receive session kind
// (§4.G "Code-based share/receive", §4.H). The protocol.Machine
// enforces the receiver's linear phase sequence (hello -> code_verify
// -> file_list -> chunk_start -> transfer_complete); once the
// chunk_start phase is entered the per-chunk ChunkStart/ChunkData/
// ChunkAck exchange repeats freely, same as the clipboard-sync and
// directory-sync loops once their handshake phases are satisfied. A
// receiver that finds a matching ResumeState on disk splices a Resume
// round (§4.G "Resume") in right after file_list, before the first
// ChunkStart.
package session

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sanchxt/ldrop/pkg/chunk"
	"github.com/sanchxt/ldrop/pkg/constants"
	"github.com/sanchxt/ldrop/pkg/crypto"
	"github.com/sanchxt/ldrop/pkg/ldroperr"
	"github.com/sanchxt/ldrop/pkg/protocol"
	"github.com/sanchxt/ldrop/pkg/resume"
	"github.com/sanchxt/ldrop/pkg/sharecode"
	"github.com/sanchxt/ldrop/pkg/transfer"
	"github.com/sanchxt/ldrop/pkg/wire"
)

const handshakeTimeout = 10 * time.Second

// ShareFile is one local file offered by a Share session.
type ShareFile struct {
	Path         string // absolute local path; empty for directories
	RelativePath string
	Size         int64
	IsDirectory  bool
}

// HelloInfo is the local side's identification carried on Hello/
// HelloAck (§4.G).
type HelloInfo struct {
	Name     string
	DeviceID string
	PubKey   string
}

// protocolVersionString is the ResumeState.ProtocolVersion stamp
// (§4.I "validate protocol_version prefix").
func protocolVersionString() string {
	return fmt.Sprintf("%d.%d", constants.ProtocolVersionMajor, constants.ProtocolVersionMinor)
}

// RunShareSender drives the sender side of a code-based share session
// over conn: Hello -> CodeVerify -> FileList -> [Resume] -> per-file
// ChunkStart/ChunkData loop -> TransferComplete. The sender follows its
// own fixed write order and only validates the acks it reads back;
// phase enforcement against out-of-order messages is the receiver's
// job. resumeTransferID, if non-empty, re-offers a transfer_id a prior
// attempt was killed mid-way through, so the receiver's ResumeState
// lookup can find it; a fresh share passes "".
func RunShareSender(s *Session, code sharecode.Code, local HelloInfo, files []ShareFile, resumeTransferID string) error {
	conn := s.Conn()

	if err := wire.WriteJSON(conn, constants.MsgHello, wire.HelloPayload{
		Name: local.Name, Version: constants.ProtocolVersionMajor, DeviceID: local.DeviceID, PublicKey: local.PubKey,
	}); err != nil {
		return err
	}
	ackFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	var ack wire.HelloAckPayload
	if err := wire.DecodeJSON(ackFrame, &ack); err != nil {
		return err
	}

	sessionKey, err := crypto.DeriveSessionKey(code.String())
	if err != nil {
		return err
	}
	hmacVal := crypto.HMACSHA256(sessionKey[:], []byte(code.String()))
	if err := wire.WriteJSON(conn, constants.MsgCodeVerify, wire.CodeVerifyPayload{HMAC: hmacVal}); err != nil {
		return err
	}

	verifyFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	var verifyAck wire.CodeVerifyAckPayload
	if err := wire.DecodeJSON(verifyFrame, &verifyAck); err != nil {
		return err
	}
	if !verifyAck.Success {
		return ldroperr.CodeNotFound(code.String())
	}

	transferID := resumeTransferID
	if transferID == "" {
		id, err := uuid.NewRandom()
		if err != nil {
			return ldroperr.Internal(fmt.Sprintf("generate transfer id: %v", err))
		}
		transferID = id.String()
	}

	fileList := wire.FileListPayload{TotalSize: 0, TransferID: transferID}
	for _, f := range files {
		fileList.Files = append(fileList.Files, wire.FileEntry{
			RelativePath: f.RelativePath, Size: f.Size, IsDirectory: f.IsDirectory,
		})
		fileList.TotalSize += f.Size
	}
	if err := wire.WriteJSON(conn, constants.MsgFileList, fileList); err != nil {
		return err
	}

	listAckFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	var listAck wire.FileListAckPayload
	if err := wire.DecodeJSON(listAckFrame, &listAck); err != nil {
		return err
	}
	if !listAck.Accepted {
		s.Progress.Cancel()
		return ldroperr.TransferRejected()
	}

	s.Progress.Advance(transfer.Connected, 0, 0, 0)

	// doneChunks[idx] holds the chunk indices the receiver already has;
	// doneFiles[idx] marks a file the receiver already completed in
	// full, which is never re-sent at all.
	doneChunks := map[int]map[uint64]bool{}
	doneFiles := map[int]bool{}
	if listAck.WillResume {
		reqFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
		if err != nil {
			return err
		}
		if reqFrame.Type != constants.MsgResumeRequest {
			return ldroperr.UnexpectedMessage(wire.MessageName(constants.MsgResumeRequest), wire.MessageName(reqFrame.Type))
		}
		var req wire.ResumeRequestPayload
		if err := wire.DecodeJSON(reqFrame, &req); err != nil {
			return err
		}
		for idx, chunks := range req.CompletedChunks {
			set := make(map[uint64]bool, len(chunks))
			for _, c := range chunks {
				set[c] = true
			}
			doneChunks[idx] = set
		}
		for idx := range req.CompletedFileHashes {
			doneFiles[idx] = true
		}
		if err := wire.WriteJSON(conn, constants.MsgResumeAck, wire.ResumeAckPayload{Accepted: true}); err != nil {
			return err
		}
	}

	var totalSent int64
	for idx, f := range files {
		if doneFiles[idx] {
			continue
		}

		if f.IsDirectory || f.Size == 0 {
			if err := wire.WriteJSON(conn, constants.MsgChunkStart, wire.ChunkStartPayload{FileIndex: idx, ChunkIndex: 0, TotalChunks: 0}); err != nil {
				return err
			}
			if _, err := readChunkAck(conn, idx, 0); err != nil {
				return err
			}
			continue
		}

		chunks, err := chunk.ChunkFile(f.Path, idx, constants.DefaultChunkSize)
		if err != nil {
			return err
		}
		skip := doneChunks[idx]
		for _, c := range chunks {
			if skip[c.ChunkIndex] {
				continue
			}
			if err := wire.WriteJSON(conn, constants.MsgChunkStart, wire.ChunkStartPayload{
				FileIndex: idx, ChunkIndex: c.ChunkIndex, TotalChunks: uint64(len(chunks)),
			}); err != nil {
				return err
			}

			data := wire.EncodeChunkData(wire.ChunkDataPayload{
				FileIndex: uint32(idx), ChunkIndex: c.ChunkIndex, Checksum: c.Checksum, Data: c.Data,
			})
			if err := wire.WriteFrame(conn, constants.MsgChunkData, data); err != nil {
				return ldroperr.IOError(err)
			}

			ok, err := readChunkAck(conn, idx, c.ChunkIndex)
			if err != nil {
				return err
			}
			if !ok {
				return ldroperr.ChecksumMismatch(idx, c.ChunkIndex)
			}
			totalSent += int64(len(c.Data))
			s.Progress.Advance(transfer.Transferring, idx, int64(len(c.Data)), totalSent)
		}
	}

	if err := wire.WriteFrame(conn, constants.MsgTransferComplete, nil); err != nil {
		return ldroperr.IOError(err)
	}
	s.Progress.Advance(transfer.Completed, len(files)-1, 0, totalSent)
	return nil
}

func readChunkAck(conn net.Conn, fileIdx int, chunkIdx uint64) (bool, error) {
	frame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return false, err
	}
	if frame.Type != constants.MsgChunkAck {
		return false, ldroperr.UnexpectedMessage(wire.MessageName(constants.MsgChunkAck), wire.MessageName(frame.Type))
	}
	var ack wire.ChunkAckPayload
	if err := wire.DecodeJSON(frame, &ack); err != nil {
		return false, err
	}
	if ack.FileIndex != fileIdx || ack.ChunkIndex != chunkIdx {
		return false, ldroperr.ProtocolError(fmt.Sprintf("chunk ack mismatch: got file=%d chunk=%d, want file=%d chunk=%d", ack.FileIndex, ack.ChunkIndex, fileIdx, chunkIdx))
	}
	return ack.Success, nil
}

// ReceiveDecision is the caller's (UI's) response to an incoming
// FileList, supplied after StopKeepAlive returns control of the
// stream.
type ReceiveDecision struct {
	Accept        bool
	AcceptedFiles []int // nil means "all"
}

// RunShareReceiver drives the receiver side of a code-based share
// session (§4.G), enforcing phase order via protocol.Machine up to and
// including the first ChunkStart and the final TransferComplete. decide
// is called once the FileList arrives and before FileListAck is sent,
// giving the caller a chance to prompt the user. If a ResumeState
// already exists on disk for the incoming transfer_id, the Resume round
// is spliced in automatically and transfer resumes from the persisted
// progress; otherwise a fresh ResumeState is created and persisted as
// the transfer proceeds, ready to resume a future kill.
func RunShareReceiver(s *Session, code sharecode.Code, local HelloInfo, outputDir string, decide func(wire.FileListPayload) ReceiveDecision) error {
	conn := s.Conn()
	machine := protocol.NewMachine(protocol.ShareReceivePhases())

	helloFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	if err := machine.Expect(helloFrame.Type); err != nil {
		return err
	}
	var hello wire.HelloPayload
	if err := wire.DecodeJSON(helloFrame, &hello); err != nil {
		return err
	}
	if err := wire.WriteJSON(conn, constants.MsgHelloAck, wire.HelloAckPayload{
		Name: local.Name, Version: constants.ProtocolVersionMajor, DeviceID: local.DeviceID, PublicKey: local.PubKey,
	}); err != nil {
		return err
	}

	verifyFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	if err := machine.Expect(verifyFrame.Type); err != nil {
		return err
	}
	var verify wire.CodeVerifyPayload
	if err := wire.DecodeJSON(verifyFrame, &verify); err != nil {
		return err
	}

	sessionKey, err := crypto.DeriveSessionKey(code.String())
	if err != nil {
		return err
	}
	want := crypto.HMACSHA256(sessionKey[:], []byte(code.String()))
	success := crypto.ConstantTimeEqual(want, verify.HMAC)
	if err := wire.WriteJSON(conn, constants.MsgCodeVerifyAck, wire.CodeVerifyAckPayload{Success: success}); err != nil {
		return err
	}
	if !success {
		return ldroperr.CodeNotFound(code.String())
	}

	listFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	if err := machine.Expect(listFrame.Type); err != nil {
		return err
	}
	var fileList wire.FileListPayload
	if err := wire.DecodeJSON(listFrame, &fileList); err != nil {
		return err
	}

	decision := decide(fileList)

	var resumeState *resume.State
	resuming := false
	if decision.Accept && fileList.TransferID != "" {
		if existing, err := resume.Load(outputDir, fileList.TransferID); err == nil {
			resumeState = existing
			resuming = true
		}
	}

	if err := wire.WriteJSON(conn, constants.MsgFileListAck, wire.FileListAckPayload{
		Accepted: decision.Accept, AcceptedFiles: decision.AcceptedFiles, WillResume: resuming,
	}); err != nil {
		return err
	}
	if !decision.Accept {
		s.Progress.Cancel()
		return ldroperr.TransferRejected()
	}

	s.Progress.Advance(transfer.Connected, 0, 0, 0)

	if resuming {
		machine.InsertNext(protocol.ResumePhases())
		// the receiver writes ResumeRequest itself, so the machine
		// skips that phase and only Expects the sender's ResumeAck.
		machine.SkipPhase()
		if err := wire.WriteJSON(conn, constants.MsgResumeRequest, wire.ResumeRequestPayload{
			TransferID:          resumeState.TransferID,
			CompletedChunks:     resumeState.CompletedChunks,
			CompletedFileHashes: resumeState.CompletedFileHashes,
		}); err != nil {
			return err
		}
		resumeAckFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
		if err != nil {
			return err
		}
		if err := machine.Expect(resumeAckFrame.Type); err != nil {
			return err
		}
		var resumeAck wire.ResumeAckPayload
		if err := wire.DecodeJSON(resumeAckFrame, &resumeAck); err != nil {
			return err
		}
		if !resumeAck.Accepted {
			return ldroperr.ProtocolError(fmt.Sprintf("sender refused resume: %s", resumeAck.Reason))
		}
	} else if fileList.TransferID != "" {
		var relPaths []string
		for _, f := range fileList.Files {
			relPaths = append(relPaths, f.RelativePath)
		}
		resumeState = resume.New(fileList.TransferID, code.String(), hello.DeviceID, outputDir, relPaths, fileList.TotalSize, time.Now().Unix(), protocolVersionString())
	}

	enteredChunkPhase := false
	var totalReceived int64
	if resumeState != nil {
		totalReceived = resumeState.BytesReceived
	}

	for idx, entry := range fileList.Files {
		if resumeState != nil {
			if _, done := resumeState.CompletedFileHashes[idx]; done {
				// sender skips already-complete files entirely; no
				// wire traffic to read for this index.
				continue
			}
		}

		startFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
		if err != nil {
			return err
		}
		if !enteredChunkPhase {
			if err := machine.Expect(startFrame.Type); err != nil {
				return err
			}
			enteredChunkPhase = true
		} else if startFrame.Type != constants.MsgChunkStart {
			return ldroperr.UnexpectedMessage(wire.MessageName(constants.MsgChunkStart), wire.MessageName(startFrame.Type))
		}
		var start wire.ChunkStartPayload
		if err := wire.DecodeJSON(startFrame, &start); err != nil {
			return err
		}

		outPath := filepath.Join(outputDir, filepath.FromSlash(entry.RelativePath))
		if entry.IsDirectory || start.TotalChunks == 0 {
			if entry.IsDirectory {
				if err := os.MkdirAll(outPath, 0755); err != nil {
					return ldroperr.IOError(err)
				}
			} else {
				if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
					return ldroperr.IOError(err)
				}
				if err := os.WriteFile(outPath, nil, 0644); err != nil {
					return ldroperr.IOError(err)
				}
			}
			if err := wire.WriteJSON(conn, constants.MsgChunkAck, wire.ChunkAckPayload{FileIndex: idx, ChunkIndex: 0, Success: true}); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return ldroperr.IOError(err)
		}

		var writeChunk func(chunk.Chunk) error
		var finalize func() ([32]byte, error)
		if resumeState != nil {
			writer, err := chunk.NewResumableWriter(outPath, entry.Size)
			if err != nil {
				return err
			}
			writeChunk = func(c chunk.Chunk) error {
				return writer.WriteChunkAt(c, int64(c.ChunkIndex)*int64(constants.DefaultChunkSize))
			}
			finalize = writer.Finalize
		} else {
			writer, err := chunk.NewStreamWriter(outPath)
			if err != nil {
				return err
			}
			writeChunk = writer.WriteChunk
			finalize = writer.Finalize
		}

		already := uint64(0)
		if resumeState != nil {
			already = uint64(len(resumeState.CompletedChunks[idx]))
		}
		received := already
		first := true
		for received < start.TotalChunks {
			cur := start
			if !first {
				nextStart, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
				if err != nil {
					return err
				}
				if nextStart.Type != constants.MsgChunkStart {
					return ldroperr.UnexpectedMessage(wire.MessageName(constants.MsgChunkStart), wire.MessageName(nextStart.Type))
				}
				if err := wire.DecodeJSON(nextStart, &cur); err != nil {
					return err
				}
			}
			first = false

			dataFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
			if err != nil {
				return err
			}
			if dataFrame.Type != constants.MsgChunkData {
				return ldroperr.UnexpectedMessage(wire.MessageName(constants.MsgChunkData), wire.MessageName(dataFrame.Type))
			}
			data, err := wire.DecodeChunkData(dataFrame.Payload)
			if err != nil {
				return err
			}

			c := chunk.Chunk{FileIndex: idx, ChunkIndex: data.ChunkIndex, Data: data.Data, Checksum: data.Checksum}
			writeErr := writeChunk(c)
			ackSuccess := writeErr == nil

			if err := wire.WriteJSON(conn, constants.MsgChunkAck, wire.ChunkAckPayload{
				FileIndex: idx, ChunkIndex: data.ChunkIndex, Success: ackSuccess,
			}); err != nil {
				return err
			}
			if !ackSuccess {
				return writeErr
			}

			totalReceived += int64(len(c.Data))
			received++
			s.Progress.Advance(transfer.Transferring, idx, int64(len(c.Data)), totalReceived)

			if resumeState != nil {
				resumeState.MarkChunkComplete(idx, data.ChunkIndex, int64(len(c.Data)), time.Now().Unix())
				if err := resumeState.Save(); err != nil {
					return err
				}
			}
		}

		sum, err := finalize()
		if err != nil {
			return err
		}
		if resumeState != nil {
			if err := resumeState.MarkFileComplete(idx, int(start.TotalChunks), hex.EncodeToString(sum[:]), time.Now().Unix()); err != nil {
				return err
			}
			if err := resumeState.Save(); err != nil {
				return err
			}
		}
	}

	if !enteredChunkPhase {
		// an empty file list (or one resumed entirely from already-
		// complete files) never produces a ChunkStart, so the machine
		// is still parked at chunk_start; skip it so TransferComplete
		// is accepted at transfer_complete.
		machine.SkipPhase()
	}
	completeFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	if err := machine.Expect(completeFrame.Type); err != nil {
		return err
	}
	if resumeState != nil {
		if err := resume.Delete(outputDir, resumeState.TransferID); err != nil {
			return err
		}
	}
	s.Progress.Advance(transfer.Completed, len(fileList.Files)-1, 0, totalReceived)
	return nil
}
