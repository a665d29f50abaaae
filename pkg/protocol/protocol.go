// Package protocol implements the Protocol State Machine (§4.G): each
// session kind is a linear sequence of phases; at each phase only the
// one named message type is permitted, with Ping/Pong/TransferCancel
// always allowed as universal exceptions.
package protocol

import (
	"fmt"

	"github.com/sanchxt/ldrop/pkg/constants"
	"github.com/sanchxt/ldrop/pkg/ldroperr"
	"github.com/sanchxt/ldrop/pkg/wire"
)

// Phase names one step of a session's linear message sequence.
type Phase struct {
	Name     string
	Expected byte
}

// universalExceptions are permitted at any phase without advancing it
// (§4.G keep-alive note, §12 TransferCancel exception).
var universalExceptions = map[byte]bool{
	constants.MsgPing:           true,
	constants.MsgPong:           true,
	constants.MsgTransferCancel: true,
}

// Machine walks a fixed phase sequence, rejecting any message other
// than the current phase's Expected type (or a universal exception).
type Machine struct {
	phases []Phase
	idx    int
}

// NewMachine creates a Machine over phases, starting at phase zero.
func NewMachine(phases []Phase) *Machine {
	return &Machine{phases: phases}
}

// Expect checks whether msgType is legal at the current phase. A
// universal exception message does not advance the phase cursor. A
// match on the expected type advances to the next phase. Anything else
// yields UnexpectedMessage.
func (m *Machine) Expect(msgType byte) error {
	if universalExceptions[msgType] {
		return nil
	}
	if m.idx >= len(m.phases) {
		return ldroperr.ProtocolError(fmt.Sprintf("session already completed its phase sequence, received %s", wire.MessageName(msgType)))
	}
	want := m.phases[m.idx].Expected
	if msgType != want {
		return ldroperr.UnexpectedMessage(wire.MessageName(want), wire.MessageName(msgType))
	}
	m.idx++
	return nil
}

// CurrentPhase returns the name of the phase the machine is waiting
// on, or "" if the sequence is complete.
func (m *Machine) CurrentPhase() string {
	if m.idx >= len(m.phases) {
		return ""
	}
	return m.phases[m.idx].Name
}

// Done reports whether every phase has been satisfied.
func (m *Machine) Done() bool {
	return m.idx >= len(m.phases)
}

// SkipPhase advances past the current phase without a matching message,
// for a phase that this transfer will never exercise (e.g. chunk_start
// when the file list is empty, so no ChunkStart is ever sent).
func (m *Machine) SkipPhase() {
	if m.idx < len(m.phases) {
		m.idx++
	}
}

// InsertNext splices extra phases in immediately after the current
// phase cursor. A receive session can only learn whether it is
// resuming an interrupted transfer once FileList names the transfer_id
// (§4.G "Resume"), by which point the Machine is already mid-sequence;
// this lets it graft the Resume round in without rebuilding the whole
// phase list.
func (m *Machine) InsertNext(extra []Phase) {
	head := append([]Phase{}, m.phases[:m.idx]...)
	head = append(head, extra...)
	head = append(head, m.phases[m.idx:]...)
	m.phases = head
}

// ResumePhases is the ResumeRequest/ResumeAck pair a receive session
// splices in between the file-list-accept and transfer phases when it
// elects to resume an interrupted transfer (§4.G "Resume"). The
// receive session writes ResumeRequest itself, so its Machine skips
// that phase (SkipPhase) and only Expects the ResumeAck reply.
func ResumePhases() []Phase {
	return []Phase{
		{Name: "resume_request", Expected: constants.MsgResumeRequest},
		{Name: "resume_ack", Expected: constants.MsgResumeAck},
	}
}

// ShareReceivePhases is the code-based share/receive sequence (§4.G
// "Code-based share/receive").
func ShareReceivePhases() []Phase {
	return []Phase{
		{Name: "hello", Expected: constants.MsgHello},
		{Name: "code_verify", Expected: constants.MsgCodeVerify},
		{Name: "file_list", Expected: constants.MsgFileList},
		{Name: "chunk_start", Expected: constants.MsgChunkStart},
		{Name: "transfer_complete", Expected: constants.MsgTransferComplete},
	}
}

// TrustedPhases is the codeless trusted handshake sequence (§4.G
// "Trusted (codeless) handshake"): identical to ShareReceivePhases
// after the handshake, but the first phase is TrustedHello instead of
// Hello and there is no CodeVerify step.
func TrustedPhases() []Phase {
	return []Phase{
		{Name: "trusted_hello", Expected: constants.MsgTrustedHello},
		{Name: "file_list", Expected: constants.MsgFileList},
		{Name: "chunk_start", Expected: constants.MsgChunkStart},
		{Name: "transfer_complete", Expected: constants.MsgTransferComplete},
	}
}

// ClipboardShareReceivePhases is the one-shot clipboard transfer
// sequence (§4.G "Clipboard share/receive").
func ClipboardShareReceivePhases() []Phase {
	return []Phase{
		{Name: "hello", Expected: constants.MsgHello},
		{Name: "code_verify", Expected: constants.MsgCodeVerify},
		{Name: "clipboard_meta", Expected: constants.MsgClipboardMeta},
		{Name: "clipboard_data", Expected: constants.MsgClipboardData},
		{Name: "clipboard_ack", Expected: constants.MsgClipboardAck},
		{Name: "transfer_complete", Expected: constants.MsgTransferComplete},
	}
}

// ClipboardSyncHandshakePhases is the fixed-phase handshake preceding
// the bidirectional clipboard-sync loops (§4.G "Clipboard sync"); the
// loops themselves are not phase-sequenced (either ClipboardChanged or
// ClipboardRequest/Data/Ack may arrive in either order once live).
func ClipboardSyncHandshakePhases() []Phase {
	return []Phase{
		{Name: "hello", Expected: constants.MsgHello},
		{Name: "code_verify", Expected: constants.MsgCodeVerify},
	}
}

// DirectorySyncHandshakePhases is the fixed-phase handshake and initial
// reconciliation round preceding live sync (§4.G "Directory sync").
func DirectorySyncHandshakePhases() []Phase {
	return []Phase{
		{Name: "hello", Expected: constants.MsgHello},
		{Name: "sync_init", Expected: constants.MsgSyncInit},
		{Name: "sync_index", Expected: constants.MsgSyncIndex},
		{Name: "sync_index_ack", Expected: constants.MsgSyncIndexAck},
	}
}
