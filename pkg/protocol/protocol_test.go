package protocol

import (
	"testing"

	"github.com/sanchxt/ldrop/pkg/constants"
)

func TestMachineAcceptsExpectedSequence(t *testing.T) {
	m := NewMachine(ShareReceivePhases())

	seq := []byte{
		constants.MsgHello,
		constants.MsgCodeVerify,
		constants.MsgFileList,
		constants.MsgChunkStart,
		constants.MsgTransferComplete,
	}
	for _, msg := range seq {
		if err := m.Expect(msg); err != nil {
			t.Fatalf("unexpected error on message %x: %v", msg, err)
		}
	}
	if !m.Done() {
		t.Fatal("expected machine to be done after full sequence")
	}
}

func TestMachineRejectsOutOfOrderMessage(t *testing.T) {
	m := NewMachine(ShareReceivePhases())
	if err := m.Expect(constants.MsgFileList); err == nil {
		t.Fatal("expected error when file_list arrives before hello")
	}
}

func TestMachineAllowsPingPongInterleaved(t *testing.T) {
	m := NewMachine(ShareReceivePhases())
	if err := m.Expect(constants.MsgHello); err != nil {
		t.Fatal(err)
	}
	if err := m.Expect(constants.MsgPing); err != nil {
		t.Fatalf("ping should be a universal exception: %v", err)
	}
	if err := m.Expect(constants.MsgPong); err != nil {
		t.Fatalf("pong should be a universal exception: %v", err)
	}
	// phase cursor should not have advanced past code_verify
	if m.CurrentPhase() != "code_verify" {
		t.Fatalf("expected phase still code_verify, got %s", m.CurrentPhase())
	}
}

func TestMachineAllowsTransferCancelAtAnyPhase(t *testing.T) {
	m := NewMachine(ShareReceivePhases())
	m.Expect(constants.MsgHello)
	if err := m.Expect(constants.MsgTransferCancel); err != nil {
		t.Fatalf("transfer cancel should be a universal exception: %v", err)
	}
}

func TestInsertNextSplicesResumePhasesMidSequence(t *testing.T) {
	m := NewMachine(ShareReceivePhases())
	if err := m.Expect(constants.MsgHello); err != nil {
		t.Fatal(err)
	}
	if err := m.Expect(constants.MsgCodeVerify); err != nil {
		t.Fatal(err)
	}
	if err := m.Expect(constants.MsgFileList); err != nil {
		t.Fatal(err)
	}

	// only now, having seen the transfer_id in FileList, does the
	// receive session know it is resuming.
	m.InsertNext(ResumePhases())

	// the receive session writes ResumeRequest itself, so it skips
	// that phase rather than Expecting an incoming frame for it.
	m.SkipPhase()
	if err := m.Expect(constants.MsgResumeAck); err != nil {
		t.Fatalf("unexpected error on resume_ack: %v", err)
	}
	if err := m.Expect(constants.MsgChunkStart); err != nil {
		t.Fatalf("unexpected error on chunk_start: %v", err)
	}
	if err := m.Expect(constants.MsgTransferComplete); err != nil {
		t.Fatalf("unexpected error on transfer_complete: %v", err)
	}
	if !m.Done() {
		t.Fatal("expected machine to be done")
	}
}

func TestTrustedPhasesSkipCodeVerify(t *testing.T) {
	m := NewMachine(TrustedPhases())
	if err := m.Expect(constants.MsgTrustedHello); err != nil {
		t.Fatal(err)
	}
	if err := m.Expect(constants.MsgFileList); err != nil {
		t.Fatalf("trusted handshake should skip straight to file_list: %v", err)
	}
}
