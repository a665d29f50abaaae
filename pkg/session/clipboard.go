// clipboard.go implements the Clipboard Share/Receive and Clipboard
// Sync session kinds (§4.G "Clipboard share/receive", "Clipboard sync
// (bidirectional, live)"). OS clipboard access is abstracted behind
// Clipboard so this package stays testable without a real display
// server; platform-specific implementations live outside pkg/session.
package session

import (
	"sync"

	"github.com/sanchxt/ldrop/pkg/constants"
	"github.com/sanchxt/ldrop/pkg/crypto"
	"github.com/sanchxt/ldrop/pkg/ldroperr"
	"github.com/sanchxt/ldrop/pkg/protocol"
	"github.com/sanchxt/ldrop/pkg/sharecode"
	"github.com/sanchxt/ldrop/pkg/transfer"
	"github.com/sanchxt/ldrop/pkg/wire"
)

// Content is one clipboard payload: text has Width=Height=0, an image
// carries its pixel dimensions (§4.A ClipboardData binary layout).
type Content struct {
	ContentType string
	Data        []byte
	Width       uint32
	Height      uint32
}

func (c Content) checksum() uint64 { return crypto.XXHash64(c.Data) }

// Clipboard abstracts OS clipboard I/O so session driver code never
// touches a display server directly.
type Clipboard interface {
	Read() (Content, error)
	Write(Content) error
}

// RunClipboardShareSender drives the one-shot sender side (§4.G
// "Clipboard share/receive"): Hello -> CodeVerify -> ClipboardMeta ->
// wait for accept/decline -> ClipboardData -> wait for checksum ack ->
// TransferComplete.
func RunClipboardShareSender(s *Session, code sharecode.Code, local HelloInfo, content Content) error {
	conn := s.Conn()

	if err := wire.WriteJSON(conn, constants.MsgHello, wire.HelloPayload{
		Name: local.Name, Version: constants.ProtocolVersionMajor, DeviceID: local.DeviceID, PublicKey: local.PubKey,
	}); err != nil {
		return err
	}
	if _, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout); err != nil {
		return err
	}

	sessionKey, err := crypto.DeriveSessionKey(code.String())
	if err != nil {
		return err
	}
	if err := wire.WriteJSON(conn, constants.MsgCodeVerify, wire.CodeVerifyPayload{
		HMAC: crypto.HMACSHA256(sessionKey[:], []byte(code.String())),
	}); err != nil {
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

	checksum := content.checksum()
	if err := wire.WriteJSON(conn, constants.MsgClipboardMeta, wire.ClipboardMetaPayload{
		ContentType: content.ContentType, Size: int64(len(content.Data)), Checksum: checksum,
	}); err != nil {
		return err
	}
	metaAckFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	var metaAck wire.ClipboardAckPayload
	if err := wire.DecodeJSON(metaAckFrame, &metaAck); err != nil {
		return err
	}
	if !metaAck.Success {
		s.Progress.Cancel()
		return ldroperr.TransferRejected()
	}

	data := wire.EncodeClipboardData(wire.ClipboardDataPayload{Width: content.Width, Height: content.Height, Data: content.Data})
	if err := wire.WriteFrame(conn, constants.MsgClipboardData, data); err != nil {
		return ldroperr.IOError(err)
	}
	dataAckFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	var dataAck wire.ClipboardAckPayload
	if err := wire.DecodeJSON(dataAckFrame, &dataAck); err != nil {
		return err
	}
	if !dataAck.Success {
		return ldroperr.ChecksumMismatch(0, 0)
	}

	if err := wire.WriteFrame(conn, constants.MsgTransferComplete, nil); err != nil {
		return ldroperr.IOError(err)
	}
	s.Progress.Advance(transfer.Completed, 0, int64(len(content.Data)), int64(len(content.Data)))
	return nil
}

// RunClipboardShareReceiver drives the one-shot receiver side. decide
// is offered the metadata before any bytes are transferred.
func RunClipboardShareReceiver(s *Session, code sharecode.Code, local HelloInfo, clip Clipboard, decide func(wire.ClipboardMetaPayload) bool) error {
	conn := s.Conn()
	machine := protocol.NewMachine(protocol.ClipboardShareReceivePhases())

	helloFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	if err := machine.Expect(helloFrame.Type); err != nil {
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
	success := crypto.ConstantTimeEqual(crypto.HMACSHA256(sessionKey[:], []byte(code.String())), verify.HMAC)
	if err := wire.WriteJSON(conn, constants.MsgCodeVerifyAck, wire.CodeVerifyAckPayload{Success: success}); err != nil {
		return err
	}
	if !success {
		return ldroperr.CodeNotFound(code.String())
	}

	metaFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	if err := machine.Expect(metaFrame.Type); err != nil {
		return err
	}
	var meta wire.ClipboardMetaPayload
	if err := wire.DecodeJSON(metaFrame, &meta); err != nil {
		return err
	}

	accept := decide(meta)
	if err := wire.WriteJSON(conn, constants.MsgClipboardAck, wire.ClipboardAckPayload{Success: accept}); err != nil {
		return err
	}
	if !accept {
		s.Progress.Cancel()
		return ldroperr.TransferRejected()
	}

	dataFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	if err := machine.Expect(dataFrame.Type); err != nil {
		return err
	}
	data, err := wire.DecodeClipboardData(dataFrame.Payload)
	if err != nil {
		return err
	}
	ok := crypto.XXHash64(data.Data) == meta.Checksum
	if err := wire.WriteJSON(conn, constants.MsgClipboardAck, wire.ClipboardAckPayload{Success: ok}); err != nil {
		return err
	}
	if !ok {
		return ldroperr.ChecksumMismatch(0, 0)
	}
	if err := clip.Write(Content{ContentType: meta.ContentType, Data: data.Data, Width: data.Width, Height: data.Height}); err != nil {
		return ldroperr.IOError(err)
	}

	completeFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	if completeFrame.Type != constants.MsgTransferComplete {
		return ldroperr.UnexpectedMessage(wire.MessageName(constants.MsgTransferComplete), wire.MessageName(completeFrame.Type))
	}
	s.Progress.Advance(transfer.Completed, 0, int64(len(data.Data)), int64(len(data.Data)))
	return nil
}

// syncSharedState is shared between the outbound and inbound loops of
// one Clipboard Sync session (§4.H: "the stream is split read/write;
// each half is guarded by its own mutex"): lastRemoteHash/haveRemote
// implement the anti-echo invariant (§8 Invariant 6), cached/haveCached
// hold the most recent local content so ClipboardRequest can be
// answered without re-reading the OS clipboard.
type syncSharedState struct {
	mu             sync.Mutex
	lastRemoteHash uint64
	haveRemote     bool
	cached         Content
	haveCached     bool
}

// NewSyncSharedState creates the mutex-guarded state one Clipboard Sync
// session's outbound and inbound loops share.
func NewSyncSharedState() *syncSharedState {
	return &syncSharedState{}
}

// RunClipboardSyncOutbound consumes local clipboard-change
// notifications from changes and publishes them, suppressing any
// change whose hash equals the last hash received from the peer (the
// anti-echo invariant). It runs until s.Done() closes.
func RunClipboardSyncOutbound(s *Session, state *syncSharedState, changes <-chan Content) error {
	for {
		select {
		case <-s.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			h := c.checksum()
			state.mu.Lock()
			suppress := state.haveRemote && state.lastRemoteHash == h
			state.cached = c
			state.haveCached = true
			state.mu.Unlock()
			if suppress {
				continue
			}
			if err := s.WriteJSON(constants.MsgClipboardChanged, wire.ClipboardChangedPayload{
				ContentType: c.ContentType, Size: int64(len(c.Data)), Checksum: h,
			}); err != nil {
				return err
			}
		}
	}
}

// RunClipboardSyncInbound reads frames from the peer and reacts:
// ClipboardRequest answers with the cached content; ClipboardChanged
// triggers a ClipboardRequest/ClipboardData round-trip, verification,
// and a local write with the anti-echo hash set first; ClipboardAck is
// a no-op past this loop. Ping/Pong interleave transparently.
func RunClipboardSyncInbound(s *Session, state *syncSharedState, clip Clipboard) error {
	conn := s.Conn()
	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			select {
			case <-s.Done():
				return nil
			default:
				return err
			}
		}

		switch frame.Type {
		case constants.MsgPing:
			if err := s.WriteFrame(constants.MsgPong, nil); err != nil {
				return err
			}
		case constants.MsgPong:
			// no-op
		case constants.MsgClipboardRequest:
			state.mu.Lock()
			cached, haveCached := state.cached, state.haveCached
			state.mu.Unlock()
			if !haveCached {
				continue
			}
			data := wire.EncodeClipboardData(wire.ClipboardDataPayload{Width: cached.Width, Height: cached.Height, Data: cached.Data})
			if err := s.WriteFrame(constants.MsgClipboardData, data); err != nil {
				return err
			}
		case constants.MsgClipboardChanged:
			var changed wire.ClipboardChangedPayload
			if err := wire.DecodeJSON(frame, &changed); err != nil {
				return err
			}
			if err := s.WriteFrame(constants.MsgClipboardRequest, nil); err != nil {
				return err
			}
			dataFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
			if err != nil {
				return err
			}
			data, err := wire.DecodeClipboardData(dataFrame.Payload)
			if err != nil {
				return err
			}
			if crypto.XXHash64(data.Data) != changed.Checksum {
				s.WriteJSON(constants.MsgClipboardAck, wire.ClipboardAckPayload{Success: false, Error: "checksum mismatch"})
				continue
			}

			state.mu.Lock()
			state.lastRemoteHash = changed.Checksum
			state.haveRemote = true
			state.mu.Unlock()

			if err := clip.Write(Content{ContentType: changed.ContentType, Data: data.Data, Width: data.Width, Height: data.Height}); err != nil {
				s.WriteJSON(constants.MsgClipboardAck, wire.ClipboardAckPayload{Success: false, Error: err.Error()})
				continue
			}
			if err := s.WriteJSON(constants.MsgClipboardAck, wire.ClipboardAckPayload{Success: true}); err != nil {
				return err
			}
		case constants.MsgClipboardAck:
			// sender-side stats only; nothing to do on the inbound loop.
		default:
			return ldroperr.ProtocolError("clipboard sync: unexpected message " + wire.MessageName(frame.Type))
		}
	}
}
