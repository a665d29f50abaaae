// trusted.go implements the codeless Trusted Send/Receive session kind
// (§4.G "Trusted (codeless) handshake") and the first-contact bootstrap
// round (TrustedVerify/TrustedVerifyAck) that SPEC_FULL §12 adds for a
// device-id the responder's trust store has never seen.
package session

import (
	"encoding/base64"

	"github.com/sanchxt/ldrop/pkg/constants"
	"github.com/sanchxt/ldrop/pkg/crypto"
	"github.com/sanchxt/ldrop/pkg/identity"
	"github.com/sanchxt/ldrop/pkg/ldroperr"
	"github.com/sanchxt/ldrop/pkg/protocol"
	"github.com/sanchxt/ldrop/pkg/trust"
	"github.com/sanchxt/ldrop/pkg/wire"
)

const trustNonceSize = 32

// TrustDecision is the caller's answer to "should this peer be trusted
// going forward", asked only the first time a device-id is seen, or
// whenever its stored level is AskEachTime.
type TrustDecision struct {
	Trust bool
	Level trust.Level
}

// RunTrustedSender drives the initiator side of a codeless handshake:
// TrustedHello (self-signed nonce proof) -> wait for TrustedHelloAck,
// answering a TrustedVerify challenge in between if the responder does
// not yet know this device.
func RunTrustedSender(s *Session, id *identity.Identity, local HelloInfo) error {
	conn := s.Conn()

	nonce, err := crypto.RandomNonce(trustNonceSize)
	if err != nil {
		return ldroperr.Internal("generate trusted-hello nonce: " + err.Error())
	}
	hello := wire.TrustedHelloPayload{
		Name: local.Name, Version: constants.ProtocolVersionMajor,
		DeviceID: id.DeviceID(), PublicKey: id.PublicKeyBase64(),
		Nonce: nonce, NonceSig: id.Sign(nonce),
	}
	if err := wire.WriteJSON(conn, constants.MsgTrustedHello, hello); err != nil {
		return err
	}

	frame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}

	if frame.Type == constants.MsgTrustedVerify {
		var challenge wire.TrustedVerifyPayload
		if err := wire.DecodeJSON(frame, &challenge); err != nil {
			return err
		}
		if err := wire.WriteJSON(conn, constants.MsgTrustedVerifAck, wire.TrustedVerifyAckPayload{
			ChallengeSig: id.Sign(challenge.Challenge),
		}); err != nil {
			return err
		}
		frame, err = wire.ReadFrameWithTimeout(conn, handshakeTimeout)
		if err != nil {
			return err
		}
	}

	if frame.Type != constants.MsgTrustedHelloAck {
		return ldroperr.UnexpectedMessage(wire.MessageName(constants.MsgTrustedHelloAck), wire.MessageName(frame.Type))
	}
	var ack wire.TrustedHelloAckPayload
	if err := wire.DecodeJSON(frame, &ack); err != nil {
		return err
	}
	if !ack.Trusted {
		return ldroperr.DeviceNotTrusted(ack.Error)
	}
	if !crypto.Verify(mustDecodePub(ack.PublicKey), hello.Nonce, ack.NonceSig) {
		return ldroperr.SignatureInvalid()
	}
	return nil
}

// RunTrustedReceiver drives the responder side. store is consulted for
// an existing record; an unknown device-id triggers the
// TrustedVerify/TrustedVerifyAck bootstrap round before decide is
// called so the caller can choose whether (and at what trust level) to
// remember this device.
func RunTrustedReceiver(s *Session, id *identity.Identity, local HelloInfo, store trust.Store, decide func(deviceID, name string, firstContact bool) TrustDecision) error {
	conn := s.Conn()
	machine := protocol.NewMachine(protocol.TrustedPhases())

	helloFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return err
	}
	if err := machine.Expect(helloFrame.Type); err != nil {
		return err
	}
	var hello wire.TrustedHelloPayload
	if err := wire.DecodeJSON(helloFrame, &hello); err != nil {
		return err
	}

	existing, known, err := store.Find(hello.DeviceID)
	if err != nil {
		return ldroperr.Internal("read trust store: " + err.Error())
	}
	if known && existing.PublicKey != hello.PublicKey {
		wire.WriteJSON(conn, constants.MsgTrustedHelloAck, wire.TrustedHelloAckPayload{
			Trusted: false, Error: "public key does not match stored record",
		})
		return ldroperr.DeviceNotTrusted("public key mismatch for known device")
	}

	if !crypto.Verify(mustDecodePub(hello.PublicKey), hello.Nonce, hello.NonceSig) {
		wire.WriteJSON(conn, constants.MsgTrustedHelloAck, wire.TrustedHelloAckPayload{
			Trusted: false, Error: "nonce signature invalid",
		})
		return ldroperr.SignatureInvalid()
	}

	firstContact := !known
	if firstContact {
		challenge, err := crypto.RandomNonce(trustNonceSize)
		if err != nil {
			return ldroperr.Internal("generate trusted-verify challenge: " + err.Error())
		}
		if err := wire.WriteJSON(conn, constants.MsgTrustedVerify, wire.TrustedVerifyPayload{Challenge: challenge}); err != nil {
			return err
		}
		verifyFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
		if err != nil {
			return err
		}
		var verifyAck wire.TrustedVerifyAckPayload
		if err := wire.DecodeJSON(verifyFrame, &verifyAck); err != nil {
			return err
		}
		if !crypto.Verify(mustDecodePub(hello.PublicKey), challenge, verifyAck.ChallengeSig) {
			wire.WriteJSON(conn, constants.MsgTrustedHelloAck, wire.TrustedHelloAckPayload{
				Trusted: false, Error: "challenge signature invalid",
			})
			return ldroperr.SignatureInvalid()
		}
	}

	decision := TrustDecision{Trust: true, Level: existing.Trust}
	if !known || existing.Trust != trust.LevelFull {
		decision = decide(hello.DeviceID, hello.Name, firstContact)
	}
	if !decision.Trust {
		return wire.WriteJSON(conn, constants.MsgTrustedHelloAck, wire.TrustedHelloAckPayload{
			Trusted: false, Error: "declined by user",
		})
	}

	level := decision.Level
	if level == "" {
		level = trust.LevelAskEachTime
	}
	if err := store.Upsert(trust.Device{
		DeviceID: hello.DeviceID, Name: hello.Name, PublicKey: hello.PublicKey, Trust: level,
	}); err != nil {
		return ldroperr.Internal("update trust store: " + err.Error())
	}

	return wire.WriteJSON(conn, constants.MsgTrustedHelloAck, wire.TrustedHelloAckPayload{
		Trusted: true, Name: local.Name, DeviceID: local.DeviceID, PublicKey: local.PubKey,
		NonceSig: id.Sign(hello.Nonce), TrustLevel: string(level),
	})
}

func mustDecodePub(b64 string) []byte {
	pub, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil
	}
	return pub
}
