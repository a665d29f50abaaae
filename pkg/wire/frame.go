// Package wire implements LDRP framing and payload codecs (§4.A, §6):
// every message on the wire is one length-prefixed frame, carrying
// either a JSON payload or one of the binary chunk encodings.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sanchxt/ldrop/pkg/constants"
	"github.com/sanchxt/ldrop/pkg/ldroperr"
)

// Frame is one decoded LDRP frame: a message type and its raw payload.
// The caller (protocol layer) knows from Type whether to JSON-decode or
// binary-decode Payload.
type Frame struct {
	Type    byte
	Payload []byte
}

// WriteFrame encodes and writes one frame: magic | ver | type | length | payload.
func WriteFrame(w io.Writer, typ byte, payload []byte) error {
	if len(payload) > constants.MaxFramePayload {
		return ldroperr.ProtocolError(fmt.Sprintf("payload too large: %d bytes", len(payload)))
	}

	header := make([]byte, constants.FrameHeaderLen)
	copy(header[0:4], constants.FrameMagic[:])
	header[4] = constants.ProtocolVersionMajor
	header[5] = constants.ProtocolVersionMinor
	header[6] = typ
	binary.BigEndian.PutUint32(header[7:11], uint32(len(payload)))

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(header); err != nil {
		return ldroperr.IOError(err)
	}
	if len(payload) > 0 {
		if _, err := bw.Write(payload); err != nil {
			return ldroperr.IOError(err)
		}
	}
	if err := bw.Flush(); err != nil {
		return ldroperr.IOError(err)
	}
	return nil
}

// ReadFrame reads and decodes exactly one frame from r. A magic
// mismatch, unsupported length, or short read is fatal to the session.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, constants.FrameHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, ldroperr.IOError(err)
	}

	var magic [4]byte
	copy(magic[:], header[0:4])
	if magic != constants.FrameMagic {
		return Frame{}, ldroperr.ProtocolError("bad frame magic")
	}

	typ := header[6]
	length := binary.BigEndian.Uint32(header[7:11])
	if length > constants.MaxFramePayload {
		return Frame{}, ldroperr.ProtocolError(fmt.Sprintf("frame length %d exceeds cap", length))
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, ldroperr.IOError(err)
		}
	}

	return Frame{Type: typ, Payload: payload}, nil
}

// ReadFrameWithTimeout reads one frame, mapping a deadline expiry to
// ldroperr.Timeout (§5).
func ReadFrameWithTimeout(conn net.Conn, timeout time.Duration) (Frame, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Frame{}, ldroperr.IOError(err)
	}
	defer conn.SetReadDeadline(time.Time{})

	f, err := ReadFrame(conn)
	if err != nil {
		if isTimeout(err) {
			return Frame{}, ldroperr.Timeout(int(timeout.Seconds()))
		}
		return Frame{}, err
	}
	return f, nil
}

// WriteFrameWithTimeout writes one frame, mapping a deadline expiry to
// ldroperr.Timeout (§5).
func WriteFrameWithTimeout(conn net.Conn, typ byte, payload []byte, timeout time.Duration) error {
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return ldroperr.IOError(err)
	}
	defer conn.SetWriteDeadline(time.Time{})

	if err := WriteFrame(conn, typ, payload); err != nil {
		if isTimeout(err) {
			return ldroperr.Timeout(int(timeout.Seconds()))
		}
		return err
	}
	return nil
}

func isTimeout(err error) bool {
	le, ok := err.(*ldroperr.Error)
	if !ok || le.Cause == nil {
		return false
	}
	nerr, ok := le.Cause.(net.Error)
	return ok && nerr.Timeout()
}

// WriteJSON frames and writes a JSON-encoded payload of the given type.
func WriteJSON(w io.Writer, typ byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ldroperr.ProtocolError(fmt.Sprintf("encode %T: %v", v, err))
	}
	return WriteFrame(w, typ, data)
}

// DecodeJSON decodes a frame's payload into v.
func DecodeJSON(f Frame, v interface{}) error {
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return ldroperr.ProtocolError(fmt.Sprintf("decode %T: %v", v, err))
	}
	return nil
}
