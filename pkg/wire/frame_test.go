package wire

import (
	"bytes"
	"testing"

	"github.com/sanchxt/ldrop/pkg/constants"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"hello":"world"}`)
	if err := WriteFrame(&buf, constants.MsgHello, payload); err != nil {
		t.Fatal(err)
	}

	f, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != constants.MsgHello {
		t.Fatalf("type = %x, want %x", f.Type, constants.MsgHello)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Fatalf("payload mismatch: got %q want %q", f.Payload, payload)
	}
}

func TestFrameEmptyPayloadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, constants.MsgPing, nil); err != nil {
		t.Fatal(err)
	}
	f, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Payload) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(f.Payload))
	}
}

func TestFrameBadMagicIsFatal(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{'X', 'X', 'X', 'X', 1, 0, constants.MsgHello, 0, 0, 0, 0})
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected bad-magic frame to fail")
	}
}

func TestFrameOversizeLengthIsFatal(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(constants.FrameMagic[:])
	buf.Write([]byte{1, 0, constants.MsgChunkData})
	lenBuf := make([]byte, 4)
	// 17 MiB > 16 MiB cap
	big := uint32(17 * 1024 * 1024)
	lenBuf[0] = byte(big >> 24)
	lenBuf[1] = byte(big >> 16)
	lenBuf[2] = byte(big >> 8)
	lenBuf[3] = byte(big)
	buf.Write(lenBuf)

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected oversize length to fail")
	}
}

func TestFrameShortReadIsFatal(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(constants.FrameMagic[:])
	buf.Write([]byte{1, 0})
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected short header read to fail")
	}
}

func TestJSONPayloadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := HelloPayload{Name: "alice-laptop", Version: 1, DeviceID: "d-1"}
	if err := WriteJSON(&buf, constants.MsgHello, want); err != nil {
		t.Fatal(err)
	}
	f, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	var got HelloPayload
	if err := DecodeJSON(f, &got); err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestChunkDataBinaryRoundTrip(t *testing.T) {
	want := ChunkDataPayload{FileIndex: 3, ChunkIndex: 7, Checksum: 0xdeadbeef, Data: []byte("payload bytes")}
	encoded := EncodeChunkData(want)
	got, err := DecodeChunkData(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if got.FileIndex != want.FileIndex || got.ChunkIndex != want.ChunkIndex || got.Checksum != want.Checksum {
		t.Fatalf("header mismatch: got %+v want %+v", got, want)
	}
	if !bytes.Equal(got.Data, want.Data) {
		t.Fatalf("data mismatch: got %q want %q", got.Data, want.Data)
	}
}

func TestChunkDataTooShortIsRejected(t *testing.T) {
	if _, err := DecodeChunkData([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected short chunk-data payload to be rejected")
	}
}

func TestSyncChunkBinaryRoundTrip(t *testing.T) {
	want := SyncChunkPayload{OpID: 42, ChunkIdx: 9, Checksum: 0x1234, Data: []byte("sync bytes")}
	got, err := DecodeSyncChunk(EncodeSyncChunk(want))
	if err != nil {
		t.Fatal(err)
	}
	if got.OpID != want.OpID || got.ChunkIdx != want.ChunkIdx || got.Checksum != want.Checksum || !bytes.Equal(got.Data, want.Data) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestClipboardDataBinaryRoundTrip(t *testing.T) {
	want := ClipboardDataPayload{Width: 0, Height: 0, Data: []byte("hello")}
	got, err := DecodeClipboardData(EncodeClipboardData(want))
	if err != nil {
		t.Fatal(err)
	}
	if got.Width != want.Width || got.Height != want.Height || !bytes.Equal(got.Data, want.Data) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}
