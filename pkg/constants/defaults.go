// Package constants defines the cross-cutting wire and timing constants
// fixed by the protocol specification (§4, §6).
package constants

import "time"

// Frame header (§4.A)
var FrameMagic = [4]byte{'L', 'D', 'R', 'P'}

const (
	ProtocolVersionMajor = 1
	ProtocolVersionMinor = 0

	// MaxFramePayload is the hard cap on a single frame's payload length.
	MaxFramePayload = 16 * 1024 * 1024

	FrameHeaderLen = 4 + 2 + 1 + 4 // magic + ver + type + length
)

// Message type byte values (§6). These are wire-stable and must never change.
const (
	MsgHello         byte = 0x01
	MsgHelloAck      byte = 0x02
	MsgCodeVerify    byte = 0x03
	MsgCodeVerifyAck byte = 0x04
	MsgFileList      byte = 0x05
	MsgFileListAck   byte = 0x06
	MsgPreviewReq    byte = 0x07
	MsgPreviewData   byte = 0x08

	MsgChunkStart byte = 0x10
	MsgChunkData  byte = 0x11
	MsgChunkAck   byte = 0x12

	MsgTransferComplete byte = 0x20
	MsgTransferCancel   byte = 0x21

	MsgPing byte = 0x30
	MsgPong byte = 0x31

	MsgResumeRequest byte = 0x40
	MsgResumeAck     byte = 0x41

	MsgClipboardMeta    byte = 0x50
	MsgClipboardData    byte = 0x51
	MsgClipboardAck     byte = 0x52
	MsgClipboardChanged byte = 0x53
	MsgClipboardRequest byte = 0x54

	MsgTrustedHello    byte = 0x60
	MsgTrustedHelloAck byte = 0x61
	MsgTrustedVerify   byte = 0x62
	MsgTrustedVerifAck byte = 0x63

	MsgSyncInit     byte = 0x70
	MsgSyncInitAck  byte = 0x71
	MsgSyncIndex    byte = 0x72
	MsgSyncIndexAck byte = 0x73
	MsgSyncOp       byte = 0x74
	MsgSyncChunk    byte = 0x75
	MsgSyncComplete byte = 0x76
	MsgSyncOpAck    byte = 0x77

	MsgError byte = 0xFF
)

// Defaults (§4, §6, §9)
const (
	DefaultChunkSize        = 1024 * 1024 // 1 MiB
	DefaultDiscoveryPort    = 49187
	DefaultBroadcastPeriod  = 2 * time.Second
	DefaultDiscoveryTimeout = 30 * time.Second
	KeepAliveInterval       = 4 * time.Second
	KeepAliveTimeout        = 10 * time.Second
	WatcherDebounce         = 100 * time.Millisecond

	MDNSServiceName = "_ldrop._udp.local."
)

// ShareCode alphabet: unambiguous, case-insensitive on input, canonical
// uppercase on the wire. Excludes 0/O, 1/I/L per §3 and §6.
const ShareCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const ShareCodeLength = 4
