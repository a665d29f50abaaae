package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/sanchxt/ldrop/pkg/ldroperr"
)

// JSON message payloads (§4.G, §6). Field names are stable wire keys.

type HelloPayload struct {
	Name        string `json:"name"`
	Version     int    `json:"ver"`
	DeviceID    string `json:"device_id,omitempty"`
	PublicKey   string `json:"pubkey,omitempty"`
	Compression bool   `json:"compression,omitempty"`
}

type HelloAckPayload struct {
	Name        string `json:"name"`
	Version     int    `json:"ver"`
	DeviceID    string `json:"device_id,omitempty"`
	PublicKey   string `json:"pubkey,omitempty"`
	Compression bool   `json:"compression,omitempty"`
}

type CodeVerifyPayload struct {
	HMAC []byte `json:"hmac"`
}

type CodeVerifyAckPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"err,omitempty"`
}

type FileEntry struct {
	RelativePath string `json:"relative_path"`
	Size         int64  `json:"size"`
	MimeHint     string `json:"mime_hint,omitempty"`
	Mode         *uint32 `json:"mode,omitempty"`
	IsSymlink    bool   `json:"is_symlink"`
	SymlinkTarget string `json:"symlink_target,omitempty"`
	IsDirectory  bool   `json:"is_directory"`
	CreatedAt    *int64 `json:"created_at,omitempty"`
	ModifiedAt   *int64 `json:"modified_at,omitempty"`
}

type FileListPayload struct {
	Files      []FileEntry `json:"files"`
	TotalSize  int64       `json:"total_size"`
	TransferID string      `json:"transfer_id,omitempty"`
}

type FileListAckPayload struct {
	Accepted      bool  `json:"accepted"`
	AcceptedFiles []int `json:"accepted_files,omitempty"`
	// WillResume tells the sender to expect a ResumeRequest next,
	// before any ChunkStart (§4.G "Resume"), rather than proceeding
	// straight into the chunk loop.
	WillResume bool `json:"will_resume,omitempty"`
}

type ChunkStartPayload struct {
	FileIndex   int    `json:"file_idx"`
	ChunkIndex  uint64 `json:"chunk_idx"`
	TotalChunks uint64 `json:"total_chunks"`
}

type ChunkAckPayload struct {
	FileIndex  int    `json:"file_idx"`
	ChunkIndex uint64 `json:"chunk_idx"`
	Success    bool   `json:"success"`
}

type PingPayload struct {
	Token []byte `json:"token"`
}

type PongPayload struct {
	Token []byte `json:"token"`
}

type ResumeRequestPayload struct {
	TransferID           string            `json:"transfer_id"`
	CompletedChunks      map[int][]uint64  `json:"completed_chunks"`
	CompletedFileHashes  map[int]string    `json:"completed_file_hashes"`
}

type ResumeAckPayload struct {
	Accepted           bool             `json:"accepted"`
	RetransferFiles    []int            `json:"retransfer_files,omitempty"`
	RetransferChunks   map[int][]uint64 `json:"retransfer_chunks,omitempty"`
	Reason             string           `json:"reason,omitempty"`
}

type TrustedHelloPayload struct {
	Name      string `json:"name"`
	Version   int    `json:"ver"`
	DeviceID  string `json:"device_id"`
	PublicKey string `json:"pubkey"`
	Nonce     []byte `json:"nonce"`
	NonceSig  []byte `json:"nonce_sig"`
}

type TrustedHelloAckPayload struct {
	Trusted     bool   `json:"trusted"`
	Name        string `json:"name,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	PublicKey   string `json:"pubkey,omitempty"`
	NonceSig    []byte `json:"nonce_sig,omitempty"`
	TrustLevel  string `json:"trust_level,omitempty"`
	Error       string `json:"error,omitempty"`
}

// TrustedVerifyPayload / TrustedVerifyAckPayload implement the
// first-contact bootstrap round from SPEC_FULL §12: sent only when the
// responder's trust store misses the initiator's device-id entirely.
type TrustedVerifyPayload struct {
	Challenge []byte `json:"challenge"`
}

type TrustedVerifyAckPayload struct {
	ChallengeSig []byte `json:"challenge_sig"`
}

type ClipboardMetaPayload struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Checksum    uint64 `json:"checksum"`
	Timestamp   int64  `json:"timestamp"`
}

type ClipboardAckPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"err,omitempty"`
}

type ClipboardChangedPayload struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Checksum    uint64 `json:"checksum"`
	Timestamp   int64  `json:"timestamp"`
}

type ClipboardRequestPayload struct{}

type PreviewRequestPayload struct {
	FileIndex int `json:"file_idx"`
}

type PreviewDataPayload struct {
	FileIndex int    `json:"file_idx"`
	MimeType  string `json:"mime"`
	Data      []byte `json:"data"`
}

type SyncCapabilities struct {
	SupportsDeletions bool `json:"supports_deletions"`
	SupportsRename    bool `json:"supports_rename"`
	SupportsLiveWatch bool `json:"supports_live_watch"`
}

type SyncInitPayload struct {
	RootName     string           `json:"root_name"`
	FileCount    int              `json:"file_count"`
	TotalSize    int64            `json:"total_size"`
	IndexHash    uint64           `json:"index_hash"`
	Capabilities SyncCapabilities `json:"capabilities"`
}

type SyncInitAckPayload struct {
	RootName     string           `json:"root_name"`
	FileCount    int              `json:"file_count"`
	TotalSize    int64            `json:"total_size"`
	IndexHash    uint64           `json:"index_hash"`
	Capabilities SyncCapabilities `json:"capabilities"`
}

type SyncIndexEntry struct {
	RelativePath string `json:"relative_path"`
	Kind         string `json:"kind"` // "file" | "dir" | "symlink"
	Size         int64  `json:"size"`
	ModTime      int64  `json:"mtime"`
	ContentHash  uint64 `json:"content_hash"`
}

type SyncIndexPayload struct {
	Entries []SyncIndexEntry `json:"entries"`
}

type SyncIndexAckPayload struct {
	Received int `json:"received"`
}

type SyncOpPayload struct {
	OpID        uint64 `json:"op_id"`
	Kind        string `json:"kind"` // "create" | "modify" | "delete" | "rename"
	Path        string `json:"path,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
	EntryKind   string `json:"entry_kind,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentHash uint64 `json:"content_hash,omitempty"`
	ChunkCount  uint32 `json:"chunk_count,omitempty"`
}

type SyncCompletePayload struct {
	OpID        uint64 `json:"op_id"`
	ContentHash string `json:"content_hash"`
}

type SyncOpAckPayload struct {
	OpID    uint64 `json:"op_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Binary payload encodings (§4.A). ChunkData: file_index u32 |
// chunk_index u64 | checksum u64 | data. SyncChunk: op_id u64 |
// chunk_idx u32 | checksum u64 | data. ClipboardData: width u32 |
// height u32 | data.

type ChunkDataPayload struct {
	FileIndex  uint32
	ChunkIndex uint64
	Checksum   uint64
	Data       []byte
}

func EncodeChunkData(p ChunkDataPayload) []byte {
	buf := make([]byte, 4+8+8+len(p.Data))
	binary.BigEndian.PutUint32(buf[0:4], p.FileIndex)
	binary.BigEndian.PutUint64(buf[4:12], p.ChunkIndex)
	binary.BigEndian.PutUint64(buf[12:20], p.Checksum)
	copy(buf[20:], p.Data)
	return buf
}

func DecodeChunkData(payload []byte) (ChunkDataPayload, error) {
	if len(payload) < 20 {
		return ChunkDataPayload{}, ldroperr.ProtocolError("chunk data payload too short")
	}
	return ChunkDataPayload{
		FileIndex:  binary.BigEndian.Uint32(payload[0:4]),
		ChunkIndex: binary.BigEndian.Uint64(payload[4:12]),
		Checksum:   binary.BigEndian.Uint64(payload[12:20]),
		Data:       payload[20:],
	}, nil
}

type SyncChunkPayload struct {
	OpID      uint64
	ChunkIdx  uint32
	Checksum  uint64
	Data      []byte
}

func EncodeSyncChunk(p SyncChunkPayload) []byte {
	buf := make([]byte, 8+4+8+len(p.Data))
	binary.BigEndian.PutUint64(buf[0:8], p.OpID)
	binary.BigEndian.PutUint32(buf[8:12], p.ChunkIdx)
	binary.BigEndian.PutUint64(buf[12:20], p.Checksum)
	copy(buf[20:], p.Data)
	return buf
}

func DecodeSyncChunk(payload []byte) (SyncChunkPayload, error) {
	if len(payload) < 20 {
		return SyncChunkPayload{}, ldroperr.ProtocolError("sync chunk payload too short")
	}
	return SyncChunkPayload{
		OpID:     binary.BigEndian.Uint64(payload[0:8]),
		ChunkIdx: binary.BigEndian.Uint32(payload[8:12]),
		Checksum: binary.BigEndian.Uint64(payload[12:20]),
		Data:     payload[20:],
	}, nil
}

type ClipboardDataPayload struct {
	Width  uint32
	Height uint32
	Data   []byte
}

func EncodeClipboardData(p ClipboardDataPayload) []byte {
	buf := make([]byte, 4+4+len(p.Data))
	binary.BigEndian.PutUint32(buf[0:4], p.Width)
	binary.BigEndian.PutUint32(buf[4:8], p.Height)
	copy(buf[8:], p.Data)
	return buf
}

func DecodeClipboardData(payload []byte) (ClipboardDataPayload, error) {
	if len(payload) < 8 {
		return ClipboardDataPayload{}, ldroperr.ProtocolError("clipboard data payload too short")
	}
	return ClipboardDataPayload{
		Width:  binary.BigEndian.Uint32(payload[0:4]),
		Height: binary.BigEndian.Uint32(payload[4:8]),
		Data:   payload[8:],
	}, nil
}

// MessageName returns a human-readable name for a message type byte,
// used in UnexpectedMessage errors (§4.G) without leaking auth detail.
func MessageName(typ byte) string {
	switch typ {
	case 0x01:
		return "Hello"
	case 0x02:
		return "HelloAck"
	case 0x03:
		return "CodeVerify"
	case 0x04:
		return "CodeVerifyAck"
	case 0x05:
		return "FileList"
	case 0x06:
		return "FileListAck"
	case 0x07:
		return "PreviewRequest"
	case 0x08:
		return "PreviewData"
	case 0x10:
		return "ChunkStart"
	case 0x11:
		return "ChunkData"
	case 0x12:
		return "ChunkAck"
	case 0x20:
		return "TransferComplete"
	case 0x21:
		return "TransferCancel"
	case 0x30:
		return "Ping"
	case 0x31:
		return "Pong"
	case 0x40:
		return "ResumeRequest"
	case 0x41:
		return "ResumeAck"
	case 0x50:
		return "ClipboardMeta"
	case 0x51:
		return "ClipboardData"
	case 0x52:
		return "ClipboardAck"
	case 0x53:
		return "ClipboardChanged"
	case 0x54:
		return "ClipboardRequest"
	case 0x60:
		return "TrustedHello"
	case 0x61:
		return "TrustedHelloAck"
	case 0x62:
		return "TrustedVerify"
	case 0x63:
		return "TrustedVerifyAck"
	case 0x70:
		return "SyncInit"
	case 0x71:
		return "SyncInitAck"
	case 0x72:
		return "SyncIndex"
	case 0x73:
		return "SyncIndexAck"
	case 0x74:
		return "SyncOp"
	case 0x75:
		return "SyncChunk"
	case 0x76:
		return "SyncComplete"
	case 0x77:
		return "SyncOpAck"
	case 0xFF:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", typ)
	}
}
