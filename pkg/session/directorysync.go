// directorysync.go implements the Directory Sync session kind (§4.G
// "Directory sync", §4.H "5 tasks"): a handshake and initial
// reconciliation round, then an indefinitely-running live loop driven
// by the local watcher and the peer's incoming operations. Once live,
// the stream is split read/write (§5): the inbound receiver is the
// read half's sole owner and demultiplexes SyncOpAck frames back to
// whichever outbound send is waiting on that op_id, while every write
// — outbound sender, inbound receiver's own acks, keep-alive's pings —
// serializes through the Session's shared write mutex.
package session

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sanchxt/ldrop/pkg/chunk"
	"github.com/sanchxt/ldrop/pkg/constants"
	"github.com/sanchxt/ldrop/pkg/crypto"
	"github.com/sanchxt/ldrop/pkg/fsindex"
	"github.com/sanchxt/ldrop/pkg/ldroperr"
	"github.com/sanchxt/ldrop/pkg/protocol"
	"github.com/sanchxt/ldrop/pkg/syncengine"
	"github.com/sanchxt/ldrop/pkg/watcher"
	"github.com/sanchxt/ldrop/pkg/wire"
)

// DirSyncOptions configures one Directory Sync session's fixed
// parameters, agreed out of band before the session opens.
type DirSyncOptions struct {
	Root          string
	Policy        fsindex.Policy
	Strategy      syncengine.Strategy
	SyncDeletions bool
	Local         HelloInfo
}

func indexToWire(idx *fsindex.Index) wire.SyncIndexPayload {
	paths := make([]string, 0, len(idx.Entries))
	for p := range idx.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	payload := wire.SyncIndexPayload{Entries: make([]wire.SyncIndexEntry, 0, len(paths))}
	for _, p := range paths {
		e := idx.Entries[p]
		payload.Entries = append(payload.Entries, wire.SyncIndexEntry{
			RelativePath: p, Kind: e.Kind.String(), Size: e.Size, ModTime: e.ModTime, ContentHash: e.ContentHash,
		})
	}
	return payload
}

func wireToIndex(root string, payload wire.SyncIndexPayload) *fsindex.Index {
	idx := &fsindex.Index{Root: root, Entries: make(map[string]fsindex.Entry, len(payload.Entries))}
	for _, e := range payload.Entries {
		idx.Entries[e.RelativePath] = fsindex.Entry{Kind: parseEntryKind(e.Kind), Size: e.Size, ModTime: e.ModTime, ContentHash: e.ContentHash}
	}
	return idx
}

func parseEntryKind(s string) fsindex.EntryKind {
	switch s {
	case "dir":
		return fsindex.KindDir
	case "symlink":
		return fsindex.KindSymlink
	default:
		return fsindex.KindFile
	}
}

// RunDirectorySyncHandshake performs a fully symmetric Hello/SyncInit/
// SyncIndex/SyncIndexAck exchange (both peers write and read all four
// message types) and returns the reconciliation Plan the caller must
// then apply/send via a DirSyncChannel. Both peers run this same
// function; Reconcile is symmetric so either side arriving at its own
// Plan independently is consistent with the other. It runs before the
// stream is split, so it still talks to conn directly like any other
// handshake.
func RunDirectorySyncHandshake(s *Session, opts DirSyncOptions) (*syncengine.Plan, error) {
	conn := s.Conn()
	machine := protocol.NewMachine(protocol.DirectorySyncHandshakePhases())

	local, err := fsindex.Build(opts.Root, opts.Policy)
	if err != nil {
		return nil, err
	}
	localHash, err := local.RootHash()
	if err != nil {
		return nil, err
	}

	if err := wire.WriteJSON(conn, constants.MsgHello, wire.HelloPayload{
		Name: opts.Local.Name, Version: constants.ProtocolVersionMajor, DeviceID: opts.Local.DeviceID, PublicKey: opts.Local.PubKey,
	}); err != nil {
		return nil, err
	}
	helloFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return nil, err
	}
	if err := machine.Expect(helloFrame.Type); err != nil {
		return nil, err
	}

	caps := wire.SyncCapabilities{SupportsDeletions: opts.SyncDeletions, SupportsRename: true, SupportsLiveWatch: true}
	var totalSize int64
	for _, e := range local.Entries {
		totalSize += e.Size
	}
	if err := wire.WriteJSON(conn, constants.MsgSyncInit, wire.SyncInitPayload{
		RootName: filepath.Base(opts.Root), FileCount: len(local.Entries), TotalSize: totalSize, IndexHash: localHash, Capabilities: caps,
	}); err != nil {
		return nil, err
	}
	initFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return nil, err
	}
	if err := machine.Expect(initFrame.Type); err != nil {
		return nil, err
	}
	var peerInit wire.SyncInitPayload
	if err := wire.DecodeJSON(initFrame, &peerInit); err != nil {
		return nil, err
	}

	if err := wire.WriteJSON(conn, constants.MsgSyncIndex, indexToWire(local)); err != nil {
		return nil, err
	}
	indexFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return nil, err
	}
	if err := machine.Expect(indexFrame.Type); err != nil {
		return nil, err
	}
	var peerIndexPayload wire.SyncIndexPayload
	if err := wire.DecodeJSON(indexFrame, &peerIndexPayload); err != nil {
		return nil, err
	}
	remote := wireToIndex(opts.Root, peerIndexPayload)

	if err := wire.WriteJSON(conn, constants.MsgSyncIndexAck, wire.SyncIndexAckPayload{Received: len(peerIndexPayload.Entries)}); err != nil {
		return nil, err
	}
	ackFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
	if err != nil {
		return nil, err
	}
	if err := machine.Expect(ackFrame.Type); err != nil {
		return nil, err
	}

	plan := syncengine.Reconcile(local, remote, opts.Strategy)
	if !opts.SyncDeletions {
		plan.Apply = filterDeletes(plan.Apply)
		plan.Send = filterDeletes(plan.Send)
	}
	return &plan, nil
}

func filterDeletes(ops []syncengine.SyncOp) []syncengine.SyncOp {
	out := make([]syncengine.SyncOp, 0, len(ops))
	for _, op := range ops {
		if op.Kind != syncengine.OpDelete {
			out = append(out, op)
		}
	}
	return out
}

// DirSyncChannel is the split-stream handle Directory Sync's live
// tasks share once the handshake is done (§5 "5 tasks"). Every write —
// from the outbound sender, the inbound receiver's own SyncOpAck/Pong
// replies, or the session's keep-alive pinger — goes through the
// Session's writeMu, so frames never interleave mid-write. The inbound
// receiver is the read half's sole owner; it demultiplexes incoming
// SyncOpAck frames to whichever sendOneOp call is waiting on that
// op_id, so the outbound sender never reads the conn itself.
type DirSyncChannel struct {
	s *Session

	// sendMu is held for an entire op's SyncOp/SyncChunk.../SyncComplete
	// sequence, not just one frame: the outbound sender and the live
	// watch loop are two independent producers of ops (§4.F), and the
	// receiver's per-op apply loop reads a fixed count of chunk frames
	// right after SyncOp with no op_id check on each one, so two ops'
	// frames must never interleave even though per-frame writes are
	// already individually safe via the Session's writeMu.
	sendMu sync.Mutex

	acksMu sync.Mutex
	acks   map[uint64]chan wire.SyncOpAckPayload
}

// NewDirSyncChannel wraps s for a live Directory Sync session.
func NewDirSyncChannel(s *Session) *DirSyncChannel {
	return &DirSyncChannel{s: s, acks: make(map[uint64]chan wire.SyncOpAckPayload)}
}

func (d *DirSyncChannel) writeJSON(msgType byte, payload any) error {
	return d.s.WriteJSON(msgType, payload)
}

func (d *DirSyncChannel) writeFrame(msgType byte, payload []byte) error {
	return d.s.WriteFrame(msgType, payload)
}

// registerAck must be called before the frame that will provoke the
// ack is written, so a reply racing ahead of the registration can never
// be dropped. The same channel receives every ack for opID (one per
// chunk, then the final SyncComplete ack), since SyncOpAck carries no
// finer-grained sequence number than op_id.
func (d *DirSyncChannel) registerAck(opID uint64) chan wire.SyncOpAckPayload {
	ch := make(chan wire.SyncOpAckPayload, 1)
	d.acksMu.Lock()
	d.acks[opID] = ch
	d.acksMu.Unlock()
	return ch
}

// abandonAck stops routing acks for opID to anyone; call once the
// sender is done with the op (success or error).
func (d *DirSyncChannel) abandonAck(opID uint64) {
	d.acksMu.Lock()
	delete(d.acks, opID)
	d.acksMu.Unlock()
}

// deliverAck hands an incoming SyncOpAck to whichever sendOneOp call
// registered for its op_id; an ack with no registered waiter (e.g. one
// that arrived after abandonAck) is dropped.
func (d *DirSyncChannel) deliverAck(ack wire.SyncOpAckPayload) {
	d.acksMu.Lock()
	ch := d.acks[ack.OpID]
	d.acksMu.Unlock()
	if ch != nil {
		select {
		case ch <- ack:
		default:
		}
	}
}

// waitAck blocks for the next ack on ch, or reports session shutdown.
func (d *DirSyncChannel) waitAck(opID uint64, ch chan wire.SyncOpAckPayload) error {
	select {
	case ack := <-ch:
		if ack.OpID != opID {
			return ldroperr.ProtocolError("sync op ack for wrong op_id")
		}
		if !ack.Success {
			return ldroperr.ProtocolError("peer rejected sync op: " + ack.Error)
		}
		return nil
	case <-d.s.Done():
		return ldroperr.Internal("directory sync: session closed while awaiting ack")
	}
}

// RunDirectorySyncSend walks ops in order, pushing each one and (for
// file creates/modifies) its chunk stream to the peer, waiting for the
// per-chunk and final acks (§4.G "each individually acknowledged").
// nextOpID supplies monotonically increasing op_ids shared with any
// concurrent live-event sends on the same connection.
func RunDirectorySyncSend(d *DirSyncChannel, root string, ops []syncengine.SyncOp, nextOpID func() uint64) error {
	for _, op := range ops {
		if err := sendOneOp(d, root, nextOpID(), op); err != nil {
			return err
		}
	}
	return nil
}

func sendOneOp(d *DirSyncChannel, root string, opID uint64, op syncengine.SyncOp) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	ackCh := d.registerAck(opID)
	defer d.abandonAck(opID)

	msg := wire.SyncOpPayload{
		OpID: opID, Kind: op.Kind.String(), Path: op.Path, From: op.FromPath,
		EntryKind: op.EntryKind.String(), Size: op.Size, ContentHash: op.ContentHash, ChunkCount: uint32(op.ChunkCount),
	}
	if op.Kind == syncengine.OpRename {
		msg.To = op.Path
		msg.Path = ""
	}
	if err := d.writeJSON(constants.MsgSyncOp, msg); err != nil {
		return err
	}

	needsData := (op.Kind == syncengine.OpCreate || op.Kind == syncengine.OpModify) && op.EntryKind == fsindex.KindFile && op.Size > 0
	if needsData {
		chunks, err := chunk.ChunkFile(filepath.Join(root, op.Path), 0, constants.DefaultChunkSize)
		if err != nil {
			return err
		}
		for _, c := range chunks {
			data := wire.EncodeSyncChunk(wire.SyncChunkPayload{OpID: opID, ChunkIdx: uint32(c.ChunkIndex), Checksum: c.Checksum, Data: c.Data})
			if err := d.writeFrame(constants.MsgSyncChunk, data); err != nil {
				return ldroperr.IOError(err)
			}
			if err := d.waitAck(opID, ackCh); err != nil {
				return err
			}
		}
	}

	if err := d.writeJSON(constants.MsgSyncComplete, wire.SyncCompletePayload{
		OpID: opID, ContentHash: fsindex.HashHex(op.ContentHash),
	}); err != nil {
		return err
	}
	return d.waitAck(opID, ackCh)
}

// RunDirectorySyncReceive is the read half's sole owner: it loops
// reading every frame off the connection, applying SyncOp/SyncChunk/
// SyncComplete triples to root and acking them, answering Ping with
// Pong, and demultiplexing SyncOpAck frames to the outbound sender via
// deliverAck. It returns when the connection closes or the session is
// canceled.
func RunDirectorySyncReceive(d *DirSyncChannel, root string, syncDeletions bool) error {
	conn := d.s.Conn()
	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			select {
			case <-d.s.Done():
				return nil
			default:
				return err
			}
		}

		switch frame.Type {
		case constants.MsgPing:
			if err := d.writeFrame(constants.MsgPong, nil); err != nil {
				return err
			}
		case constants.MsgPong:
			// no-op
		case constants.MsgSyncOpAck:
			var ack wire.SyncOpAckPayload
			if err := wire.DecodeJSON(frame, &ack); err != nil {
				return err
			}
			d.deliverAck(ack)
		case constants.MsgSyncOp:
			var op wire.SyncOpPayload
			if err := wire.DecodeJSON(frame, &op); err != nil {
				return err
			}
			if err := applyOp(d, root, op, syncDeletions); err != nil {
				return err
			}
		default:
			return ldroperr.ProtocolError("directory sync: unexpected message " + wire.MessageName(frame.Type))
		}
	}
}

func applyOp(d *DirSyncChannel, root string, op wire.SyncOpPayload, syncDeletions bool) error {
	if op.Kind == "delete" && !syncDeletions {
		return drainAndAck(d, op)
	}

	switch op.Kind {
	case "delete":
		target := filepath.Join(root, op.Path)
		err := os.RemoveAll(target)
		return finishOp(d, op, err)

	case "rename":
		from := filepath.Join(root, op.From)
		to := filepath.Join(root, op.To)
		if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
			return finishOp(d, op, ldroperr.IOError(err))
		}
		err := os.Rename(from, to)
		return finishOp(d, op, err)

	case "create", "modify":
		if op.EntryKind == "dir" {
			err := os.MkdirAll(filepath.Join(root, op.Path), 0755)
			return finishOp(d, op, err)
		}
		return receiveFileOp(d, root, op)

	default:
		return ldroperr.ProtocolError("directory sync: unknown op kind " + op.Kind)
	}
}

func receiveFileOp(d *DirSyncChannel, root string, op wire.SyncOpPayload) error {
	conn := d.s.Conn()
	target := filepath.Join(root, op.Path)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return finishOp(d, op, ldroperr.IOError(err))
	}
	if op.ChunkCount == 0 {
		err := os.WriteFile(target, nil, 0644)
		return finishOp(d, op, err)
	}

	writer, err := chunk.NewStreamWriter(target)
	if err != nil {
		return finishOp(d, op, err)
	}
	for i := uint32(0); i < op.ChunkCount; i++ {
		dataFrame, err := wire.ReadFrameWithTimeout(conn, handshakeTimeout)
		if err != nil {
			return err
		}
		if dataFrame.Type != constants.MsgSyncChunk {
			return ldroperr.UnexpectedMessage(wire.MessageName(constants.MsgSyncChunk), wire.MessageName(dataFrame.Type))
		}
		data, err := wire.DecodeSyncChunk(dataFrame.Payload)
		if err != nil {
			return err
		}
		writeErr := writer.WriteChunk(chunk.Chunk{ChunkIndex: uint64(data.ChunkIdx), Data: data.Data, Checksum: data.Checksum})
		if err := d.writeJSON(constants.MsgSyncOpAck, wire.SyncOpAckPayload{OpID: op.OpID, Success: writeErr == nil}); err != nil {
			return err
		}
		if writeErr != nil {
			return writeErr
		}
	}
	_, err = writer.Finalize()
	return finishOp(d, op, err)
}

// finishOp consumes the expected SyncComplete frame and answers the
// final SyncOpAck, reporting applyErr as a failure if non-nil.
func finishOp(d *DirSyncChannel, op wire.SyncOpPayload, applyErr error) error {
	completeFrame, err := wire.ReadFrameWithTimeout(d.s.Conn(), handshakeTimeout)
	if err != nil {
		return err
	}
	if completeFrame.Type != constants.MsgSyncComplete {
		return ldroperr.UnexpectedMessage(wire.MessageName(constants.MsgSyncComplete), wire.MessageName(completeFrame.Type))
	}

	success := applyErr == nil
	errMsg := ""
	if applyErr != nil {
		errMsg = applyErr.Error()
	}
	if err := d.writeJSON(constants.MsgSyncOpAck, wire.SyncOpAckPayload{OpID: op.OpID, Success: success, Error: errMsg}); err != nil {
		return err
	}
	return applyErr
}

// drainAndAck consumes a SyncOp's data (if any) and SyncComplete
// without applying it, used when a delete arrives but sync_deletions
// is disabled for this session (§4.F: "deletions are suppressed on the
// receiver if the session's sync_deletions flag is false").
func drainAndAck(d *DirSyncChannel, op wire.SyncOpPayload) error {
	return finishOp(d, op, nil)
}

// RunDirectorySyncWatchLoop converts live watcher events into SyncOps
// and sends them, running until events closes or the session is
// canceled. Each event becomes exactly one SyncOp (§4.F "live events");
// deletions are only sent if allowed.
func RunDirectorySyncWatchLoop(d *DirSyncChannel, root string, events <-chan watcher.Event, syncDeletions bool, nextOpID func() uint64) error {
	for {
		select {
		case <-d.s.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			op, ok := eventToOp(root, ev, syncDeletions)
			if !ok {
				continue
			}
			if err := sendOneOp(d, root, nextOpID(), op); err != nil {
				return err
			}
		}
	}
}

// RunDirectorySyncSupervisor runs the outbound sender, inbound
// receiver, and watch-loop tasks concurrently over one DirSyncChannel
// and returns as soon as any one of them finishes (§4.H "5 tasks ...
// the supervisor that awaits the first completion via a biased
// select"); the keep-alive task is the session's own StartKeepAlive/
// StopKeepAlive, started by the caller around this call the same way
// every other session kind uses it. The inbound receiver is checked
// first, non-blocking, since a peer-side protocol error surfacing there
// is the most authoritative reason to stop. Canceling the session on
// return unblocks whichever tasks are still running.
func RunDirectorySyncSupervisor(s *Session, d *DirSyncChannel, root string, opts DirSyncOptions, plan *syncengine.Plan, events <-chan watcher.Event, nextOpID func() uint64) error {
	inboundDone := make(chan error, 1)
	outboundDone := make(chan error, 1)
	watchDone := make(chan error, 1)

	go func() { inboundDone <- RunDirectorySyncReceive(d, root, opts.SyncDeletions) }()
	go func() { outboundDone <- RunDirectorySyncSend(d, root, plan.Send, nextOpID) }()
	go func() { watchDone <- RunDirectorySyncWatchLoop(d, root, events, opts.SyncDeletions, nextOpID) }()

	var err error
	select {
	case err = <-inboundDone:
	default:
		select {
		case err = <-inboundDone:
		case err = <-outboundDone:
		case err = <-watchDone:
		}
	}
	s.Cancel()
	return err
}

func eventToOp(root string, ev watcher.Event, syncDeletions bool) (syncengine.SyncOp, bool) {
	switch ev.Kind {
	case watcher.Deleted:
		if !syncDeletions {
			return syncengine.SyncOp{}, false
		}
		return syncengine.SyncOp{Kind: syncengine.OpDelete, Path: ev.Path}, true
	case watcher.Created, watcher.Modified:
		kind := syncengine.OpModify
		if ev.Kind == watcher.Created {
			kind = syncengine.OpCreate
		}
		full := filepath.Join(root, ev.Path)
		info, err := os.Stat(full)
		if err != nil {
			return syncengine.SyncOp{}, false
		}
		entryKind := fsindex.KindFile
		if info.IsDir() {
			entryKind = fsindex.KindDir
		}
		var hash uint64
		if !info.IsDir() {
			data, err := os.ReadFile(full)
			if err != nil {
				return syncengine.SyncOp{}, false
			}
			hash = crypto.XXHash64(data)
		}
		return syncengine.SyncOp{
			Kind: kind, Path: ev.Path, EntryKind: entryKind, Size: info.Size(), ContentHash: hash,
			ChunkCount: chunkCountFor(info.Size()),
		}, true
	default:
		return syncengine.SyncOp{}, false
	}
}

func chunkCountFor(size int64) int {
	if size <= 0 {
		return 0
	}
	n := size / constants.DefaultChunkSize
	if size%constants.DefaultChunkSize != 0 {
		n++
	}
	return int(n)
}
