// Package session implements the Session Layer (§4.H): the six session
// kinds built on top of the protocol state machine, each owning one TLS
// stream, a TransferProgress watch channel, an optional keep-alive
// task, and a cooperative shutdown channel.
package session

import (
	"net"
	"sync"
	"time"

	"github.com/sanchxt/ldrop/pkg/constants"
	"github.com/sanchxt/ldrop/pkg/ldroperr"
	"github.com/sanchxt/ldrop/pkg/logging"
	"github.com/sanchxt/ldrop/pkg/transfer"
	"github.com/sanchxt/ldrop/pkg/wire"
)

// Kind names one of the six session kinds (§1, §4.G).
type Kind int

const (
	KindShare Kind = iota
	KindReceive
	KindTrustedSend
	KindTrustedReceive
	KindClipboardShare
	KindClipboardReceive
	KindClipboardSync
	KindDirectorySync
)

func (k Kind) String() string {
	switch k {
	case KindShare:
		return "share"
	case KindReceive:
		return "receive"
	case KindTrustedSend:
		return "trusted_send"
	case KindTrustedReceive:
		return "trusted_receive"
	case KindClipboardShare:
		return "clipboard_share"
	case KindClipboardReceive:
		return "clipboard_receive"
	case KindClipboardSync:
		return "clipboard_sync"
	case KindDirectorySync:
		return "directory_sync"
	default:
		return "unknown"
	}
}

// Session is the common envelope every session kind embeds: the
// underlying stream, progress, shutdown broadcast, and keep-alive
// control (§4.H).
type Session struct {
	Kind     Kind
	Progress *transfer.Progress

	mu         sync.Mutex
	conn       net.Conn
	shutdownCh chan struct{}
	closed     bool

	keepAliveOn     bool
	keepAliveStopCh chan struct{}
	keepAliveDoneCh chan struct{}

	// writeMu serializes every frame written on conn once more than one
	// task may write concurrently (§5: clipboard sync's outbound/inbound
	// loops and directory sync's sender/receiver/keep-alive tasks all
	// share one split-stream write half). Sessions with a single writer
	// never contend on it.
	writeMu sync.Mutex
}

// New wraps conn as a Session of the given kind with a fresh progress
// tracker (totalBytes may be zero for kinds that do not transfer files).
func New(kind Kind, conn net.Conn, totalBytes int64) *Session {
	return &Session{
		Kind:       kind,
		Progress:   transfer.New(totalBytes),
		conn:       conn,
		shutdownCh: make(chan struct{}),
	}
}

// Done returns the shutdown broadcast channel; background tasks must
// include it in every select (§4.H "broadcast channel used for
// shutdown").
func (s *Session) Done() <-chan struct{} {
	return s.shutdownCh
}

// Cancel triggers cooperative shutdown: background tasks observe Done()
// closing at their next suspension point, and the stream is closed.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.shutdownCh)
	s.Progress.Cancel()
	return s.conn.Close()
}

// Conn returns the underlying net.Conn for direct frame I/O by the
// session-kind-specific driver functions in this package.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// WriteJSON writes a JSON-payload frame, holding writeMu for the
// duration so it cannot interleave with any other task's frame on the
// same stream (§5 "outbound writes never interleave with inbound pong
// writes mid-frame").
func (s *Session) WriteJSON(msgType byte, payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteJSON(s.conn, msgType, payload)
}

// WriteFrame writes a raw-payload frame under writeMu; see WriteJSON.
func (s *Session) WriteFrame(msgType byte, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteFrame(s.conn, msgType, payload)
}

// WriteFrameTimeout writes a raw-payload frame under writeMu with a
// write deadline; used by the keep-alive task so a stalled peer cannot
// hold the mutex past KeepAliveTimeout.
func (s *Session) WriteFrameTimeout(msgType byte, payload []byte, timeout time.Duration) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteFrameWithTimeout(s.conn, msgType, payload, timeout)
}

// StartKeepAlive begins a background task emitting Ping every
// constants.KeepAliveInterval while the caller holds the stream for a
// user consent prompt (§4.H "Receive sessions support
// start_keep_alive()/stop_keep_alive()"). Calling it twice without an
// intervening StopKeepAlive is a no-op.
func (s *Session) StartKeepAlive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keepAliveOn {
		return
	}
	s.keepAliveOn = true
	s.keepAliveStopCh = make(chan struct{})
	s.keepAliveDoneCh = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(constants.KeepAliveInterval)
		defer ticker.Stop()
		logger := logging.New("session")
		for {
			select {
			case <-stop:
				return
			case <-s.shutdownCh:
				return
			case <-ticker.C:
				if err := s.WriteFrameTimeout(constants.MsgPing, nil, constants.KeepAliveTimeout); err != nil {
					logger.Warn().Err(err).Msg("keep-alive ping failed")
					return
				}
			}
		}
	}(s.keepAliveStopCh, s.keepAliveDoneCh)
}

// StopKeepAlive halts the keep-alive task and waits for it to exit,
// handing the stream back to the caller (§4.H). Calling it when no
// keep-alive is running is a no-op.
func (s *Session) StopKeepAlive() {
	s.mu.Lock()
	if !s.keepAliveOn {
		s.mu.Unlock()
		return
	}
	stopCh := s.keepAliveStopCh
	doneCh := s.keepAliveDoneCh
	s.keepAliveOn = false
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// ExpectStream requires the session to still own its stream (not
// mid-keep-alive-handoff); mirrors the spec's Internal("no TLS stream")
// failure mode for accept/decline paths that must stop keep-alive first.
func (s *Session) ExpectStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ldroperr.Internal("no TLS stream")
	}
	return nil
}
