// Package transport implements LDRP's single TLS transport (§4.H: "one
// TLS stream ... per session"). The spec assumes one ordered stream and
// no connection multiplexing, so unlike a multi-protocol transport
// registry this package exposes exactly one concrete transport.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/sanchxt/ldrop/pkg/ldroperr"
)

// DialTimeout bounds how long a Dial may take to establish the TCP+TLS
// connection.
const DialTimeout = 30 * time.Second

// Listen opens a TCP listener on addr and wraps every accepted
// connection in the given TLS config (self-signed, no cert pinning per
// §4.B).
func Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (*Listener, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, ldroperr.IOError(fmt.Errorf("resolve listen address: %w", err))
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, ldroperr.IOError(fmt.Errorf("listen: %w", err))
	}

	serverConfig := tlsConfig.Clone()
	if serverConfig.NextProtos == nil {
		serverConfig.NextProtos = []string{"ldrop/1"}
	}
	if serverConfig.MinVersion == 0 {
		serverConfig.MinVersion = tls.VersionTLS13
	}

	return &Listener{listener: ln, tlsConfig: serverConfig}, nil
}

// Dial establishes a TCP+TLS connection to addr.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*Conn, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	clientConfig := tlsConfig.Clone()
	if clientConfig.NextProtos == nil {
		clientConfig.NextProtos = []string{"ldrop/1"}
	}
	if clientConfig.MinVersion == 0 {
		clientConfig.MinVersion = tls.VersionTLS13
	}

	dialer := &net.Dialer{Timeout: DialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, clientConfig)
	if err != nil {
		return nil, ldroperr.TLSError(fmt.Sprintf("dial %s: %v", addr, err))
	}
	return &Conn{conn: conn}, nil
}

// Listener accepts incoming TLS connections.
type Listener struct {
	listener  *net.TCPListener
	tlsConfig *tls.Config
}

// Accept waits for and returns the next handshaked connection.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		l.listener.SetDeadline(deadline)
	}

	tcpConn, err := l.listener.AcceptTCP()
	if err != nil {
		return nil, ldroperr.IOError(err)
	}

	tlsConn := tls.Server(tcpConn, l.tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		tcpConn.Close()
		return nil, ldroperr.TLSError(fmt.Sprintf("handshake: %v", err))
	}
	return &Conn{conn: tlsConn}, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Conn is one established LDRP session's ordered byte stream.
type Conn struct {
	conn *tls.Conn
}

func (c *Conn) Read(b []byte) (int, error)  { return c.conn.Read(b) }
func (c *Conn) Write(b []byte) (int, error) { return c.conn.Write(b) }
func (c *Conn) Close() error                { return c.conn.Close() }

func (c *Conn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

// ConnectionState exposes the underlying TLS connection state, mainly
// for tests that want to assert the negotiated protocol version.
func (c *Conn) ConnectionState() tls.ConnectionState {
	return c.conn.ConnectionState()
}
