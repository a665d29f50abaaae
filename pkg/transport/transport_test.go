package transport

import (
	"context"
	"testing"
	"time"

	"github.com/sanchxt/ldrop/pkg/crypto"
)

func TestListenDialRoundTrip(t *testing.T) {
	tlsConfig, err := crypto.NewSelfSignedTLSConfig("localhost")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ln, err := Listen(ctx, "127.0.0.1:0", tlsConfig)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	acceptErrCh := make(chan error, 1)
	serverConnCh := make(chan *Conn, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			acceptErrCh <- err
			return
		}
		serverConnCh <- conn
		acceptErrCh <- nil
	}()

	clientConfig := tlsConfig.Clone()
	clientConfig.InsecureSkipVerify = true
	clientConn, err := Dial(ctx, ln.Addr().String(), clientConfig)
	if err != nil {
		t.Fatal(err)
	}
	defer clientConn.Close()

	if err := <-acceptErrCh; err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	serverConn := <-serverConnCh
	defer serverConn.Close()

	msg := []byte("hello over tls")
	if _, err := clientConn.Write(msg); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len(msg))
	if _, err := serverConn.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("got %q, want %q", buf, msg)
	}
}
