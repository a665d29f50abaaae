// Package crypto implements the primitives in §4.B: xxHash64 chunk
// checksums, SHA-256 whole-file verification, HMAC-SHA256 code proof,
// Ed25519 signing for trusted sessions, session-key derivation, and the
// self-signed TLS configuration used by every transport.
package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/hkdf"
)

// sessionKeySalt and sessionKeyInfo are the interoperability constants
// for derive_session_key (§4.B, Open Question 1). Both sides of a
// session must agree on these bit-for-bit, so they are fixed here and
// never configurable.
var (
	sessionKeySalt = []byte("ldrop-session-key-v1-salt")
	sessionKeyInfo = []byte("ldrop-session-key-v1-info")
)

// XXHash64 returns the xxHash64 digest of data, used for per-chunk
// integrity (§3 FileChunk, §4.C) and content hashing (§4.E FileIndex).
func XXHash64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// SHA256Stream consumes a streamed source and returns its SHA-256
// digest, used for whole-file verification (§4.C, §8 Invariant 3).
func SHA256Stream(r io.Reader) ([32]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// SHA256Bytes is a convenience wrapper for in-memory data.
func SHA256Bytes(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// DeriveSessionKey mixes the uppercase share code with a fixed salt/info
// via HKDF-SHA256 to produce the 32-byte session key both sides compute
// identically (§4.B).
func DeriveSessionKey(code string) ([32]byte, error) {
	upper := strings.ToUpper(code)
	kdf := hkdf.New(sha256.New, []byte(upper), sessionKeySalt, sessionKeyInfo)
	var key [32]byte
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return [32]byte{}, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

// HMACSHA256 proves knowledge of key over msg (§4.B), used once per
// session for code verification.
func HMACSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// ConstantTimeEqual is mandatory for every HMAC and signature comparison
// (§4.B) so timing does not leak which half of a proof failed.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Sign produces a 64-byte Ed25519 signature.
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify checks an Ed25519 signature against a base64-free raw public key.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// RandomNonce returns n cryptographically random bytes, used for the
// TrustedHello nonce (§4.G, 32 bytes) and ping tokens.
func RandomNonce(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// NewSelfSignedTLSConfig creates a fresh self-signed certificate for
// this process run (§4.B). Peer verification is disabled on both ends;
// authenticity is established inside the tunnel by HMAC or Ed25519
// signature, never by the certificate chain.
func NewSelfSignedTLSConfig(serverName string) (*tls.Config, error) {
	cert, err := generateSelfSignedCert(serverName)
	if err != nil {
		return nil, fmt.Errorf("generate self-signed cert: %w", err)
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{"ldrop/1"},
	}, nil
}

func generateSelfSignedCert(serverName string) (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: serverName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{serverName},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, pub, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

// PutUint64 is the byte-order helper shared by fsindex's hash
// formatter (§4.A binary codecs use the same big-endian order).
func PutUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
