// Package identity implements the DeviceIdentity entity (§3): an
// Ed25519 keypair plus a stable UUID, loaded once per process from a
// persisted file and never rotated within a run.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/sanchxt/ldrop/pkg/crypto"
)

// fileRecord is the on-disk shape named in §6: device_id, private_key_bytes,
// public_key_bytes.
type fileRecord struct {
	DeviceID   uuid.UUID `json:"device_id"`
	PrivateKey []byte    `json:"private_key_bytes"`
	PublicKey  []byte    `json:"public_key_bytes"`
}

// Identity is the process-wide singleton device identity.
type Identity struct {
	deviceID uuid.UUID
	pub      ed25519.PublicKey
	priv     ed25519.PrivateKey
}

var (
	once     sync.Once
	instance *Identity
	initErr  error
)

// Load returns the process-wide Identity, generating and persisting a
// fresh one to path on first use. Subsequent calls within the same
// process return the same instance regardless of path.
func Load(path string) (*Identity, error) {
	once.Do(func() {
		instance, initErr = loadOrGenerate(path)
	})
	return instance, initErr
}

func loadOrGenerate(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var rec fileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("parse device identity file: %w", err)
		}
		return &Identity{
			deviceID: rec.DeviceID,
			pub:      ed25519.PublicKey(rec.PublicKey),
			priv:     ed25519.PrivateKey(rec.PrivateKey),
		}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read device identity file: %w", err)
	}

	id, genErr := generate()
	if genErr != nil {
		return nil, genErr
	}
	if err := id.saveToFile(path); err != nil {
		return nil, err
	}
	return id, nil
}

func generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate device identity keypair: %w", err)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate device id: %w", err)
	}
	return &Identity{deviceID: id, pub: pub, priv: priv}, nil
}

func (id *Identity) saveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}
	rec := fileRecord{DeviceID: id.deviceID, PrivateKey: id.priv, PublicKey: id.pub}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal device identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write device identity file: %w", err)
	}
	return nil
}

// DeviceID returns the canonical dashed-form UUID (§6).
func (id *Identity) DeviceID() string { return id.deviceID.String() }

// PublicKeyBase64 returns the base64 public key (§3).
func (id *Identity) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(id.pub)
}

// Sign returns a 64-byte Ed25519 signature over bytes.
func (id *Identity) Sign(msg []byte) []byte {
	return crypto.Sign(id.priv, msg)
}

// Verify is a static helper (§3): verify(pub_key_b64, msg, sig) -> bool.
func Verify(pubKeyB64 string, msg, sig []byte) bool {
	pub, err := base64.StdEncoding.DecodeString(pubKeyB64)
	if err != nil {
		return false
	}
	return crypto.Verify(ed25519.PublicKey(pub), msg, sig)
}

// ResetForTest clears the process-wide singleton so tests can exercise
// Load against a fresh file. Test-only.
func ResetForTest() {
	once = sync.Once{}
	instance = nil
	initErr = nil
}
