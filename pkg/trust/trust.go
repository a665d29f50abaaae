// Package trust implements the TrustedDevice record (§3) and the store
// collaborator the session layer reads/writes on successful codeless
// handshakes (§6: "Trust store: list of TrustedDevice records").
package trust

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Level is the trust level recorded for a peer.
type Level string

const (
	LevelFull         Level = "full"
	LevelAskEachTime  Level = "ask_each_time"
)

// Device is one trusted-peer record.
type Device struct {
	DeviceID   string `json:"device_id"`
	Name       string `json:"name"`
	PublicKey  string `json:"public_key"`
	Trust      Level  `json:"trust"`
	LastSeenIP string `json:"last_seen_ip,omitempty"`
	LastSeenPort int  `json:"last_seen_port,omitempty"`
}

// Store is the collaborator contract: find, upsert, and list trusted
// devices. A public-key change for an existing device-id must be
// rejected, never silently accepted (§3 invariant).
type Store interface {
	Find(deviceID string) (Device, bool, error)
	Upsert(d Device) error
	List() ([]Device, error)
}

// FileStore is a simple JSON-file-backed Store, one record per device,
// guarded by an in-process mutex and written atomically (write-temp +
// rename), matching the resume manager's durability approach (§4.I).
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens (or prepares to create) a trust store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) load() (map[string]Device, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Device{}, nil
		}
		return nil, fmt.Errorf("read trust store: %w", err)
	}
	var devices []Device
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("parse trust store: %w", err)
	}
	m := make(map[string]Device, len(devices))
	for _, d := range devices {
		m[d.DeviceID] = d
	}
	return m, nil
}

func (s *FileStore) save(m map[string]Device) error {
	devices := make([]Device, 0, len(m))
	for _, d := range m {
		devices = append(devices, d)
	}
	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trust store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create trust store directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write trust store temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename trust store temp file: %w", err)
	}
	return nil
}

// Find returns the record for deviceID, if any.
func (s *FileStore) Find(deviceID string) (Device, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return Device{}, false, err
	}
	d, ok := m[deviceID]
	return d, ok, nil
}

// Upsert inserts or updates a device record. Rejects a public-key
// change for an existing device-id (§3 invariant): callers that detect
// a legitimate re-key must delete the old record explicitly first.
func (s *FileStore) Upsert(d Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	if existing, ok := m[d.DeviceID]; ok && existing.PublicKey != d.PublicKey {
		return fmt.Errorf("trust store: public key change rejected for device %s", d.DeviceID)
	}
	m[d.DeviceID] = d
	return s.save(m)
}

// List returns all trusted devices.
func (s *FileStore) List() ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(m))
	for _, d := range m {
		devices = append(devices, d)
	}
	return devices, nil
}
