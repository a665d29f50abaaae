package identity

import (
	"path/filepath"
	"testing"
)

func TestLoadGeneratesAndPersists(t *testing.T) {
	ResetForTest()
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")

	id, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if id.DeviceID() == "" {
		t.Fatal("expected non-empty device id")
	}

	ResetForTest()
	id2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if id2.DeviceID() != id.DeviceID() {
		t.Fatalf("device id changed across reload: %s != %s", id2.DeviceID(), id.DeviceID())
	}
	if id2.PublicKeyBase64() != id.PublicKeyBase64() {
		t.Fatal("public key changed across reload")
	}
}

func TestLoadIsSingletonWithinProcess(t *testing.T) {
	ResetForTest()
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")
	otherPath := filepath.Join(dir, "other.json")

	id1, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := Load(otherPath)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatal("Load should return the same process-wide instance regardless of path")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	ResetForTest()
	dir := t.TempDir()
	id, err := Load(filepath.Join(dir, "identity.json"))
	if err != nil {
		t.Fatal(err)
	}

	msg := []byte("trusted-hello-nonce")
	sig := id.Sign(msg)
	if !Verify(id.PublicKeyBase64(), msg, sig) {
		t.Fatal("valid signature failed verification")
	}
	if Verify(id.PublicKeyBase64(), []byte("tampered"), sig) {
		t.Fatal("signature verified against wrong message")
	}
}
