package trust

import (
	"path/filepath"
	"testing"
)

func TestUpsertAndFind(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "trust.json"))

	dev := Device{DeviceID: "d-1", Name: "alice-laptop", PublicKey: "pub-a", Trust: LevelFull}
	if err := store.Upsert(dev); err != nil {
		t.Fatal(err)
	}

	got, ok, err := store.Find("d-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected device to be found")
	}
	if got != dev {
		t.Fatalf("got %+v, want %+v", got, dev)
	}
}

func TestFindMissingDevice(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "trust.json"))
	_, ok, err := store.Find("nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected missing device to not be found")
	}
}

func TestUpsertRejectsPublicKeyChange(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "trust.json"))
	if err := store.Upsert(Device{DeviceID: "d-1", PublicKey: "pub-a", Trust: LevelFull}); err != nil {
		t.Fatal(err)
	}
	err := store.Upsert(Device{DeviceID: "d-1", PublicKey: "pub-b", Trust: LevelFull})
	if err == nil {
		t.Fatal("expected public key change to be rejected")
	}

	got, _, _ := store.Find("d-1")
	if got.PublicKey != "pub-a" {
		t.Fatalf("public key should remain pub-a, got %s", got.PublicKey)
	}
}

func TestListReturnsAllDevices(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "trust.json"))
	store.Upsert(Device{DeviceID: "d-1", PublicKey: "pub-a"})
	store.Upsert(Device{DeviceID: "d-2", PublicKey: "pub-b"})

	devices, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
}

func TestPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")
	store1 := NewFileStore(path)
	store1.Upsert(Device{DeviceID: "d-1", PublicKey: "pub-a", Trust: LevelAskEachTime})

	store2 := NewFileStore(path)
	got, ok, err := store2.Find("d-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got.Trust != LevelAskEachTime {
		t.Fatalf("expected persisted device, got %+v ok=%v", got, ok)
	}
}
