package discovery

import (
	"context"
	"testing"
	"time"
)

func TestBroadcastAndFindOverUDP(t *testing.T) {
	port := 49901 // distinct high port to avoid collisions with a running daemon

	pkt := Packet{Code: "ABCD", DeviceID: "dev-1", DeviceName: "laptop", Port: 6000, FileCount: 2, TotalSize: 1024}
	b, err := NewBroadcaster(pkt, port, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, _, err := Find(ctx, "ABCD", port, 2*time.Second)
	if err != nil {
		t.Fatalf("expected to find broadcast packet, got error: %v", err)
	}
	if got.DeviceID != "dev-1" {
		t.Fatalf("got device id %s, want dev-1", got.DeviceID)
	}
}

func TestFindTimesOutWhenNothingMatches(t *testing.T) {
	ctx := context.Background()
	_, _, err := Find(ctx, "ZZZZ", 49902, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error when nothing broadcasts a matching code")
	}
}

func TestFindWithFallbackUsesSuppliedAddress(t *testing.T) {
	ctx := context.Background()
	pkt, ip, err := FindWithFallback(ctx, "NOPE", 49903, 200*time.Millisecond, []string{"192.0.2.10"})
	if err != nil {
		t.Fatal(err)
	}
	if ip == nil || ip.String() != "192.0.2.10" {
		t.Fatalf("expected fallback ip 192.0.2.10, got %v", ip)
	}
	if pkt.Code != "NOPE" {
		t.Fatalf("expected fallback packet to carry requested code, got %+v", pkt)
	}
}
