package network

import (
	"context"
	"net"
	"testing"
	"time"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket failed: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	_ = conn.Close()
	return port
}

func TestDiscoveryAnnounceLoopback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := freeUDPPort(t)
	sock, err := ListenDiscovery(ctx, "127.0.0.1", port)
	if err != nil {
		t.Fatalf("ListenDiscovery failed: %v", err)
	}
	defer sock.Close()

	received := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- sock.Serve(ctx, func(data []byte, from string) {
			received <- string(data)
		})
	}()

	if err := sock.Announce([]byte("hello-peers")); err != nil {
		t.Fatalf("Announce failed: %v", err)
	}

	select {
	case got := <-received:
		if got != "hello-peers" {
			t.Errorf("Expected hello-peers, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for datagram")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil from Serve, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop on cancel")
	}
}

func TestDiscoverySharedPort(t *testing.T) {
	ctx := context.Background()
	port := freeUDPPort(t)

	first, err := ListenDiscovery(ctx, "127.0.0.1", port)
	if err != nil {
		t.Fatalf("first ListenDiscovery failed: %v", err)
	}
	defer first.Close()

	second, err := ListenDiscovery(ctx, "127.0.0.1", port)
	if err != nil {
		t.Skipf("port sharing unavailable on this platform: %v", err)
	}
	_ = second.Close()
}
