package node

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func freeTCPPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func freeUDPPort(t *testing.T) int {
	t.Helper()
	c, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).Port
}

func testServiceConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Name = "svc"
	cfg.ListenHost = "127.0.0.1"
	cfg.AdvertiseHost = "127.0.0.1"
	cfg.Port = freeTCPPort(t)
	cfg.DiscoveryAddr = "127.0.0.1"
	cfg.DiscoveryPort = freeUDPPort(t)
	cfg.DiscoveryInterval = 50 * time.Millisecond
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.StaleTimeout = time.Second
	cfg.SweepInterval = 50 * time.Millisecond
	return cfg
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport = "carrier-pigeon"
	if _, err := NewService(cfg, nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestServiceRunAndStop(t *testing.T) {
	svc, err := NewService(testServiceConfig(t), zaptest.NewLogger(t), nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if svc.Coordinator().Identity().PeerID == "" {
		t.Fatal("Expected a generated peer id")
	}

	events, cancelSub := svc.Events().Subscribe(16)
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !svc.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !svc.IsRunning() {
		t.Fatal("Service did not start")
	}
	if err := svc.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	// Let a few announce rounds loop back to our own socket.
	time.Sleep(200 * time.Millisecond)
	if n := svc.Coordinator().Status().Peers; n != 0 {
		t.Errorf("Expected own announcements to be ignored, got %d peers", n)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if svc.IsRunning() {
		t.Error("Expected IsRunning false after Run returns")
	}

	for range events {
	}
}

func TestServiceReleasesOnDiscoveryFailure(t *testing.T) {
	cfg := testServiceConfig(t)
	cfg.DiscoveryAddr = "not a host!"
	svc, err := NewService(cfg, zaptest.NewLogger(t), nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	events, cancelSub := svc.Events().Subscribe(4)
	defer cancelSub()

	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("Expected Run to fail on an unresolvable discovery address")
	}
	if svc.IsRunning() {
		t.Error("Expected IsRunning false after a failed start")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Error("Expected no events from a failed start")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected event stream to close after a failed start")
	}
}
