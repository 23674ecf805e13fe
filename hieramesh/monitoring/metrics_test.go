package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/VanDung-dev/HieraMesh/hieramesh/node"
	"github.com/VanDung-dev/HieraMesh/hieramesh/protocol"
)

var _ node.Recorder = (*Metrics)(nil)

func TestMetricsRecorder(t *testing.T) {
	m := NewMetrics("mesh")

	m.Received(protocol.KindChat)
	m.Received(protocol.KindChat)
	m.Rejected(protocol.KindChat, protocol.ReasonUnsigned)
	m.Rejected("", protocol.ReasonDecode)
	m.Delivered(protocol.KindVote, nil, 2*time.Millisecond)
	m.Delivered(protocol.KindVote, errors.New("refused"), time.Millisecond)
	m.PeerCount(3)
	m.SecureMode(true)

	if got := testutil.ToFloat64(m.MessagesReceived.WithLabelValues("chat")); got != 2 {
		t.Errorf("Expected 2 chats received, got %v", got)
	}
	if got := testutil.ToFloat64(m.MessagesRejected.WithLabelValues("chat", "unsigned_rejected")); got != 1 {
		t.Errorf("Expected 1 unsigned rejection, got %v", got)
	}
	if got := testutil.ToFloat64(m.MessagesRejected.WithLabelValues("unknown", "decode_error")); got != 1 {
		t.Errorf("Expected 1 decode rejection, got %v", got)
	}
	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("vote", "error")); got != 1 {
		t.Errorf("Expected 1 failed delivery, got %v", got)
	}
	if got := testutil.ToFloat64(m.Peers); got != 3 {
		t.Errorf("Expected 3 peers, got %v", got)
	}
	if got := testutil.ToFloat64(m.SecureOnly); got != 1 {
		t.Errorf("Expected secure_only 1, got %v", got)
	}
	if n := testutil.CollectAndCount(m.DeliveryLatency); n != 1 {
		t.Errorf("Expected one latency series, got %d", n)
	}
}

func TestSeparateRegistries(t *testing.T) {
	a := NewMetrics("mesh")
	b := NewMetrics("mesh")
	a.PeerCount(5)
	if got := testutil.ToFloat64(b.Peers); got != 0 {
		t.Errorf("Expected independent registries, got %v", got)
	}
}
