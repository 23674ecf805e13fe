package main

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/VanDung-dev/HieraMesh/hieramesh/network"
)

// Result holds the results of a load run.
type Result struct {
	Total          int64            `json:"total"`
	Successful     int64            `json:"successful"`
	Failed         int64            `json:"failed"`
	FailuresByKind map[string]int64 `json:"failures_by_kind,omitempty"`
	TotalDuration  time.Duration    `json:"total_duration_ns"`
	AvgLatency     time.Duration    `json:"avg_latency_ns"`
	MinLatency     time.Duration    `json:"min_latency_ns"`
	MaxLatency     time.Duration    `json:"max_latency_ns"`
	PerSecond      float64          `json:"messages_per_sec"`
}

func (r Result) percent(n int64) float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(n) / float64(r.Total) * 100
}

type stats struct {
	mu         sync.Mutex
	total      int64
	ok         int64
	failed     map[string]int64
	latencySum time.Duration
	min, max   time.Duration
}

func newStats() *stats {
	return &stats{failed: make(map[string]int64), min: math.MaxInt64}
}

func (s *stats) record(latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if err != nil {
		kind := "other"
		var se *network.SendError
		if errors.As(err, &se) {
			kind = se.Kind.String()
		}
		s.failed[kind]++
		return
	}
	s.ok++
	s.latencySum += latency
	if latency < s.min {
		s.min = latency
	}
	if latency > s.max {
		s.max = latency
	}
}

func (s *stats) result(elapsed time.Duration) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := Result{
		Total:         s.total,
		Successful:    s.ok,
		Failed:        s.total - s.ok,
		TotalDuration: elapsed,
		MaxLatency:    s.max,
	}
	if len(s.failed) > 0 {
		r.FailuresByKind = make(map[string]int64, len(s.failed))
		for k, v := range s.failed {
			r.FailuresByKind[k] = v
		}
	}
	if s.ok > 0 {
		r.AvgLatency = s.latencySum / time.Duration(s.ok)
		r.MinLatency = s.min
	}
	if elapsed > 0 {
		r.PerSecond = float64(s.total) / elapsed.Seconds()
	}
	return r
}
