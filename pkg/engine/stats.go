package engine

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Statistics are engine-wide lock-free counters. Value is accumulated in
// integer cents to stay exact under atomics.
type Statistics struct {
	OrdersProcessed atomic.Uint64
	TradesExecuted  atomic.Uint64
	OrdersRejected  atomic.Uint64
	TotalVolume     atomic.Uint64
	TotalValueCents atomic.Uint64

	MinProcessingNs   atomic.Uint64
	MaxProcessingNs   atomic.Uint64
	TotalProcessingNs atomic.Uint64

	startTime time.Time
}

func NewStatistics() *Statistics {
	s := &Statistics{}
	s.Reset()
	return s
}

func (s *Statistics) Reset() {
	s.OrdersProcessed.Store(0)
	s.TradesExecuted.Store(0)
	s.OrdersRejected.Store(0)
	s.TotalVolume.Store(0)
	s.TotalValueCents.Store(0)
	s.MinProcessingNs.Store(math.MaxUint64)
	s.MaxProcessingNs.Store(0)
	s.TotalProcessingNs.Store(0)
	s.startTime = time.Now()
}

func (s *Statistics) recordTrade(qty int64, price float64) {
	s.TradesExecuted.Add(1)
	s.TotalVolume.Add(uint64(qty))
	s.TotalValueCents.Add(uint64(math.Round(price*100)) * uint64(qty))
}

func (s *Statistics) recordProcessing(d time.Duration) {
	ns := uint64(d.Nanoseconds())
	s.TotalProcessingNs.Add(ns)

	for {
		cur := s.MinProcessingNs.Load()
		if ns >= cur || s.MinProcessingNs.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := s.MaxProcessingNs.Load()
		if ns <= cur || s.MaxProcessingNs.CompareAndSwap(cur, ns) {
			break
		}
	}
}

// AverageProcessingTimeUs is derived on read.
func (s *Statistics) AverageProcessingTimeUs() float64 {
	processed := s.OrdersProcessed.Load()
	if processed == 0 {
		return 0
	}
	return float64(s.TotalProcessingNs.Load()) / float64(processed) / 1e3
}

// ThroughputPerSecond is orders processed since start or the last Reset.
func (s *Statistics) ThroughputPerSecond() float64 {
	elapsed := time.Since(s.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.OrdersProcessed.Load()) / elapsed
}

func (s *Statistics) String() string {
	minNs := s.MinProcessingNs.Load()
	if minNs == math.MaxUint64 {
		minNs = 0
	}
	return fmt.Sprintf(
		"orders=%d trades=%d rejected=%d volume=%d value_cents=%d avg_us=%.2f min_ns=%d max_ns=%d throughput=%.1f/s",
		s.OrdersProcessed.Load(),
		s.TradesExecuted.Load(),
		s.OrdersRejected.Load(),
		s.TotalVolume.Load(),
		s.TotalValueCents.Load(),
		s.AverageProcessingTimeUs(),
		minNs,
		s.MaxProcessingNs.Load(),
		s.ThroughputPerSecond(),
	)
}
