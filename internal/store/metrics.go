package store

import (
	"sync/atomic"
	"time"
)

type Metrics struct {
	Reads         int64 `json:"reads"`
	Writes        int64 `json:"writes"`
	Errors        int64 `json:"errors"`
	Deliveries    int64 `json:"deliveries"`
	Subscriptions int64 `json:"subscriptions"`
	StartTime     int64 `json:"start_time"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		StartTime: time.Now().Unix(),
	}
}

func (m *Metrics) RecordRead() {
	atomic.AddInt64(&m.Reads, 1)
}

func (m *Metrics) RecordWrite() {
	atomic.AddInt64(&m.Writes, 1)
}

func (m *Metrics) RecordError() {
	atomic.AddInt64(&m.Errors, 1)
}

func (m *Metrics) RecordDelivery() {
	atomic.AddInt64(&m.Deliveries, 1)
}

func (m *Metrics) subscribed() {
	atomic.AddInt64(&m.Subscriptions, 1)
}

func (m *Metrics) unsubscribed() {
	atomic.AddInt64(&m.Subscriptions, -1)
}

func (m *Metrics) GetStats() Metrics {
	return Metrics{
		Reads:         atomic.LoadInt64(&m.Reads),
		Writes:        atomic.LoadInt64(&m.Writes),
		Errors:        atomic.LoadInt64(&m.Errors),
		Deliveries:    atomic.LoadInt64(&m.Deliveries),
		Subscriptions: atomic.LoadInt64(&m.Subscriptions),
		StartTime:     m.StartTime,
	}
}

// ErrorRate returns failed operations as a percentage of all reads and writes.
func (m *Metrics) ErrorRate() float64 {
	ops := atomic.LoadInt64(&m.Reads) + atomic.LoadInt64(&m.Writes)
	if ops == 0 {
		return 0.0
	}
	return float64(atomic.LoadInt64(&m.Errors)) / float64(ops) * 100.0
}
