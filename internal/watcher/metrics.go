package watcher

import (
	"sync/atomic"
	"time"
)

type Metrics struct {
	eventsProcessed atomic.Int64
	filesSent       atomic.Int64
	errors          atomic.Int64
	lastEventTime   atomic.Int64 // unix nano
}

func (m *Metrics) RecordEvent() {
	m.eventsProcessed.Add(1)
	m.lastEventTime.Store(time.Now().UnixNano())
}

func (m *Metrics) RecordFileSent() {
	m.filesSent.Add(1)
}

func (m *Metrics) RecordError() {
	m.errors.Add(1)
}

// Stats - снимок счетчиков
type Stats struct {
	EventsProcessed int64
	FilesSent       int64
	Errors          int64
	LastEventTime   time.Time
}

func (m *Metrics) Stats() Stats {
	s := Stats{
		EventsProcessed: m.eventsProcessed.Load(),
		FilesSent:       m.filesSent.Load(),
		Errors:          m.errors.Load(),
	}
	if ts := m.lastEventTime.Load(); ts != 0 {
		s.LastEventTime = time.Unix(0, ts)
	}
	return s
}
