package hncp

import (
	"sync"
	"time"
)

// systemClock implements Clock as the wall-clock time at process start
// plus the monotonic time elapsed since, so its readings never step
// backwards within one process.
type systemClock struct{}

// processStart anchors systemClock's readings.
var processStart = time.Now()

// NewSystemClock returns the default Clock implementation for a running
// daemon.
func NewSystemClock() Clock { return systemClock{} }

func (systemClock) NowMs() int64 {
	return processStart.UnixMilli() + time.Since(processStart).Milliseconds()
}

// NewRealtimeEngine constructs an Engine wired to the system clock and a
// time.AfterFunc-backed Scheduler, the configuration every real daemon
// wants. cfg.Clock and cfg.Scheduler are overwritten; tests that need a
// fake clock use New directly.
func NewRealtimeEngine(cfg Config) *Engine {
	var e *Engine
	cfg.Clock = NewSystemClock()
	cfg.Scheduler = NewEngineScheduler(func(fn func()) { e.enqueue(fn) })
	e = New(cfg)
	return e
}

// engineScheduler implements Scheduler by posting fired callbacks onto an
// engine's command channel via enqueue, rather than invoking them from the
// time.AfterFunc goroutine directly: callbacks must only ever run on the
// scheduler goroutine.
type engineScheduler struct {
	enqueue func(func())

	mu     sync.Mutex
	timers map[TimerHandle]*time.Timer
	nextID TimerHandle
}

// NewEngineScheduler returns a Scheduler that marshals every fired timer
// onto enqueue. Pair with an *Engine's internal enqueue method.
func NewEngineScheduler(enqueue func(func())) Scheduler {
	return &engineScheduler{enqueue: enqueue, timers: make(map[TimerHandle]*time.Timer)}
}

func (s *engineScheduler) ScheduleAt(whenMs int64, callback func()) TimerHandle {
	delay := time.Duration(whenMs-systemClock{}.NowMs()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	t := time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.timers[id]
		delete(s.timers, id)
		s.mu.Unlock()
		if live {
			s.enqueue(callback)
		}
	})

	s.mu.Lock()
	s.timers[id] = t
	s.mu.Unlock()
	return id
}

func (s *engineScheduler) Cancel(h TimerHandle) {
	s.mu.Lock()
	t, ok := s.timers[h]
	delete(s.timers, h)
	s.mu.Unlock()
	if ok {
		t.Stop()
	}
}
