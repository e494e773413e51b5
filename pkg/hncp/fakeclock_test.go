package hncp

import "sort"

// fakeClock and fakeScheduler give deterministic, single-threaded control
// over time for unit tests: scheduled callbacks never fire on their own,
// only when the test calls Advance.
type fakeClock struct {
	nowMs int64
}

func (c *fakeClock) NowMs() int64 { return c.nowMs }

type pendingTimer struct {
	id   TimerHandle
	when int64
	fn   func()
	live bool
}

type fakeScheduler struct {
	clock   *fakeClock
	pending []*pendingTimer
	nextID  TimerHandle
}

func newFakeScheduler(c *fakeClock) *fakeScheduler {
	return &fakeScheduler{clock: c}
}

func (s *fakeScheduler) ScheduleAt(whenMs int64, callback func()) TimerHandle {
	s.nextID++
	s.pending = append(s.pending, &pendingTimer{id: s.nextID, when: whenMs, fn: callback, live: true})
	return s.nextID
}

func (s *fakeScheduler) Cancel(h TimerHandle) {
	for _, t := range s.pending {
		if t.id == h {
			t.live = false
		}
	}
}

// Advance moves the clock forward by deltaMs and fires every timer whose
// deadline has passed, in deadline order.
func (s *fakeScheduler) Advance(deltaMs int64) {
	s.clock.nowMs += deltaMs
	for {
		due := s.dueTimers()
		if len(due) == 0 {
			return
		}
		for _, t := range due {
			t.live = false
			t.fn()
		}
	}
}

func (s *fakeScheduler) dueTimers() []*pendingTimer {
	var due []*pendingTimer
	for _, t := range s.pending {
		if t.live && t.when <= s.clock.nowMs {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].when < due[j].when })
	return due
}
