package hncp

import "math/rand/v2"

// TrickleConfig bounds one endpoint's trickle timer.
type TrickleConfig struct {
	IMinMs uint32
	IMaxMs uint32
	K      int
}

// DefaultTrickleConfig uses the conventional residential-LAN bounds.
func DefaultTrickleConfig() TrickleConfig {
	return TrickleConfig{IMinMs: 200, IMaxMs: 60_000, K: 1}
}

// trickleTimer implements the per-endpoint adaptive suppression/retransmit
// timer. It owns no network state: onTransmit is called at the
// chosen send time within an interval when fewer than K consistent
// messages have been observed since that interval began.
type trickleTimer struct {
	cfg       TrickleConfig
	clock     Clock
	scheduler Scheduler

	onTransmit func()

	// onIntervalEnd reports the new interval length each time the
	// interval elapses and doubles, for observability.
	onIntervalEnd func(intervalMs uint32)

	intervalMs uint32
	c          int

	sendTimer     TimerHandle
	intervalTimer TimerHandle
	running       bool
}

func newTrickleTimer(cfg TrickleConfig, clock Clock, sched Scheduler, onTransmit func()) *trickleTimer {
	return &trickleTimer{cfg: cfg, clock: clock, scheduler: sched, onTransmit: onTransmit}
}

// Start begins the timer at I_min.
func (t *trickleTimer) Start() {
	t.running = true
	t.intervalMs = t.cfg.IMinMs
	t.beginInterval()
}

// Stop cancels both pending timers.
func (t *trickleTimer) Stop() {
	if !t.running {
		return
	}
	t.running = false
	t.scheduler.Cancel(t.sendTimer)
	t.scheduler.Cancel(t.intervalTimer)
}

func (t *trickleTimer) beginInterval() {
	t.c = 0
	half := t.intervalMs / 2
	jitter := uint32(0)
	if half > 0 {
		jitter = rand.Uint32N(half)
	}
	sendAt := half + jitter // T in [I/2, I)
	now := t.clock.NowMs()
	t.sendTimer = t.scheduler.ScheduleAt(now+int64(sendAt), t.fireSend)
	t.intervalTimer = t.scheduler.ScheduleAt(now+int64(t.intervalMs), t.fireEndInterval)
}

func (t *trickleTimer) fireSend() {
	if !t.running {
		return
	}
	if t.c < t.cfg.K {
		t.onTransmit()
	}
}

func (t *trickleTimer) fireEndInterval() {
	if !t.running {
		return
	}
	next := t.intervalMs * 2
	if next > t.cfg.IMaxMs || next < t.intervalMs {
		next = t.cfg.IMaxMs
	}
	t.intervalMs = next
	if t.onIntervalEnd != nil {
		t.onIntervalEnd(next)
	}
	t.beginInterval()
}

// OnConsistent records a peer network-state message whose hash matched
// ours, suppressing our own retransmission.
func (t *trickleTimer) OnConsistent() {
	t.c++
}

// OnInconsistent resets to I_min and restarts the interval when we were
// not already running at the fast rate.
func (t *trickleTimer) OnInconsistent() {
	if t.intervalMs <= t.cfg.IMinMs {
		return
	}
	t.scheduler.Cancel(t.sendTimer)
	t.scheduler.Cancel(t.intervalTimer)
	t.intervalMs = t.cfg.IMinMs
	t.beginInterval()
}

// ForceImmediate sends outside the current interval and resets trickle to
// I_min, used by the immediate-flood rule on a local publish.
func (t *trickleTimer) ForceImmediate() {
	if !t.running {
		return
	}
	t.onTransmit()
	t.scheduler.Cancel(t.sendTimer)
	t.scheduler.Cancel(t.intervalTimer)
	t.intervalMs = t.cfg.IMinMs
	t.beginInterval()
}
