package hncp

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestEngine(t *testing.T) (*Engine, context.CancelFunc) {
	clock := NewSystemClock()
	var e *Engine
	sched := NewEngineScheduler(func(fn func()) { e.enqueue(fn) })
	e = New(Config{
		OwnID:        testNodeID(0),
		Clock:        clock,
		Scheduler:    sched,
		Flooding:     DefaultFloodingConfig(),
		Reachability: DefaultReachabilityConfig(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		e.Close()
		<-done
	})
	return e, cancel
}

func TestEngineAddTLVVisibleOnOwnNode(t *testing.T) {
	e, _ := newTestEngine(t)

	if _, err := e.AddTLV(AgentTLVRangeStart, []byte("hello")); err != nil {
		t.Fatalf("AddTLV: %v", err)
	}

	// The publish is coalesced over republishDelayMs; poll briefly rather
	// than assume immediate visibility.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec := e.OwnNode(); rec != nil && len(rec.TLVs) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("own_node never reflected the added TLV within the coalesce window")
}

func TestEngineSubscribeUnsubscribe(t *testing.T) {
	e, _ := newTestEngine(t)

	calls := 0
	obs := &Observer{OnLocalTLVChange: func(added, removed []TLV) { calls++ }}
	e.Subscribe(obs)

	if _, err := e.AddTLV(AgentTLVRangeStart, []byte("x")); err != nil {
		t.Fatalf("AddTLV: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	e.Unsubscribe(obs)

	if _, err := e.AddTLV(AgentTLVRangeStart+1, []byte("y")); err != nil {
		t.Fatalf("AddTLV: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if calls != 1 {
		t.Errorf("observer fired %d times, want exactly 1 (before unsubscribe)", calls)
	}
}

func TestEngineCloseFiresNodeRemovalForNonSelf(t *testing.T) {
	e, _ := newTestEngine(t)

	other := testNodeID(7)
	removed := false
	e.Subscribe(&Observer{OnNodeChange: func(id NodeID, present, _ bool) {
		if id == other && !present {
			removed = true
		}
	}})
	e.call(func() { e.store.Upsert(other, nil, 1, 0) })

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !removed {
		t.Error("Close did not fire OnNodeChange(removed) for the non-self node")
	}
}
