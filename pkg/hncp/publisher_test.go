package hncp

import (
	"errors"
	"testing"
)

func newTestPublisher() (*publisher, *fakeScheduler, *Store) {
	clock := &fakeClock{}
	sched := newFakeScheduler(clock)
	b := newBus()
	store := newStore(testNodeID(0), b, nil)
	pub := newPublisher(store, b, clock, sched)
	return pub, sched, store
}

func TestPublisherAddTLVDuplicateRejected(t *testing.T) {
	pub, _, _ := newTestPublisher()
	if _, err := pub.AddTLV(1, []byte("x")); err != nil {
		t.Fatalf("first AddTLV: %v", err)
	}
	if _, err := pub.AddTLV(1, []byte("x")); !errors.Is(err, ErrDuplicateTlv) {
		t.Fatalf("second identical AddTLV: got %v, want ErrDuplicateTlv", err)
	}
}

func TestPublisherRemoveTLVIdempotent(t *testing.T) {
	pub, sched, _ := newTestPublisher()
	h, err := pub.AddTLV(1, []byte("x"))
	if err != nil {
		t.Fatalf("AddTLV: %v", err)
	}
	sched.Advance(republishDelayMs)

	pub.RemoveTLV(h)
	pub.RemoveTLV(h) // must be a no-op, not an error
	sched.Advance(republishDelayMs)
}

func TestPublisherCoalescesBurstIntoOneUpdateNumber(t *testing.T) {
	pub, sched, store := newTestPublisher()

	if _, err := pub.AddTLV(1, []byte("a")); err != nil {
		t.Fatalf("AddTLV a: %v", err)
	}
	if _, err := pub.AddTLV(2, []byte("b")); err != nil {
		t.Fatalf("AddTLV b: %v", err)
	}
	if _, err := pub.AddTLV(3, []byte("c")); err != nil {
		t.Fatalf("AddTLV c: %v", err)
	}

	sched.Advance(republishDelayMs)

	rec := store.Own()
	if rec == nil {
		t.Fatal("own record not published")
	}
	if rec.UpdateNumber != 1 {
		t.Errorf("update_number = %d, want 1 (one coalesced publish for the whole burst)", rec.UpdateNumber)
	}
	if len(rec.TLVs) != 3 {
		t.Errorf("published %d tlvs, want 3", len(rec.TLVs))
	}
}

func TestPublisherFlushFiresOnFlushHook(t *testing.T) {
	pub, sched, _ := newTestPublisher()
	fired := false
	pub.onFlush = func() { fired = true }

	if _, err := pub.AddTLV(1, []byte("a")); err != nil {
		t.Fatalf("AddTLV: %v", err)
	}
	sched.Advance(republishDelayMs)

	if !fired {
		t.Error("onFlush was not called after a coalesced publish")
	}
}

func TestPublisherLocalTLVChangeFiresInCanonicalOrder(t *testing.T) {
	pub, sched, _ := newTestPublisher()
	var addedSeen []TLV
	pub.bus.subscribe(&Observer{OnLocalTLVChange: func(added, removed []TLV) {
		addedSeen = added
	}})

	pub.AddTLV(5, []byte("z"))
	pub.AddTLV(2, []byte("a"))
	sched.Advance(republishDelayMs)

	if len(addedSeen) != 2 || addedSeen[0].Type != 2 || addedSeen[1].Type != 5 {
		t.Errorf("added = %+v, want ascending-type order [2, 5]", addedSeen)
	}
}
