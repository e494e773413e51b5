package hncp

import "github.com/google/uuid"

// Handle identifies one TLV added through the Local Publisher, returned by
// AddTLV and consumed by RemoveTLV.
type Handle uuid.UUID

// republishDelayMs is the coalescing window: bursts of AddTLV/RemoveTLV
// calls within this window are folded into a single publish.
const republishDelayMs = 20

// publisher is the Local Publisher: it owns the node's own TLV
// multiset and republishes it into Store under one update_number per
// coalesced burst of changes. Confined to the scheduler goroutine, like
// Store.
type publisher struct {
	store *Store
	bus   *bus

	clock     Clock
	scheduler Scheduler

	local     []TLV // working set, mutated synchronously by Add/Remove
	published []TLV // last set actually handed to Store.Upsert

	handles map[Handle]TLV

	nextUpdateNumber uint32
	forceRepublish   bool
	flushPending     bool
	flushTimer       TimerHandle

	// onFlush is invoked after a publish lands in Store, so the flooding
	// component can schedule an immediate flood of the new node state.
	onFlush func()
}

func newPublisher(store *Store, b *bus, clock Clock, sched Scheduler) *publisher {
	return &publisher{
		store:     store,
		bus:       b,
		clock:     clock,
		scheduler: sched,
		handles:   make(map[Handle]TLV),
	}
}

// AddTLV inserts value under typ into the local TLV set and schedules a
// publish. Returns ErrDuplicateTlv if an identical encoded TLV is already
// present.
func (p *publisher) AddTLV(typ uint16, value []byte) (Handle, error) {
	t := TLV{Type: typ, Value: append([]byte(nil), value...)}
	next, err := insertSorted(p.local, t)
	if err != nil {
		return Handle{}, err
	}
	p.local = next
	h := Handle(uuid.New())
	p.handles[h] = t
	p.scheduleFlush()
	return h, nil
}

// RemoveTLV removes the TLV previously returned by AddTLV and schedules a
// publish. A second removal, or removal of an unknown handle, is a no-op.
func (p *publisher) RemoveTLV(h Handle) {
	t, ok := p.handles[h]
	if !ok {
		return
	}
	delete(p.handles, h)
	for i, existing := range p.local {
		if compareTLV(existing, t) == 0 {
			p.local = removeAt(p.local, i)
			break
		}
	}
	p.scheduleFlush()
}

func (p *publisher) scheduleFlush() {
	if p.flushPending {
		return
	}
	p.flushPending = true
	p.flushTimer = p.scheduler.ScheduleAt(p.clock.NowMs()+republishDelayMs, p.flush)
}

// flush bumps update_number once for all changes accumulated since the
// last flush, re-hashes, and publishes into Store under own_node.
func (p *publisher) flush() {
	p.flushPending = false

	removed, added := diffTLVs(p.published, p.local)
	if len(removed) == 0 && len(added) == 0 && !p.forceRepublish {
		return
	}
	p.forceRepublish = false

	p.nextUpdateNumber++
	now := p.clock.NowMs()
	p.store.Upsert(p.store.ownID, p.local, p.nextUpdateNumber, now)
	p.published = cloneTLVs(p.local)

	p.bus.fireLocalTLVChange(added, removed)

	if p.onFlush != nil {
		p.onFlush()
	}
}

// bumpAbove makes sure the next publish carries an update number strictly
// greater than n, republishing the current set even if it is unchanged.
// Used when the network still floods a previous incarnation of this node
// id, whose update numbers must be leapfrogged for peers to accept ours.
func (p *publisher) bumpAbove(n uint32) {
	if p.nextUpdateNumber > n {
		return
	}
	p.nextUpdateNumber = n
	p.forceRepublish = true
	p.scheduleFlush()
}

// cancel aborts a pending coalesced flush, used when the engine is shutting
// down and no further publish should fire.
func (p *publisher) cancel() {
	if p.flushPending {
		p.scheduler.Cancel(p.flushTimer)
		p.flushPending = false
	}
}
