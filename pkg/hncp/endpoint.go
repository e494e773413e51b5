package hncp

import (
	"math/rand/v2"
	"net"
)

// EndpointConfig bounds one endpoint's trickle and keepalive behavior.
type EndpointConfig struct {
	Trickle             TrickleConfig
	KeepaliveMs         uint32
	KeepaliveMultiplier float64
}

// DefaultEndpointConfig suits a typical residential LAN link.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		Trickle:             DefaultTrickleConfig(),
		KeepaliveMs:         20_000,
		KeepaliveMultiplier: 3.5,
	}
}

type neighbourKey struct {
	peerID         NodeID
	peerEndpointID uint32
}

// NeighbourInfo is one discovered peer on an endpoint.
type NeighbourInfo struct {
	PeerNodeID      NodeID
	PeerEndpointID  uint32
	PeerAddr        net.Addr
	LocalEndpointID uint32
	LastHeardAt     int64
	LastSentAt      int64
	PeerKeepaliveMs uint32 // 0 until a KEEPALIVE_INTERVAL TLV is observed for this peer
}

// Endpoint holds one link's configuration, transport, trickle state, and
// discovered neighbour set.
type Endpoint struct {
	Name      string
	ID        uint32
	Transport Transport
	Config    EndpointConfig

	clock     Clock
	scheduler Scheduler

	neighbours map[neighbourKey]*NeighbourInfo
	trickle    *trickleTimer

	keepaliveHandle TimerHandle
	running         bool

	// OnTrickleFire is called when this endpoint's trickle timer decides
	// to transmit (fewer than K consistent messages observed); wired by
	// the flooding component, which owns message construction.
	OnTrickleFire func(ep *Endpoint)

	// OnNeighbourReaped is called when a neighbour is dropped for silence
	// past its keepalive deadline.
	OnNeighbourReaped func(ep *Endpoint, n *NeighbourInfo)

	// OnTrickleInterval reports each doubled trickle interval length,
	// for observability.
	OnTrickleInterval func(ep *Endpoint, intervalMs uint32)
}

func newEndpoint(name string, id uint32, transport Transport, cfg EndpointConfig, clock Clock, sched Scheduler) *Endpoint {
	return &Endpoint{
		Name:       name,
		ID:         id,
		Transport:  transport,
		Config:     cfg,
		clock:      clock,
		scheduler:  sched,
		neighbours: make(map[neighbourKey]*NeighbourInfo),
	}
}

// Start enables the endpoint's trickle timer and keepalive reap loop.
func (e *Endpoint) Start() {
	if e.running {
		return
	}
	e.running = true
	e.trickle = newTrickleTimer(e.Config.Trickle, e.clock, e.scheduler, e.fireTrickle)
	e.trickle.onIntervalEnd = func(ms uint32) {
		if e.OnTrickleInterval != nil {
			e.OnTrickleInterval(e, ms)
		}
	}
	e.trickle.Start()
	e.scheduleKeepaliveSweep()
}

// Stop cancels the trickle and keepalive timers and drops every remaining
// neighbour as on explicit link-down.
func (e *Endpoint) Stop() {
	if !e.running {
		return
	}
	e.running = false
	e.trickle.Stop()
	e.scheduler.Cancel(e.keepaliveHandle)
	for key, n := range e.neighbours {
		delete(e.neighbours, key)
		if e.OnNeighbourReaped != nil {
			e.OnNeighbourReaped(e, n)
		}
	}
}

func (e *Endpoint) fireTrickle() {
	if e.OnTrickleFire != nil {
		e.OnTrickleFire(e)
	}
}

func (e *Endpoint) scheduleKeepaliveSweep() {
	e.keepaliveHandle = e.scheduler.ScheduleAt(e.clock.NowMs()+int64(e.Config.KeepaliveMs), e.fireKeepaliveSweep)
}

func (e *Endpoint) fireKeepaliveSweep() {
	if !e.running {
		return
	}
	e.reapStale()
	e.scheduleKeepaliveSweep()
}

// reapStale drops neighbours silent past keepalive_multiplier × their
// advertised interval (or ours, until we learn theirs), plus jitter.
func (e *Endpoint) reapStale() {
	now := e.clock.NowMs()
	for key, n := range e.neighbours {
		interval := n.PeerKeepaliveMs
		if interval == 0 {
			interval = e.Config.KeepaliveMs
		}
		deadline := int64(float64(interval)*e.Config.KeepaliveMultiplier) + rand.Int64N(int64(interval)/4+1)
		if now-n.LastHeardAt > deadline {
			delete(e.neighbours, key)
			if e.OnNeighbourReaped != nil {
				e.OnNeighbourReaped(e, n)
			}
		}
	}
}

// TouchNeighbour creates or refreshes the neighbour record for (peerID,
// peerEndpointID), returning it and whether it was newly created.
func (e *Endpoint) TouchNeighbour(peerID NodeID, peerEndpointID uint32, addr net.Addr) (*NeighbourInfo, bool) {
	key := neighbourKey{peerID: peerID, peerEndpointID: peerEndpointID}
	n, ok := e.neighbours[key]
	isNew := !ok
	if !ok {
		n = &NeighbourInfo{PeerNodeID: peerID, PeerEndpointID: peerEndpointID, LocalEndpointID: e.ID}
		e.neighbours[key] = n
	}
	n.PeerAddr = addr
	n.LastHeardAt = e.clock.NowMs()
	return n, isNew
}

// SetPeerKeepalive records a KEEPALIVE_INTERVAL TLV observed for a peer, so
// future reap deadlines use their advertised interval.
func (e *Endpoint) SetPeerKeepalive(peerID NodeID, peerEndpointID uint32, ms uint32) {
	key := neighbourKey{peerID: peerID, peerEndpointID: peerEndpointID}
	if n, ok := e.neighbours[key]; ok {
		n.PeerKeepaliveMs = ms
	}
}

// MarkSent stamps LastSentAt on a neighbour; flooding calls it after
// answering the neighbour's REQ_NET_STATE.
func (e *Endpoint) MarkSent(peerID NodeID, peerEndpointID uint32) {
	key := neighbourKey{peerID: peerID, peerEndpointID: peerEndpointID}
	if n, ok := e.neighbours[key]; ok {
		n.LastSentAt = e.clock.NowMs()
	}
}

// Neighbours returns a snapshot of all currently known neighbours.
func (e *Endpoint) Neighbours() []*NeighbourInfo {
	out := make([]*NeighbourInfo, 0, len(e.neighbours))
	for _, n := range e.neighbours {
		cp := *n
		out = append(out, &cp)
	}
	return out
}

// endpointTable owns endpoint id allocation and the name/id indices.
// Confined to the scheduler goroutine like Store and publisher.
type endpointTable struct {
	clock     Clock
	scheduler Scheduler

	byName map[string]*Endpoint
	byID   map[uint32]*Endpoint
	nextID uint32
}

func newEndpointTable(clock Clock, sched Scheduler) *endpointTable {
	return &endpointTable{
		clock:     clock,
		scheduler: sched,
		byName:    make(map[string]*Endpoint),
		byID:      make(map[uint32]*Endpoint),
		nextID:    1,
	}
}

// Enable allocates an endpoint id for name and starts its trickle and
// keepalive timers.
func (t *endpointTable) Enable(name string, transport Transport, cfg EndpointConfig) (*Endpoint, error) {
	if _, ok := t.byName[name]; ok {
		return nil, ErrEndpointExists
	}
	id := t.nextID
	t.nextID++
	ep := newEndpoint(name, id, transport, cfg, t.clock, t.scheduler)
	t.byName[name] = ep
	t.byID[id] = ep
	ep.Start()
	return ep, nil
}

// Disable stops and frees the endpoint's id.
func (t *endpointTable) Disable(name string) error {
	ep, ok := t.byName[name]
	if !ok {
		return ErrEndpointNotFound
	}
	ep.Stop()
	delete(t.byName, name)
	delete(t.byID, ep.ID)
	return nil
}

func (t *endpointTable) ByName(name string) (*Endpoint, bool) {
	ep, ok := t.byName[name]
	return ep, ok
}

func (t *endpointTable) ByID(id uint32) (*Endpoint, bool) {
	ep, ok := t.byID[id]
	return ep, ok
}

func (t *endpointTable) All() []*Endpoint {
	out := make([]*Endpoint, 0, len(t.byName))
	for _, ep := range t.byName {
		out = append(out, ep)
	}
	return out
}

func (t *endpointTable) StopAll() {
	for _, ep := range t.byName {
		ep.Stop()
	}
}
