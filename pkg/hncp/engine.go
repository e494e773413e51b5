package hncp

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Config bundles the platform port implementations and tunables an Engine
// needs at construction.
type Config struct {
	OwnID        NodeID
	Clock        Clock
	Scheduler    Scheduler
	Flooding     FloodingConfig
	Reachability ReachabilityConfig
	Metrics      *Metrics
	Logger       *slog.Logger
}

// Engine is the top-level wiring of all six components behind a
// single-threaded cooperative scheduler. Every public method is
// marshalled onto one internal goroutine via a command channel, so Engine
// itself is safe to call concurrently even though none of its components
// take a lock.
type Engine struct {
	store     *Store
	publisher *publisher
	bus       *bus
	endpoints *endpointTable
	flood     *flooding
	reach     *reachability

	metrics *Metrics
	log     *slog.Logger
	clock   Clock

	cmd      chan func()
	group    *errgroup.Group
	stop     context.CancelFunc
	closed   atomic.Bool
	closeErr error
	closeOne sync.Once
}

// New constructs an Engine. Call Run to start its scheduler goroutine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := newBus()
	store := newStore(cfg.OwnID, b, cfg.Metrics)
	if cfg.Flooding.MaxPropagationDelayMs > 0 {
		store.maxPropagationDelayMs = cfg.Flooding.MaxPropagationDelayMs
	}
	pub := newPublisher(store, b, cfg.Clock, cfg.Scheduler)
	eps := newEndpointTable(cfg.Clock, cfg.Scheduler)
	fl := newFlooding(cfg.Flooding, store, pub, eps, cfg.OwnID, cfg.Clock, cfg.Scheduler, cfg.Metrics, cfg.Logger)
	rc := newReachability(cfg.Reachability, store, cfg.OwnID, cfg.Clock, DefaultTrickleConfig().IMaxMs)
	fl.onReachabilityDirty = rc.MarkDirty

	e := &Engine{
		store:     store,
		publisher: pub,
		bus:       b,
		endpoints: eps,
		flood:     fl,
		reach:     rc,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		clock:     cfg.Clock,
		cmd:       make(chan func(), 64),
	}

	b.subscribe(&Observer{
		OnNetworkHashChange: func(Digest) {
			if e.metrics != nil {
				e.metrics.NetworkHashChangesTotal.Inc()
			}
		},
	})
	return e
}

// Run starts the scheduler goroutine and blocks until ctx is cancelled or
// Close is called. Run is meant to be launched with an errgroup or a bare
// `go e.Run(ctx)`.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.stop = cancel
	g, gctx := errgroup.WithContext(ctx)
	e.group = g

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case fn := <-e.cmd:
				fn()
				e.tick()
			}
		}
	})
	return g.Wait()
}

// tick runs lazy derived-state recomputation after one processed event,
// so reachability is refreshed at most once per scheduler tick.
func (e *Engine) tick() {
	e.reach.Recompute()
	if e.metrics != nil {
		e.metrics.NodesReachable.Set(float64(e.store.ReachableCount()))
	}
}

// enqueue marshals fn onto the scheduler goroutine without blocking the
// caller; used by timers and inbound packet delivery, which must never
// block their own goroutine on the engine being busy.
func (e *Engine) enqueue(fn func()) {
	select {
	case e.cmd <- fn:
	default:
		// Backpressure: rather than block the caller goroutine, hand the
		// send to a new goroutine that waits for room in cmd. The
		// scheduler drains cmd as fast as it can; a full buffer means the
		// engine is already behind.
		go func() { e.cmd <- fn }()
	}
}

// call marshals fn onto the scheduler goroutine and blocks until it has
// run, for public API methods that return a value. After Close the
// scheduler no longer drains cmd, so calls become no-ops instead of
// blocking forever.
func (e *Engine) call(fn func()) {
	if e.closed.Load() {
		return
	}
	done := make(chan struct{})
	e.cmd <- func() { fn(); close(done) }
	<-done
}

// AddTLV adds a TLV to the local node's published set.
func (e *Engine) AddTLV(typ uint16, value []byte) (Handle, error) {
	h, err := Handle{}, error(ErrClosed)
	e.call(func() { h, err = e.publisher.AddTLV(typ, value) })
	return h, err
}

// RemoveTLV removes a previously added TLV.
func (e *Engine) RemoveTLV(h Handle) {
	e.call(func() { e.publisher.RemoveTLV(h) })
}

// Subscribe registers an Observer on the bus.
func (e *Engine) Subscribe(o *Observer) {
	e.call(func() { e.bus.subscribe(o) })
}

// Unsubscribe removes a previously registered Observer.
func (e *Engine) Unsubscribe(o *Observer) {
	e.call(func() { e.bus.unsubscribe(o) })
}

// EnableEndpoint allocates and starts an endpoint backed by transport.
func (e *Engine) EnableEndpoint(name string, transport Transport, cfg EndpointConfig) (*Endpoint, error) {
	var ep *Endpoint
	err := error(ErrClosed)
	e.call(func() {
		ep, err = e.endpoints.Enable(name, transport, cfg)
		if err == nil {
			e.flood.WireEndpoint(ep)
		}
	})
	return ep, err
}

// DisableEndpoint stops and frees an endpoint.
func (e *Engine) DisableEndpoint(name string) error {
	err := error(ErrClosed)
	e.call(func() { err = e.endpoints.Disable(name) })
	return err
}

// Deliver hands a received datagram to the engine for processing. Safe to call from any goroutine.
func (e *Engine) Deliver(endpointName string, src net.Addr, data []byte) {
	e.enqueue(func() {
		ep, ok := e.endpoints.ByName(endpointName)
		if !ok {
			return
		}
		e.flood.OnPacket(ep, src, data)
	})
}

// FindNode returns a snapshot of the record for id, or nil.
func (e *Engine) FindNode(id NodeID) *NodeRecord {
	var rec *NodeRecord
	e.call(func() { rec = e.store.Get(id) })
	return rec
}

// IterNodes returns a snapshot of every known node record.
func (e *Engine) IterNodes() []*NodeRecord {
	var recs []*NodeRecord
	e.call(func() { recs = e.store.Iter() })
	return recs
}

// OwnNode returns the local node's current record, or nil before the
// first publish.
func (e *Engine) OwnNode() *NodeRecord {
	return e.FindNode(e.ownIDUnsafe())
}

// ownIDUnsafe reads store.ownID, which is set once at construction and
// never mutated, so it is safe to read without marshalling.
func (e *Engine) ownIDUnsafe() NodeID {
	return e.store.ownID
}

// NetworkHash returns the store's network hash, recomputing it first if
// dirty.
func (e *Engine) NetworkHash() Digest {
	var h Digest
	e.call(func() { h = e.store.NetworkHash() })
	return h
}

// FindEndpointByID returns the endpoint with the given id, if enabled.
func (e *Engine) FindEndpointByID(id uint32) (*Endpoint, bool) {
	var ep *Endpoint
	var ok bool
	e.call(func() { ep, ok = e.endpoints.ByID(id) })
	return ep, ok
}

// FindEndpointByName returns the endpoint with the given name, if enabled.
func (e *Engine) FindEndpointByName(name string) (*Endpoint, bool) {
	var ep *Endpoint
	var ok bool
	e.call(func() { ep, ok = e.endpoints.ByName(name) })
	return ep, ok
}

// IterEndpoints returns every currently enabled endpoint.
func (e *Engine) IterEndpoints() []*Endpoint {
	var eps []*Endpoint
	e.call(func() { eps = e.endpoints.All() })
	return eps
}

// Close stops every endpoint's timers, cancels the scheduler goroutine,
// and fires OnNodeChange(removed) for every non-self node still in the
// store.
func (e *Engine) Close() error {
	e.closeOne.Do(func() {
		e.call(func() {
			e.endpoints.StopAll()
			e.publisher.cancel()
			for _, rec := range e.store.Iter() {
				if rec.ID != e.store.ownID {
					e.bus.fireNodeChange(rec.ID, false, false)
				}
			}
		})
		e.closed.Store(true)
		if e.stop != nil {
			e.stop()
		}
		if e.group != nil {
			e.closeErr = e.group.Wait()
		}
	})
	return e.closeErr
}
