package hncp

import (
	"io"
	"log/slog"
	"net"
	"testing"
)

// The flooding tests drive two (or more) full component stacks over an
// in-memory link with the shared fake clock/scheduler, so trickle,
// keepalive and GC all run deterministically without sockets.

type simPacket struct {
	to     *simNode
	epName string
	src    net.Addr
	data   []byte
}

type simWorld struct {
	clock *fakeClock
	sched *fakeScheduler
	queue []simPacket
	nodes []*simNode
}

func newSimWorld() *simWorld {
	clock := &fakeClock{}
	return &simWorld{clock: clock, sched: newFakeScheduler(clock)}
}

type simNode struct {
	id    NodeID
	store *Store
	pub   *publisher
	eps   *endpointTable
	fl    *flooding
	reach *reachability
}

func (w *simWorld) addNode(id NodeID) *simNode {
	b := newBus()
	store := newStore(id, b, nil)
	pub := newPublisher(store, b, w.clock, w.sched)
	eps := newEndpointTable(w.clock, w.sched)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	fl := newFlooding(DefaultFloodingConfig(), store, pub, eps, id, w.clock, w.sched, nil, log)
	// Grace derives from the sim links' I_max (2s), giving a 4s prune
	// delay that keeps the partition scenario fast.
	reach := newReachability(DefaultReachabilityConfig(), store, id, w.clock, 2_000)
	fl.onReachabilityDirty = reach.MarkDirty

	n := &simNode{id: id, store: store, pub: pub, eps: eps, fl: fl, reach: reach}
	w.nodes = append(w.nodes, n)
	return n
}

// simTransport is one end of a point-to-point link: everything sent,
// multicast or unicast, is queued for the single peer end. down drops
// traffic, simulating a one-directional link failure.
type simTransport struct {
	w      *simWorld
	peer   *simNode
	peerEp string
	src    net.Addr
	down   bool
}

func (t *simTransport) Send(dst net.Addr, data []byte) error {
	if t.down {
		return nil // silently lost, like a dead link
	}
	t.w.queue = append(t.w.queue, simPacket{to: t.peer, epName: t.peerEp, src: t.src, data: append([]byte(nil), data...)})
	return nil
}

func (t *simTransport) MulticastAddr() net.Addr { return &net.UDPAddr{IP: net.IPv6linklocalallnodes} }
func (t *simTransport) LocalAddr() net.Addr     { return t.src }
func (t *simTransport) Close() error            { return nil }

// connect wires a.epA <-> b.epB with fast trickle bounds suited to
// simulated time.
func (w *simWorld) connect(a *simNode, epA string, b *simNode, epB string) (ta, tb *simTransport) {
	cfg := DefaultEndpointConfig()
	cfg.Trickle = TrickleConfig{IMinMs: 200, IMaxMs: 2_000, K: 1}
	cfg.KeepaliveMs = 1_000

	ta = &simTransport{w: w, peer: b, peerEp: epB, src: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1)}}
	tb = &simTransport{w: w, peer: a, peerEp: epA, src: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2)}}

	epa, err := a.eps.Enable(epA, ta, cfg)
	if err != nil {
		panic(err)
	}
	a.fl.WireEndpoint(epa)
	epb, err := b.eps.Enable(epB, tb, cfg)
	if err != nil {
		panic(err)
	}
	b.fl.WireEndpoint(epb)
	return ta, tb
}

// settle advances simulated time in small steps, delivering queued
// datagrams and running each node's lazy recomputation after every event,
// the way the engine's scheduler tick does.
func (w *simWorld) settle(ms int64) {
	for elapsed := int64(0); elapsed < ms; elapsed += 10 {
		w.sched.Advance(10)
		w.deliverAll()
		for _, n := range w.nodes {
			n.reach.Recompute()
		}
	}
}

func (w *simWorld) deliverAll() {
	for len(w.queue) > 0 {
		p := w.queue[0]
		w.queue = w.queue[1:]
		ep, ok := p.to.eps.ByName(p.epName)
		if !ok {
			continue
		}
		p.to.fl.OnPacket(ep, p.src, p.data)
		p.to.reach.Recompute()
	}
}

func TestTwoNodeConverge(t *testing.T) {
	w := newSimWorld()
	a := w.addNode(testNodeID(1))
	b := w.addNode(testNodeID(2))
	w.connect(a, "eth0", b, "eth1")

	w.settle(10_000)

	if got, want := a.store.NetworkHash(), b.store.NetworkHash(); got != want {
		t.Fatalf("network hashes diverge after settling: a=%s b=%s", got, want)
	}
	for _, n := range []*simNode{a, b} {
		if len(n.store.Iter()) != 2 {
			t.Errorf("node %v store holds %d records, want 2", n.id, len(n.store.Iter()))
		}
		if n.store.ReachableCount() != 2 {
			t.Errorf("node %v sees %d reachable, want 2", n.id, n.store.ReachableCount())
		}
	}

	// Both sides must have published the mutual Neighbour TLV pair that
	// reachability walks.
	if !mutualNeighbours(a.store.Get(a.id), a.store.Get(b.id)) {
		t.Error("store of a does not hold a mutual neighbour pair")
	}
}

func TestLocalMutationPropagates(t *testing.T) {
	w := newSimWorld()
	a := w.addNode(testNodeID(1))
	b := w.addNode(testNodeID(2))
	w.connect(a, "eth0", b, "eth1")
	w.settle(10_000)

	if _, err := a.pub.AddTLV(AgentTLVRangeStart, []byte("svc")); err != nil {
		t.Fatalf("AddTLV: %v", err)
	}
	w.settle(10_000)

	rec := b.store.Get(a.id)
	if rec == nil {
		t.Fatal("b lost a's record")
	}
	found := false
	for _, tlv := range rec.TLVs {
		if tlv.Type == AgentTLVRangeStart && string(tlv.Value) == "svc" {
			found = true
		}
	}
	if !found {
		t.Error("a's local TLV never reached b's store")
	}
	if a.store.NetworkHash() != b.store.NetworkHash() {
		t.Error("hashes diverge after mutation settled")
	}
}

func TestKeepaliveIntervalLearnedFromPeer(t *testing.T) {
	w := newSimWorld()
	a := w.addNode(testNodeID(1))
	b := w.addNode(testNodeID(2))
	w.connect(a, "eth0", b, "eth1")
	w.settle(5_000)

	ep, _ := b.eps.ByName("eth1")
	ns := ep.Neighbours()
	if len(ns) != 1 {
		t.Fatalf("b has %d neighbours, want 1", len(ns))
	}
	if ns[0].PeerKeepaliveMs != 1_000 {
		t.Errorf("b learned peer keepalive %d ms, want 1000 (piggy-backed on NET_STATE)", ns[0].PeerKeepaliveMs)
	}
}

func TestNeighbourTLVWithdrawnOnLinkDown(t *testing.T) {
	w := newSimWorld()
	a := w.addNode(testNodeID(1))
	b := w.addNode(testNodeID(2))
	w.connect(a, "eth0", b, "eth1")
	w.settle(10_000)

	hasNeighbourTLV := func(n *simNode) bool {
		own := n.store.Own()
		if own == nil {
			return false
		}
		for _, tlv := range own.TLVs {
			if tlv.Type == TypeNeighbour {
				return true
			}
		}
		return false
	}
	if !hasNeighbourTLV(a) {
		t.Fatal("a never published a Neighbour TLV")
	}

	if err := a.eps.Disable("eth0"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	w.settle(1_000)

	if hasNeighbourTLV(a) {
		t.Error("a still publishes a Neighbour TLV after link-down")
	}
}

func TestPartitionReapsPeerAfterGrace(t *testing.T) {
	w := newSimWorld()
	a := w.addNode(testNodeID(1))
	b := w.addNode(testNodeID(2))
	ta, _ := w.connect(a, "eth0", b, "eth1")
	w.settle(10_000)

	if b.store.ReachableCount() != 2 {
		t.Fatal("precondition: b must see both nodes reachable")
	}

	// Sever a -> b only: b stops hearing a, a still hears b.
	ta.down = true

	// Keepalive (multiplier 3.5 x 1000ms + jitter) reaps the neighbour,
	// then the reachability grace (2 x I_max) allows the reap.
	w.settle(60_000)

	ep, _ := b.eps.ByName("eth1")
	if len(ep.Neighbours()) != 0 {
		t.Error("b still lists a as neighbour after silence past the keepalive deadline")
	}
	if b.store.ReachableCount() != 1 {
		t.Errorf("b sees %d reachable nodes, want 1 (itself)", b.store.ReachableCount())
	}
	if got := b.store.Get(a.id); got != nil {
		t.Errorf("a's record still in b's store after the grace period")
	}
	if a.store.NetworkHash() == b.store.NetworkHash() {
		t.Error("partitioned nodes still agree on the network hash")
	}
}

func TestHashMismatchDoesNotMutateStore(t *testing.T) {
	w := newSimWorld()
	a := w.addNode(testNodeID(1))
	b := w.addNode(testNodeID(2))
	w.connect(a, "eth0", b, "eth1")
	w.settle(5_000)

	forged := testNodeID(9)
	bad := NodeState{
		ID:           forged,
		UpdateNumber: 7,
		ContentHash:  Digest{0xde, 0xad},
		TLVs:         []TLV{{Type: AgentTLVRangeStart, Value: []byte("x")}},
	}
	var data []byte
	data = envelope{SenderID: testNodeID(2), SenderEndpointID: 1}.encode(data)
	data = append(data, EncodeTLVs([]TLV{bad.tlv()})...)

	ep, _ := a.eps.ByName("eth0")
	a.fl.OnPacket(ep, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2)}, data)

	if a.store.Get(forged) != nil {
		t.Error("forged NODE_STATE with wrong content hash was upserted")
	}
}

func TestOwnIDIncarnationLeapfrogged(t *testing.T) {
	w := newSimWorld()
	a := w.addNode(testNodeID(1))
	b := w.addNode(testNodeID(2))
	w.connect(a, "eth0", b, "eth1")
	w.settle(10_000)

	// A full NODE_STATE claiming a's own id with a much higher update
	// number, as left behind by a previous run of the same node.
	evil := []TLV{{Type: AgentTLVRangeStart, Value: []byte("stale")}}
	ghost := NodeState{
		ID:               a.id,
		UpdateNumber:     50,
		OriginationMsAgo: 0,
		ContentHash:      contentHash(evil),
		TLVs:             evil,
	}
	var data []byte
	data = envelope{SenderID: testNodeID(2), SenderEndpointID: 1}.encode(data)
	data = append(data, EncodeTLVs([]TLV{ghost.tlv()})...)
	ep, _ := a.eps.ByName("eth0")
	a.fl.OnPacket(ep, &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2)}, data)

	w.settle(5_000)

	own := a.store.Own()
	if own == nil {
		t.Fatal("own record vanished")
	}
	if own.UpdateNumber <= 50 {
		t.Errorf("own update number %d, want leapfrogged above 50", own.UpdateNumber)
	}
	for _, tlv := range own.TLVs {
		if string(tlv.Value) == "stale" {
			t.Error("foreign state was adopted into the own record")
		}
	}
	if got := b.store.Get(a.id); got == nil || got.UpdateNumber != own.UpdateNumber {
		t.Error("peer did not converge on the leapfrogged incarnation")
	}
}

func TestChainOfFourConverges(t *testing.T) {
	w := newSimWorld()
	nodes := make([]*simNode, 4)
	for i := range nodes {
		nodes[i] = w.addNode(testNodeID(byte(i + 1)))
	}
	for i := 0; i+1 < len(nodes); i++ {
		w.connect(nodes[i], "right", nodes[i+1], "left")
	}

	w.settle(30_000)

	want := nodes[0].store.NetworkHash()
	for _, n := range nodes[1:] {
		if n.store.NetworkHash() != want {
			t.Fatalf("node %v hash %s differs from %s", n.id, n.store.NetworkHash(), want)
		}
	}
	for _, n := range nodes {
		if n.store.ReachableCount() != len(nodes) {
			t.Errorf("node %v sees %d reachable, want %d", n.id, n.store.ReachableCount(), len(nodes))
		}
	}
}
