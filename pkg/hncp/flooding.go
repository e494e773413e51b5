package hncp

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
)

// envelopeLen is the fixed-width sender header prepended to every
// datagram ahead of its TLV payload, so a receiver can classify traffic
// against the Endpoint & Neighbour Table before it has decoded a single
// message TLV. Mirrors the reference DNCP protocol's per-message
// node-identifier framing.
const envelopeLen = NodeIDLen + 4

type envelope struct {
	SenderID         NodeID
	SenderEndpointID uint32
}

func (e envelope) encode(dst []byte) []byte {
	dst = append(dst, e.SenderID[:]...)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], e.SenderEndpointID)
	return append(dst, u32[:]...)
}

func decodeEnvelope(b []byte) (envelope, []byte, error) {
	if len(b) < envelopeLen {
		return envelope{}, nil, fmt.Errorf("%w: datagram shorter than envelope", ErrDecode)
	}
	return envelope{
		SenderID:         NodeIDFromBytes(b[:NodeIDLen]),
		SenderEndpointID: binary.BigEndian.Uint32(b[NodeIDLen : NodeIDLen+4]),
	}, b[envelopeLen:], nil
}

// FloodingConfig bounds the flooding protocol's size and skew behavior.
type FloodingConfig struct {
	MTUBudget             int
	MaxPropagationDelayMs int64
	RerequestCooldownMs   int64
}

// DefaultFloodingConfig uses the conventional 1400-byte link MTU budget.
func DefaultFloodingConfig() FloodingConfig {
	return FloodingConfig{MTUBudget: 1400, MaxPropagationDelayMs: 2_000, RerequestCooldownMs: 2_000}
}

// flooding is the Flooding Protocol component: it emits and
// consumes NET_STATE/NODE_STATE/REQ_* messages, decides unicast vs
// multicast, and drives each endpoint's trickle timer.
type flooding struct {
	cfg FloodingConfig

	store     *Store
	publisher *publisher
	endpoints *endpointTable
	ownID     NodeID
	clock     Clock

	metrics *Metrics
	log     *slog.Logger

	lastRequestedNetState map[neighbourKey]int64

	// neighbourTLVs tracks the publisher handle of the NEIGHBOUR TLV we
	// published for each discovered neighbour, so the TLV is withdrawn
	// when the neighbour is reaped or its link goes down.
	neighbourTLVs map[neighbourRef]Handle

	scheduler Scheduler

	onReachabilityDirty func()
}

type neighbourRef struct {
	endpointID uint32
	key        neighbourKey
}

func newFlooding(cfg FloodingConfig, store *Store, pub *publisher, eps *endpointTable, ownID NodeID, clock Clock, sched Scheduler, m *Metrics, log *slog.Logger) *flooding {
	f := &flooding{
		cfg:                   cfg,
		store:                 store,
		publisher:             pub,
		endpoints:             eps,
		ownID:                 ownID,
		clock:                 clock,
		scheduler:             sched,
		metrics:               m,
		log:                   log,
		lastRequestedNetState: make(map[neighbourKey]int64),
		neighbourTLVs:         make(map[neighbourRef]Handle),
	}
	pub.onFlush = f.onLocalPublish
	return f
}

// WireEndpoint hooks an enabled endpoint's trickle and reap events into
// the flooding protocol. Called once by the engine right after
// endpointTable.Enable.
func (f *flooding) WireEndpoint(ep *Endpoint) {
	ep.OnTrickleFire = f.onTrickleFire
	ep.OnNeighbourReaped = f.onNeighbourReaped
	ep.OnTrickleInterval = func(ep *Endpoint, intervalMs uint32) {
		if f.metrics != nil {
			f.metrics.TrickleIntervalSeconds.WithLabelValues(ep.Name).Observe(float64(intervalMs) / 1000)
		}
	}
}

// onLocalPublish implements the immediate-flood rule: within
// one scheduler tick, every enabled endpoint sends a NET_STATE outside its
// trickle interval and resets to I_min.
func (f *flooding) onLocalPublish() {
	for _, ep := range f.endpoints.All() {
		if ep.trickle != nil {
			ep.trickle.ForceImmediate()
		}
	}
	f.reachabilityDirty()
}

// onTrickleFire multicasts the NET_STATE summary with this endpoint's
// keepalive interval piggy-backed, so peers can size their reap deadline
// before any Neighbour TLV exists.
func (f *flooding) onTrickleFire(ep *Endpoint) {
	msg := NetState{Hash: f.store.NetworkHash()}
	ka := KeepaliveInterval{EndpointID: ep.ID, IntervalMs: ep.Config.KeepaliveMs}
	f.sendMulticast(ep, msg.tlv(), ka.TLV())
}

func (f *flooding) onNeighbourReaped(ep *Endpoint, n *NeighbourInfo) {
	f.log.Debug("neighbour reaped", "endpoint", ep.Name, "peer", n.PeerNodeID, "peer_endpoint", n.PeerEndpointID)
	key := neighbourKey{peerID: n.PeerNodeID, peerEndpointID: n.PeerEndpointID}
	delete(f.lastRequestedNetState, key)
	ref := neighbourRef{endpointID: ep.ID, key: key}
	if h, ok := f.neighbourTLVs[ref]; ok {
		delete(f.neighbourTLVs, ref)
		f.publisher.RemoveTLV(h)
	}
	f.reachabilityDirty()
}

// publishNeighbour adds the NEIGHBOUR TLV declaring a newly discovered
// peer to our own published data; the mutual pair of these TLVs is what
// reachability analysis walks.
func (f *flooding) publishNeighbour(ep *Endpoint, n *NeighbourInfo) {
	t := Neighbour{
		PeerNodeID:      n.PeerNodeID,
		PeerEndpointID:  n.PeerEndpointID,
		LocalEndpointID: ep.ID,
	}.TLV()
	h, err := f.publisher.AddTLV(t.Type, t.Value)
	if err != nil {
		f.log.Debug("neighbour tlv publish failed", "endpoint", ep.Name, "peer", n.PeerNodeID, "error", err)
		return
	}
	ref := neighbourRef{endpointID: ep.ID, key: neighbourKey{peerID: n.PeerNodeID, peerEndpointID: n.PeerEndpointID}}
	f.neighbourTLVs[ref] = h
	f.reachabilityDirty()
}

func (f *flooding) reachabilityDirty() {
	if f.onReachabilityDirty != nil {
		f.onReachabilityDirty()
	}
}

// OnPacket classifies and dispatches one received datagram. ep must already be enabled.
func (f *flooding) OnPacket(ep *Endpoint, src net.Addr, data []byte) {
	env, body, err := decodeEnvelope(data)
	if err != nil {
		f.dropped("short_envelope")
		return
	}
	if env.SenderID == f.ownID {
		return // loop-back of our own multicast
	}

	neighbour, isNew := ep.TouchNeighbour(env.SenderID, env.SenderEndpointID, src)
	if isNew {
		f.publishNeighbour(ep, neighbour)
	}

	tlvs, err := DecodeDatagram(body)
	if err != nil {
		f.dropped("decode_error")
		f.log.Debug("datagram dropped", "error", err, "endpoint", ep.Name)
		return
	}
	for _, t := range tlvs {
		f.dispatch(ep, neighbour, t)
	}
}

func (f *flooding) dispatch(ep *Endpoint, n *NeighbourInfo, t TLV) {
	msg, err := DecodeMessage(t)
	if err != nil {
		f.dropped("decode_error")
		return
	}
	if f.metrics != nil {
		f.metrics.MessagesRecvTotal.WithLabelValues(kindLabel(t.Type), ep.Name).Inc()
	}
	switch m := msg.(type) {
	case ReqNetState:
		f.onReqNetState(ep, n)
	case ReqNodeState:
		f.onReqNodeState(ep, n, m)
	case NetState:
		f.onNetState(ep, n, m)
	case NodeState:
		f.onNodeState(ep, n, m)
	case KeepaliveInterval:
		ep.SetPeerKeepalive(n.PeerNodeID, n.PeerEndpointID, m.IntervalMs)
	}
}

// onNetState implements rule 1: trickle consistency check plus rate-limited
// re-request on mismatch.
func (f *flooding) onNetState(ep *Endpoint, n *NeighbourInfo, m NetState) {
	if ep.trickle != nil {
		if m.Hash == f.store.NetworkHash() {
			ep.trickle.OnConsistent()
			return
		}
		ep.trickle.OnInconsistent()
	}

	key := neighbourKey{peerID: n.PeerNodeID, peerEndpointID: n.PeerEndpointID}
	now := f.clock.NowMs()
	if last, ok := f.lastRequestedNetState[key]; ok && now-last < f.cfg.RerequestCooldownMs {
		return
	}
	f.lastRequestedNetState[key] = now
	f.sendUnicast(ep, n.PeerAddr, ReqNetState{}.tlv())
}

// onReqNetState implements rule 2: one header-only NODE_STATE per
// reachable node, unicast to the requester.
func (f *flooding) onReqNetState(ep *Endpoint, n *NeighbourInfo) {
	for _, rec := range f.store.Iter() {
		if !rec.Reachable {
			continue
		}
		header := NodeState{
			ID:               rec.ID,
			UpdateNumber:     rec.UpdateNumber,
			OriginationMsAgo: f.msAgo(rec.OriginationTime),
			ContentHash:      rec.ContentHash,
		}
		f.sendUnicast(ep, n.PeerAddr, header.tlv())
	}
	ep.MarkSent(n.PeerNodeID, n.PeerEndpointID)
}

// onNodeState implements rule 3: compare the header against our copy and
// request or offer accordingly.
func (f *flooding) onNodeState(ep *Endpoint, n *NeighbourInfo, m NodeState) {
	if m.ID == f.ownID {
		// Our own id coming back from the network. Echoes of the record
		// we currently publish are fine; anything claiming a different
		// state under our id is a previous incarnation (or a collision)
		// whose update number must be leapfrogged, never adopted.
		own := f.store.Get(f.ownID)
		stale := own == nil ||
			m.UpdateNumber > own.UpdateNumber ||
			(m.UpdateNumber == own.UpdateNumber && m.ContentHash != own.ContentHash)
		if stale {
			f.publisher.bumpAbove(m.UpdateNumber)
		}
		return
	}
	if m.TLVs != nil {
		f.onFullNodeState(ep, n, m)
		return
	}

	existing := f.store.Get(m.ID)
	switch {
	case existing == nil || existing.UpdateNumber < m.UpdateNumber:
		f.sendUnicast(ep, n.PeerAddr, ReqNodeState{ID: m.ID}.tlv())
	case existing.UpdateNumber > m.UpdateNumber:
		f.sendFullNodeState(ep, n.PeerAddr, existing)
	}
}

// onFullNodeState implements rule 5: verify content_hash, then upsert.
func (f *flooding) onFullNodeState(ep *Endpoint, n *NeighbourInfo, m NodeState) {
	if contentHash(m.TLVs) != m.ContentHash {
		f.dropped("hash_mismatch")
		f.log.Debug("node state dropped", "error", ErrHashMismatch, "node", m.ID, "peer", n.PeerNodeID)
		return
	}
	origination := f.clock.NowMs() - int64(m.OriginationMsAgo)
	result := f.store.Upsert(m.ID, m.TLVs, m.UpdateNumber, origination)
	if result != Ignored {
		f.reachabilityDirty()
	}
}

// onReqNodeState implements rule 4.
func (f *flooding) onReqNodeState(ep *Endpoint, n *NeighbourInfo, m ReqNodeState) {
	rec := f.store.Get(m.ID)
	if rec == nil {
		return
	}
	f.sendFullNodeState(ep, n.PeerAddr, rec)
}

// sendFullNodeState unicasts the full record. Bodies that exceed the MTU
// budget are still sent, just counted (the sender already chose unicast).
func (f *flooding) sendFullNodeState(ep *Endpoint, dst net.Addr, rec *NodeRecord) {
	full := NodeState{
		ID:               rec.ID,
		UpdateNumber:     rec.UpdateNumber,
		OriginationMsAgo: f.msAgo(rec.OriginationTime),
		ContentHash:      rec.ContentHash,
		TLVs:             rec.TLVs,
	}
	t := full.tlv()
	if t.Len() > f.cfg.MTUBudget {
		f.oversize()
		f.log.Debug("node state exceeds mtu budget", "error", ErrOversize, "node", rec.ID, "size", t.Len())
	}
	f.sendUnicast(ep, dst, t)
}

func (f *flooding) msAgo(originationMs int64) uint32 {
	d := f.clock.NowMs() - originationMs
	if d < 0 {
		d = 0
	}
	return uint32(d)
}

func (f *flooding) sendMulticast(ep *Endpoint, tlvs ...TLV) {
	var dst []byte
	dst = envelope{SenderID: f.ownID, SenderEndpointID: ep.ID}.encode(dst)
	dst = append(dst, EncodeTLVs(tlvs)...)
	if err := ep.Transport.Send(nil, dst); err != nil {
		f.sendFailed(ep)
		return
	}
	for _, t := range tlvs {
		f.sent(ep, t.Type)
	}
}

func (f *flooding) sendUnicast(ep *Endpoint, dst net.Addr, t TLV) {
	var buf []byte
	buf = envelope{SenderID: f.ownID, SenderEndpointID: ep.ID}.encode(buf)
	buf = append(buf, EncodeTLVs([]TLV{t})...)
	if err := ep.Transport.Send(dst, buf); err != nil {
		f.sendFailed(ep)
		return
	}
	f.sent(ep, t.Type)
}

func (f *flooding) sent(ep *Endpoint, kind uint16) {
	if f.metrics != nil {
		f.metrics.MessagesSentTotal.WithLabelValues(kindLabel(kind), ep.Name).Inc()
	}
}

func (f *flooding) sendFailed(ep *Endpoint) {
	// TransportError is swallowed; trickle reattempts.
	if f.metrics != nil {
		f.metrics.TransportErrorsTotal.WithLabelValues(ep.Name).Inc()
	}
}

func (f *flooding) dropped(reason string) {
	if f.metrics != nil {
		f.metrics.MessagesDroppedTotal.WithLabelValues(reason).Inc()
	}
}

func (f *flooding) oversize() {
	f.dropped("oversize")
}

func kindLabel(t uint16) string {
	switch t {
	case TypeReqNetState:
		return "req_net_state"
	case TypeReqNodeState:
		return "req_node_state"
	case TypeNetState:
		return "net_state"
	case TypeNodeState:
		return "node_state"
	case TypeKeepaliveInterval:
		return "keepalive_interval"
	default:
		return "unknown"
	}
}
