package hncp

// ReachabilityConfig sets the unreachable-node pruning delay.
type ReachabilityConfig struct {
	GraceMultiplier int
}

// DefaultReachabilityConfig prunes after 2 x I_max: long enough for a
// slow trickle round to re-establish a flapping edge, short enough that
// departed nodes do not linger in the network hash.
func DefaultReachabilityConfig() ReachabilityConfig {
	return ReachabilityConfig{GraceMultiplier: 2}
}

// reachability recomputes, via BFS over mutual Neighbour TLVs, the set of
// nodes transitively connected to own_node, then reaps nodes that have
// been unreachable past the grace period.
type reachability struct {
	cfg   ReachabilityConfig
	store *Store
	ownID NodeID
	clock Clock

	defaultGraceMs int64
	dirty          bool
}

func newReachability(cfg ReachabilityConfig, store *Store, ownID NodeID, clock Clock, defaultIMaxMs uint32) *reachability {
	return &reachability{
		cfg:            cfg,
		store:          store,
		ownID:          ownID,
		clock:          clock,
		defaultGraceMs: int64(cfg.GraceMultiplier) * int64(defaultIMaxMs),
	}
}

// MarkDirty flags that a topology-affecting upsert or neighbour change
// occurred; Recompute runs at most once per scheduler tick.
func (r *reachability) MarkDirty() {
	r.dirty = true
}

// neighbourTLVsOf decodes a node's published Neighbour TLVs, ignoring
// any that fail to parse (best-effort, matching the engine's "never
// aborts" failure policy).
func neighbourTLVsOf(rec *NodeRecord) []Neighbour {
	var out []Neighbour
	for _, t := range rec.TLVs {
		if t.Type != TypeNeighbour {
			continue
		}
		if n, err := DecodeNeighbour(t.Value); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// Recompute runs the BFS and reaps nodes unreachable past the grace
// period, only if MarkDirty was called since the last Recompute. Returns
// whether the reachable set changed.
func (r *reachability) Recompute() bool {
	if !r.dirty {
		return false
	}
	r.dirty = false

	nodes := r.store.Iter()
	byID := make(map[NodeID]*NodeRecord, len(nodes))
	for _, rec := range nodes {
		byID[rec.ID] = rec
	}

	// Build the undirected mutual-neighbour graph: an edge (A, B) exists
	// only if both A's and B's published Neighbour TLVs name each other.
	adjacency := make(map[NodeID][]NodeID, len(nodes))
	for _, rec := range nodes {
		for _, nb := range neighbourTLVsOf(rec) {
			peer, ok := byID[nb.PeerNodeID]
			if !ok {
				continue
			}
			if mutualNeighbours(rec, peer) {
				adjacency[rec.ID] = append(adjacency[rec.ID], peer.ID)
			}
		}
	}

	reachableSet := map[NodeID]struct{}{r.ownID: {}}
	queue := []NodeID{r.ownID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur] {
			if _, seen := reachableSet[next]; seen {
				continue
			}
			reachableSet[next] = struct{}{}
			queue = append(queue, next)
		}
	}

	now := r.clock.NowMs()
	changed := r.store.markReachability(reachableSet, now)

	grace := r.defaultGraceMs
	toReap := r.store.unreachableSince(now, grace)
	if len(toReap) > 0 {
		r.store.Reap(toReap)
	}

	// Unreachable records still inside their grace window must be
	// re-examined even if no further topology event arrives, so stay
	// dirty until they are either reachable again or reaped.
	if r.store.ReachableCount() < len(r.store.Iter()) {
		r.dirty = true
	}

	return changed
}

// mutualNeighbours reports whether a's and b's published Neighbour TLVs
// name each other.
func mutualNeighbours(a, b *NodeRecord) bool {
	aNamesB, bNamesA := false, false
	for _, nb := range neighbourTLVsOf(a) {
		if nb.PeerNodeID == b.ID {
			aNamesB = true
			break
		}
	}
	if !aNamesB {
		return false
	}
	for _, nb := range neighbourTLVsOf(b) {
		if nb.PeerNodeID == a.ID {
			bNamesA = true
			break
		}
	}
	return bNamesA
}
