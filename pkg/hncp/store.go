package hncp

// UpsertResult reports what Store.Upsert did with a candidate record.
type UpsertResult int

const (
	Ignored UpsertResult = iota
	Inserted
	Replaced
)

// Store holds the set of known nodes keyed by NodeID. Per the
// engine's single-threaded cooperative scheduling model, Store is
// confined to the scheduler goroutine: nothing here takes a lock. Public API
// methods on Engine that read or write the store are themselves marshalled
// onto the scheduler goroutine (see engine.go); Store is not meant to be
// used directly from multiple goroutines.
type Store struct {
	nodes map[NodeID]*NodeRecord
	ownID NodeID

	networkHash      Digest
	networkHashDirty bool

	// maxPropagationDelayMs bounds the origination-time skew tolerated
	// between same-update-number records before they count as
	// concurrent claims on one id.
	maxPropagationDelayMs int64

	bus     *bus
	metrics *Metrics
}

func newStore(ownID NodeID, b *bus, m *Metrics) *Store {
	return &Store{
		nodes:                 make(map[NodeID]*NodeRecord),
		ownID:                 ownID,
		networkHashDirty:      true,
		maxPropagationDelayMs: DefaultFloodingConfig().MaxPropagationDelayMs,
		bus:                   b,
		metrics:               m,
	}
}

// originationSkewBudget is the window within which two same-update-number
// records are concurrent claims rather than a stale relay: peers' clocks
// may drift by at most max_propagation_delay per hop.
func (s *Store) originationSkewBudget() int64 {
	hops := int64(len(s.nodes)) - 1
	if hops < 1 {
		hops = 1
	}
	return s.maxPropagationDelayMs * hops
}

// UpsertBlob decodes blob into canonical TLVs and upserts it, for callers
// holding a raw node-data blob.
func (s *Store) UpsertBlob(id NodeID, blob []byte, updateNumber uint32, originationTime int64) (UpsertResult, error) {
	tlvs, err := DecodeCanonical(blob)
	if err != nil {
		return Ignored, err
	}
	return s.Upsert(id, tlvs, updateNumber, originationTime), nil
}

// Upsert inserts or replaces the record for id. The candidate wins only
// if it strictly succeeds the stored
// (update_number, origination_time), or if there is no stored record yet.
// tlvs must already be canonical (ascending, no duplicates); callers that
// have a raw blob should use UpsertBlob instead.
func (s *Store) Upsert(id NodeID, tlvs []TLV, updateNumber uint32, originationTime int64) UpsertResult {
	existing, had := s.nodes[id]
	if had {
		if existing.UpdateNumber == updateNumber {
			// Same update number with differing content inside the skew
			// budget is two nodes claiming one id, not a stale relay.
			delta := existing.OriginationTime - originationTime
			if delta < 0 {
				delta = -delta
			}
			if contentHash(tlvs) != existing.ContentHash && delta <= s.originationSkewBudget() {
				s.reportCollision(id)
			}
			if existing.OriginationTime == originationTime {
				return Ignored
			}
		}
		if existing.newerThan(updateNumber, originationTime) {
			return Ignored
		}
	}

	result := Inserted
	var removed, added []TLV
	if had {
		result = Replaced
		removed, added = diffTLVs(existing.TLVs, tlvs)
	} else {
		added = tlvs
	}

	lastReachableAt := originationTime
	if had {
		lastReachableAt = existing.LastReachableAt
	}
	rec := &NodeRecord{
		ID:              id,
		TLVs:            cloneTLVs(tlvs),
		ContentHash:     contentHash(tlvs),
		OriginationTime: originationTime,
		UpdateNumber:    updateNumber,
		Reachable:       id == s.ownID, // self is always reachable from self
		LastReachableAt: lastReachableAt,
	}
	s.nodes[id] = rec
	s.networkHashDirty = true

	if !had {
		s.bus.fireNodeChange(id, true, false)
	}
	if len(removed) > 0 || len(added) > 0 {
		s.bus.fireTLVChange(id, added, removed)
	}
	return result
}

func (s *Store) reportCollision(id NodeID) {
	if s.metrics != nil {
		s.metrics.NodeCollisionsTotal.Inc()
	}
	s.bus.fireNodeChange(id, true, true)
}

// Get returns a snapshot of the record for id, or nil if unknown.
func (s *Store) Get(id NodeID) *NodeRecord {
	r, ok := s.nodes[id]
	if !ok {
		return nil
	}
	cp := *r
	cp.TLVs = cloneTLVs(r.TLVs)
	return &cp
}

// Iter returns a snapshot slice of all known records, in no particular
// order.
func (s *Store) Iter() []*NodeRecord {
	out := make([]*NodeRecord, 0, len(s.nodes))
	for _, r := range s.nodes {
		cp := *r
		cp.TLVs = cloneTLVs(r.TLVs)
		out = append(out, &cp)
	}
	return out
}

// Own returns the local node's current record, or nil before the first
// local publish.
func (s *Store) Own() *NodeRecord {
	return s.Get(s.ownID)
}

// Reap removes the records for ids (assumed already determined
// unreachable by the caller) and fires node/TLV-removal notifications per
// removed node.
func (s *Store) Reap(ids []NodeID) {
	for _, id := range ids {
		rec, ok := s.nodes[id]
		if !ok {
			continue
		}
		delete(s.nodes, id)
		s.networkHashDirty = true
		if s.metrics != nil {
			s.metrics.NodesReaped.Inc()
		}

		if len(rec.TLVs) > 0 {
			s.bus.fireTLVChange(id, nil, rec.TLVs)
		}
		s.bus.fireNodeChange(id, false, false)
	}
}

// markReachability updates the Reachable flag on every known record and
// stamps LastReachableAt (in local clock ms) for nodes newly or still
// marked reachable. Returns true if set membership changed; the
// reachability component's Recompute passes that on as its own result.
func (s *Store) markReachability(reachable map[NodeID]struct{}, nowMs int64) (changed bool) {
	for id, rec := range s.nodes {
		_, isReachable := reachable[id]
		if isReachable != rec.Reachable {
			changed = true
		}
		rec.Reachable = isReachable
		if isReachable {
			rec.LastReachableAt = nowMs
		}
	}
	if changed {
		s.networkHashDirty = true
	}
	return changed
}

// unreachableSince returns ids whose records have been continuously
// unreachable for at least graceMs.
func (s *Store) unreachableSince(nowMs, graceMs int64) []NodeID {
	var out []NodeID
	for id, rec := range s.nodes {
		if id == s.ownID || rec.Reachable {
			continue
		}
		if nowMs-rec.LastReachableAt >= graceMs {
			out = append(out, id)
		}
	}
	return out
}

// NetworkHash returns the store's network hash, recomputing it first if
// dirty.
func (s *Store) NetworkHash() Digest {
	if s.networkHashDirty {
		entries := make([]networkHashEntry, 0, len(s.nodes))
		for id, rec := range s.nodes {
			if !rec.Reachable {
				continue
			}
			entries = append(entries, networkHashEntry{ID: id, ContentHash: rec.ContentHash, UpdateNumber: rec.UpdateNumber})
		}
		newHash := networkHash(entries)
		changed := newHash != s.networkHash
		s.networkHash = newHash
		s.networkHashDirty = false
		if changed {
			s.bus.fireNetworkHashChange(newHash)
		}
	}
	return s.networkHash
}

// ReachableCount returns the number of reachable nodes, for metrics/status.
func (s *Store) ReachableCount() int {
	n := 0
	for _, rec := range s.nodes {
		if rec.Reachable {
			n++
		}
	}
	return n
}
