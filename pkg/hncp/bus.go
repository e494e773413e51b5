package hncp

// Observer is the set of hooks a collaborator may register on the bus.
// All fields are optional; a nil hook is simply not called.
// Implementations must not block; the bus fires synchronously from the
// scheduler goroutine.
type Observer struct {
	// OnLocalTLVChange fires after each local publish, right after the
	// corresponding OnTLVChange for own_node. added and removed are empty
	// when an unchanged set is republished.
	OnLocalTLVChange func(added, removed []TLV)

	// OnTLVChange fires for any node's (including our own) TLV set change,
	// in canonical order: all removals then all additions.
	OnTLVChange func(id NodeID, added, removed []TLV)

	// OnNodeChange fires when a node record appears or disappears from the
	// store. present is false on removal. collision is true (with present
	// true) when Upsert detected two differing records claiming an id that
	// is already in the store.
	OnNodeChange func(id NodeID, present bool, collision bool)

	// OnNetworkHashChange fires whenever Store's lazily-recomputed
	// network_hash differs from its previous value.
	OnNetworkHashChange func(hash Digest)
}

// bus dispatches Observer callbacks. The bus iterates a snapshot of its
// observer slice so a callback may register/unregister another observer
// without invalidating the iteration.
type bus struct {
	observers []*Observer
}

func newBus() *bus {
	return &bus{}
}

func (b *bus) subscribe(o *Observer) {
	b.observers = append(b.observers, o)
}

func (b *bus) unsubscribe(o *Observer) {
	for i, existing := range b.observers {
		if existing == o {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			return
		}
	}
}

func (b *bus) snapshot() []*Observer {
	out := make([]*Observer, len(b.observers))
	copy(out, b.observers)
	return out
}

func (b *bus) fireLocalTLVChange(added, removed []TLV) {
	for _, o := range b.snapshot() {
		if o.OnLocalTLVChange != nil {
			o.OnLocalTLVChange(added, removed)
		}
	}
}

func (b *bus) fireTLVChange(id NodeID, added, removed []TLV) {
	for _, o := range b.snapshot() {
		if o.OnTLVChange != nil {
			o.OnTLVChange(id, added, removed)
		}
	}
}

func (b *bus) fireNodeChange(id NodeID, present, collision bool) {
	for _, o := range b.snapshot() {
		if o.OnNodeChange != nil {
			o.OnNodeChange(id, present, collision)
		}
	}
}

func (b *bus) fireNetworkHashChange(hash Digest) {
	for _, o := range b.snapshot() {
		if o.OnNetworkHashChange != nil {
			o.OnNetworkHashChange(hash)
		}
	}
}
