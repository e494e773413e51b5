package hncp

import (
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"
)

// DigestLen is the fixed width of content_hash and network_hash.
// blake3's 2nd-preimage resistance holds at any truncation length, so the
// digest is produced at full width and truncated rather than requesting a
// short blake3 output.
const DigestLen = 8

// contentHash hashes a node's canonical TLV encoding.
func contentHash(tlvs []TLV) Digest {
	h := blake3.New()
	h.Write(EncodeTLVs(tlvs))
	return truncate(h.Sum(nil))
}

// networkHashEntry is one row of the network hash input: the hash runs
// over (id, content_hash, update_number) of every reachable node in
// id-ascending order.
type networkHashEntry struct {
	ID           NodeID
	ContentHash  Digest
	UpdateNumber uint32
}

func networkHash(entries []networkHashEntry) Digest {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID.Less(entries[j].ID) })
	h := blake3.New()
	var un [4]byte
	for _, e := range entries {
		h.Write(e.ID[:])
		h.Write(e.ContentHash[:])
		binary.BigEndian.PutUint32(un[:], e.UpdateNumber)
		h.Write(un[:])
	}
	return truncate(h.Sum(nil))
}

func truncate(sum []byte) Digest {
	var d Digest
	copy(d[:], sum[:DigestLen])
	return d
}
