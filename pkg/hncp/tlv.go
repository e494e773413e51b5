package hncp

import (
	"encoding/binary"
	"fmt"
)

// Wire TLV types. Types >= 32 are carried opaquely by the engine and
// interpreted only by collaborators.
const (
	TypeReqNetState       uint16 = 1
	TypeReqNodeState      uint16 = 2
	TypeNetState          uint16 = 3
	TypeNodeState         uint16 = 4
	TypeNeighbour         uint16 = 5
	TypeKeepaliveInterval uint16 = 6

	// AgentTLVRangeStart is the first type number collaborators may use for
	// their own published records; the engine never interprets these.
	AgentTLVRangeStart uint16 = 32
)

const tlvHeaderLen = 4 // type:u16 + length:u16

// TLV is a single Type/Length/Value record. Value never includes the
// 4-byte padding added on the wire.
type TLV struct {
	Type  uint16
	Value []byte
}

// Len returns the unpadded encoded length of the TLV (header + value).
func (t TLV) Len() int { return tlvHeaderLen + len(t.Value) }

// paddedLen returns the encoded length rounded up to a 4-byte boundary.
func (t TLV) paddedLen() int {
	n := t.Len()
	if rem := n % 4; rem != 0 {
		n += 4 - rem
	}
	return n
}

// Encode appends the TLV's wire form (header, value, padding) to dst and
// returns the extended slice.
func (t TLV) Encode(dst []byte) []byte {
	var hdr [tlvHeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], t.Type)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(t.Value)))
	dst = append(dst, hdr[:]...)
	dst = append(dst, t.Value...)
	if pad := t.paddedLen() - t.Len(); pad > 0 {
		var zeros [3]byte
		dst = append(dst, zeros[:pad]...)
	}
	return dst
}

// EncodeTLVs concatenates tlvs in order, each individually padded.
func EncodeTLVs(tlvs []TLV) []byte {
	var buf []byte
	for _, t := range tlvs {
		buf = t.Encode(buf)
	}
	return buf
}

// decodeOne reads a single TLV (with its padding) starting at offset off.
// Returns the TLV, the offset of the next TLV, or an error.
func decodeOne(b []byte, off int) (TLV, int, error) {
	if off+tlvHeaderLen > len(b) {
		return TLV{}, 0, fmt.Errorf("%w: truncated header at offset %d", ErrDecode, off)
	}
	typ := binary.BigEndian.Uint16(b[off : off+2])
	length := binary.BigEndian.Uint16(b[off+2 : off+4])
	valStart := off + tlvHeaderLen
	valEnd := valStart + int(length)
	if valEnd > len(b) {
		return TLV{}, 0, fmt.Errorf("%w: truncated value at offset %d", ErrDecode, off)
	}
	value := make([]byte, length)
	copy(value, b[valStart:valEnd])
	t := TLV{Type: typ, Value: value}
	next := off + t.paddedLen()
	if next > len(b) {
		return TLV{}, 0, fmt.Errorf("%w: truncated padding at offset %d", ErrDecode, off)
	}
	return t, next, nil
}

// DecodeTLVs parses b into a flat sequence of top-level TLVs without
// enforcing ordering; used for wire messages, which may legitimately
// repeat types or appear in arrival order. Use DecodeCanonical for a
// node's published blob, which must be strictly ascending with no
// duplicates.
func DecodeTLVs(b []byte) ([]TLV, error) {
	var out []TLV
	off := 0
	for off < len(b) {
		t, next, err := decodeOne(b, off)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		off = next
	}
	return out, nil
}

// compareTLV orders two TLVs lexicographically on their full encoded
// form (type, then length, then value bytes).
func compareTLV(a, b TLV) int {
	if a.Type != b.Type {
		if a.Type < b.Type {
			return -1
		}
		return 1
	}
	if len(a.Value) != len(b.Value) {
		if len(a.Value) < len(b.Value) {
			return -1
		}
		return 1
	}
	for i := range a.Value {
		if a.Value[i] != b.Value[i] {
			if a.Value[i] < b.Value[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// DecodeCanonical parses b into its ordered TLV sequence and verifies it
// is strictly ascending with no duplicates.
func DecodeCanonical(b []byte) ([]TLV, error) {
	tlvs, err := DecodeTLVs(b)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(tlvs); i++ {
		if c := compareTLV(tlvs[i-1], tlvs[i]); c >= 0 {
			return nil, fmt.Errorf("%w: non-canonical order or duplicate at index %d", ErrDecode, i)
		}
	}
	return tlvs, nil
}

// insertSorted returns a new slice with t inserted into the canonically
// sorted tlvs, or ErrDuplicateTlv if an identical encoded TLV is present.
func insertSorted(tlvs []TLV, t TLV) ([]TLV, error) {
	lo, hi := 0, len(tlvs)
	for lo < hi {
		mid := (lo + hi) / 2
		if compareTLV(tlvs[mid], t) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(tlvs) && compareTLV(tlvs[lo], t) == 0 {
		return nil, ErrDuplicateTlv
	}
	out := make([]TLV, 0, len(tlvs)+1)
	out = append(out, tlvs[:lo]...)
	out = append(out, t)
	out = append(out, tlvs[lo:]...)
	return out, nil
}

// removeAt returns a new slice with the TLV at index i removed.
func removeAt(tlvs []TLV, i int) []TLV {
	out := make([]TLV, 0, len(tlvs)-1)
	out = append(out, tlvs[:i]...)
	out = append(out, tlvs[i+1:]...)
	return out
}

// diffTLVs merges two canonically ordered sequences and reports, in
// canonical order, which TLVs were removed (present in old, absent in
// new) and which were added (present in new, absent in old). Subscribers
// rely on that order: all removals then all additions, both ascending.
func diffTLVs(old, updated []TLV) (removed, added []TLV) {
	i, j := 0, 0
	for i < len(old) && j < len(updated) {
		c := compareTLV(old[i], updated[j])
		switch {
		case c == 0:
			i++
			j++
		case c < 0:
			removed = append(removed, old[i])
			i++
		default:
			added = append(added, updated[j])
			j++
		}
	}
	removed = append(removed, old[i:]...)
	added = append(added, updated[j:]...)
	return removed, added
}
