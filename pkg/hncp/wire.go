package hncp

import (
	"encoding/binary"
	"fmt"
)

// A datagram is a flat, non-canonical sequence of top-level TLVs. DecodeDatagram/EncodeDatagram
// operate at that level; the individual message structs below en/decode
// one top-level TLV's Value.

// EncodeDatagram concatenates the wire TLVs for msgs into one datagram.
func EncodeDatagram(msgs ...wireMessage) []byte {
	tlvs := make([]TLV, len(msgs))
	for i, m := range msgs {
		tlvs[i] = m.tlv()
	}
	return EncodeTLVs(tlvs)
}

// DecodeDatagram parses b into its top-level TLVs without enforcing
// canonical order.
func DecodeDatagram(b []byte) ([]TLV, error) {
	return DecodeTLVs(b)
}

type wireMessage interface {
	tlv() TLV
}

// ReqNetState solicits the peer's network_hash summary (wire type 1).
type ReqNetState struct{}

func (ReqNetState) tlv() TLV { return TLV{Type: TypeReqNetState} }

// ReqNodeState solicits a full NODE_STATE publish for ID (wire type 2).
type ReqNodeState struct {
	ID NodeID
}

func (m ReqNodeState) tlv() TLV {
	return TLV{Type: TypeReqNodeState, Value: append([]byte(nil), m.ID[:]...)}
}

func decodeReqNodeState(v []byte) (ReqNodeState, error) {
	if len(v) != NodeIDLen {
		return ReqNodeState{}, fmt.Errorf("%w: REQ_NODE_STATE length %d", ErrDecode, len(v))
	}
	return ReqNodeState{ID: NodeIDFromBytes(v)}, nil
}

// NetState carries a network_hash summary (wire type 3).
type NetState struct {
	Hash Digest
}

func (m NetState) tlv() TLV {
	return TLV{Type: TypeNetState, Value: append([]byte(nil), m.Hash[:]...)}
}

func decodeNetState(v []byte) (NetState, error) {
	if len(v) != DigestLen {
		return NetState{}, fmt.Errorf("%w: NET_STATE length %d", ErrDecode, len(v))
	}
	var m NetState
	copy(m.Hash[:], v)
	return m, nil
}

const nodeStateHeaderLen = NodeIDLen + 4 + 4 + DigestLen

// NodeState carries one node's header, and optionally its full canonical
// TLV set (wire type 4). TLVs == nil means header-only (an offer);
// non-nil (possibly empty) means a full publish.
type NodeState struct {
	ID               NodeID
	UpdateNumber     uint32
	OriginationMsAgo uint32
	ContentHash      Digest
	TLVs             []TLV
}

func (m NodeState) tlv() TLV {
	v := make([]byte, 0, nodeStateHeaderLen)
	v = append(v, m.ID[:]...)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], m.UpdateNumber)
	v = append(v, u32[:]...)
	binary.BigEndian.PutUint32(u32[:], m.OriginationMsAgo)
	v = append(v, u32[:]...)
	v = append(v, m.ContentHash[:]...)
	if m.TLVs != nil {
		v = append(v, EncodeTLVs(m.TLVs)...)
	}
	return TLV{Type: TypeNodeState, Value: v}
}

func decodeNodeState(v []byte) (NodeState, error) {
	if len(v) < nodeStateHeaderLen {
		return NodeState{}, fmt.Errorf("%w: NODE_STATE header truncated", ErrDecode)
	}
	var m NodeState
	off := 0
	m.ID = NodeIDFromBytes(v[off : off+NodeIDLen])
	off += NodeIDLen
	m.UpdateNumber = binary.BigEndian.Uint32(v[off : off+4])
	off += 4
	m.OriginationMsAgo = binary.BigEndian.Uint32(v[off : off+4])
	off += 4
	copy(m.ContentHash[:], v[off:off+DigestLen])
	off += DigestLen

	if off < len(v) {
		tlvs, err := DecodeCanonical(v[off:])
		if err != nil {
			return NodeState{}, err
		}
		m.TLVs = tlvs
	}
	return m, nil
}

// Neighbour is a node-data TLV (not a top-level datagram message)
// published by the flooding component for each discovered peer (wire type
// 5); it is carried nested inside a node's own NODE_STATE TLVs.
type Neighbour struct {
	PeerNodeID      NodeID
	PeerEndpointID  uint32
	LocalEndpointID uint32
}

// TLV returns the canonical encoding of the Neighbour record.
func (m Neighbour) TLV() TLV {
	v := make([]byte, 0, NodeIDLen+8)
	v = append(v, m.PeerNodeID[:]...)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], m.PeerEndpointID)
	v = append(v, u32[:]...)
	binary.BigEndian.PutUint32(u32[:], m.LocalEndpointID)
	v = append(v, u32[:]...)
	return TLV{Type: TypeNeighbour, Value: v}
}

// DecodeNeighbour parses a Neighbour TLV's value.
func DecodeNeighbour(v []byte) (Neighbour, error) {
	if len(v) != NodeIDLen+8 {
		return Neighbour{}, fmt.Errorf("%w: NEIGHBOUR length %d", ErrDecode, len(v))
	}
	return Neighbour{
		PeerNodeID:      NodeIDFromBytes(v[:NodeIDLen]),
		PeerEndpointID:  binary.BigEndian.Uint32(v[NodeIDLen : NodeIDLen+4]),
		LocalEndpointID: binary.BigEndian.Uint32(v[NodeIDLen+4 : NodeIDLen+8]),
	}, nil
}

// KeepaliveInterval advertises one endpoint's keepalive period to peers
// (wire type 6). It rides the trickle NET_STATE multicast, so peers can
// size their reap deadline before any Neighbour TLV exists.
type KeepaliveInterval struct {
	EndpointID uint32
	IntervalMs uint32
}

// TLV returns the canonical encoding of the KeepaliveInterval record.
func (m KeepaliveInterval) TLV() TLV {
	v := make([]byte, 8)
	binary.BigEndian.PutUint32(v[0:4], m.EndpointID)
	binary.BigEndian.PutUint32(v[4:8], m.IntervalMs)
	return TLV{Type: TypeKeepaliveInterval, Value: v}
}

// DecodeKeepaliveInterval parses a KeepaliveInterval TLV's value.
func DecodeKeepaliveInterval(v []byte) (KeepaliveInterval, error) {
	if len(v) != 8 {
		return KeepaliveInterval{}, fmt.Errorf("%w: KEEPALIVE_INTERVAL length %d", ErrDecode, len(v))
	}
	return KeepaliveInterval{
		EndpointID: binary.BigEndian.Uint32(v[0:4]),
		IntervalMs: binary.BigEndian.Uint32(v[4:8]),
	}, nil
}

// DecodeMessage dispatches a top-level TLV to its typed decoder, for use by
// the flooding component's datagram processing loop.
func DecodeMessage(t TLV) (any, error) {
	switch t.Type {
	case TypeReqNetState:
		return ReqNetState{}, nil
	case TypeReqNodeState:
		return decodeReqNodeState(t.Value)
	case TypeNetState:
		return decodeNetState(t.Value)
	case TypeNodeState:
		return decodeNodeState(t.Value)
	case TypeKeepaliveInterval:
		return DecodeKeepaliveInterval(t.Value)
	default:
		return nil, fmt.Errorf("%w: unhandled top-level message type %d", ErrDecode, t.Type)
	}
}
