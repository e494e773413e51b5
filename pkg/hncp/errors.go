package hncp

import "errors"

var (
	// ErrDecode is returned when a TLV blob is malformed: truncated, not in
	// strictly ascending encoded order, or containing a duplicate.
	ErrDecode = errors.New("hncp: malformed or non-canonical tlv blob")

	// ErrHashMismatch is returned when a full NODE_STATE body does not hash
	// to its advertised content hash.
	ErrHashMismatch = errors.New("hncp: content hash mismatch")

	// ErrDuplicateTlv is returned by AddTLV when the exact encoded TLV is
	// already present in the local publisher's set.
	ErrDuplicateTlv = errors.New("hncp: duplicate tlv")

	// ErrOversize is logged when a full NODE_STATE exceeds the configured
	// MTU budget; the record is still sent by unicast and the event is
	// counted under the "oversize" drop reason. It is not returned to
	// callers.
	ErrOversize = errors.New("hncp: encoded node state exceeds mtu budget")

	// ErrUnknownHandle names a handle that does not (or no longer) refer
	// to a published TLV. RemoveTLV itself treats such handles as a
	// no-op; the sentinel exists for callers that log the condition.
	ErrUnknownHandle = errors.New("hncp: unknown tlv handle")

	// ErrEndpointExists is returned by EnableEndpoint when the named
	// endpoint is already enabled.
	ErrEndpointExists = errors.New("hncp: endpoint already enabled")

	// ErrEndpointNotFound is returned by DisableEndpoint when no endpoint
	// matches.
	ErrEndpointNotFound = errors.New("hncp: endpoint not found")

	// ErrNodeIDCollision names a node identifier collision. Store.Upsert
	// does not return it: collisions are reported through
	// Observer.OnNodeChange with collision set and counted in
	// Metrics.NodeCollisionsTotal.
	ErrNodeIDCollision = errors.New("hncp: node identifier collision")

	// ErrClosed is returned by public API calls made after Engine.Close.
	ErrClosed = errors.New("hncp: engine closed")
)
