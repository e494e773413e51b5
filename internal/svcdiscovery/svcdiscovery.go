// Package svcdiscovery is the service-discovery collaborator: it
// advertises this hncpd instance over mDNS (DNS-SD), browses the LAN for
// other advertised services, and mirrors what it finds into the engine's
// published TLV set using the agent-defined type range. Remote instances
// flood those TLVs like any other node data, so every node ends up with a
// network-wide service view without the engine knowing anything about
// mDNS.
package svcdiscovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/libp2p/zeroconf/v2"

	"github.com/hncpd/hncpd/pkg/hncp"
)

// MDNSServiceName is the DNS-SD service type advertised and browsed for.
// Fixed for all hncpd nodes; isolation between networks comes from the
// multicast groups the engine endpoints join, not from mDNS names.
const MDNSServiceName = "_hncpd._udp"

const mdnsDomain = "local"

const (
	// browseInterval controls how often we re-query the network. Each
	// round creates a fresh multicast socket, working around platforms
	// where a single long-lived Browse stalls silently.
	browseInterval = 30 * time.Second

	// browseTimeout bounds one browse round.
	browseTimeout = 10 * time.Second

	// missedRoundsBeforeExpire is how many consecutive browse rounds a
	// previously seen service may be absent before its TLV is withdrawn.
	// mDNS answers are lossy; one silent round is not a disappearance.
	missedRoundsBeforeExpire = 3
)

// Agent-defined TLV types published by this collaborator. Both are in the
// opaque range the engine floods without interpreting.
const (
	// TypeCapabilities carries this node's capability bitmask.
	TypeCapabilities = hncp.AgentTLVRangeStart

	// TypeDiscoveredService carries one LAN service observed via mDNS.
	TypeDiscoveredService = hncp.AgentTLVRangeStart + 1
)

// Capability bits advertised in the TypeCapabilities TLV. Higher-level
// agents (prefix delegation, name service election) read these off the
// subscription bus; this package only publishes them.
const (
	CapMDNSProxy uint32 = 1 << iota
	CapPrefixDelegation
	CapHostnames
	CapLegacy
)

// Publisher is the slice of the engine API this collaborator needs. It is
// satisfied by *hncp.Engine.
type Publisher interface {
	AddTLV(typ uint16, value []byte) (hncp.Handle, error)
	RemoveTLV(h hncp.Handle)
	Subscribe(o *hncp.Observer)
	Unsubscribe(o *hncp.Observer)
}

// EncodeCapabilities encodes a capability bitmask as a TypeCapabilities
// TLV value.
func EncodeCapabilities(caps uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], caps)
	return b[:]
}

// DecodeCapabilities decodes a TypeCapabilities TLV value.
func DecodeCapabilities(v []byte) (uint32, error) {
	if len(v) != 4 {
		return 0, fmt.Errorf("capability value must be 4 bytes, got %d", len(v))
	}
	return binary.BigEndian.Uint32(v), nil
}

// ServiceEntry is one discovered LAN service, as carried in a
// TypeDiscoveredService TLV.
type ServiceEntry struct {
	Instance string
	Port     uint16
}

// EncodeService encodes a ServiceEntry as a TypeDiscoveredService TLV
// value: port:u16 big-endian followed by the instance name bytes.
func EncodeService(e ServiceEntry) []byte {
	b := make([]byte, 2, 2+len(e.Instance))
	binary.BigEndian.PutUint16(b, e.Port)
	return append(b, e.Instance...)
}

// DecodeService decodes a TypeDiscoveredService TLV value.
func DecodeService(v []byte) (ServiceEntry, error) {
	if len(v) < 2 {
		return ServiceEntry{}, fmt.Errorf("service value must be at least 2 bytes, got %d", len(v))
	}
	return ServiceEntry{
		Instance: string(v[2:]),
		Port:     binary.BigEndian.Uint16(v[:2]),
	}, nil
}

type seenService struct {
	handle    hncp.Handle
	lastRound uint64
}

// Discovery advertises this node over mDNS and mirrors browsed LAN
// services into the engine's published TLVs.
type Discovery struct {
	pub      Publisher
	instance string
	port     int
	caps     uint32
	log      *slog.Logger

	server *zeroconf.Server
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	capHandle hncp.Handle
	observer  *hncp.Observer

	mu     sync.Mutex
	round  uint64
	seen   map[string]*seenService // keyed by mDNS instance name
	remote map[string]ServiceEntry // keyed by node id hex + instance, fed by the bus
}

// New creates a Discovery. instance names this node's advertisement
// (typically the node id in hex); port is informational, carried in the
// SRV record and the published TLVs. caps is the capability bitmask to
// publish; 0 publishes no capability TLV.
func New(pub Publisher, instance string, port int, caps uint32, log *slog.Logger) *Discovery {
	if log == nil {
		log = slog.Default()
	}
	return &Discovery{
		pub:      pub,
		instance: instance,
		port:     port,
		caps:     caps,
		log:      log,
		seen:     make(map[string]*seenService),
		remote:   make(map[string]ServiceEntry),
	}
}

// Start registers the mDNS advertisement, publishes the capability TLV,
// subscribes to the bus for remote service TLVs, and starts the periodic
// browse loop.
func (d *Discovery) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	server, err := zeroconf.Register(
		d.instance,
		MDNSServiceName,
		mdnsDomain,
		d.port,
		[]string{"node=" + d.instance},
		nil, // all multicast-capable interfaces
	)
	if err != nil {
		return fmt.Errorf("svcdiscovery: mdns register: %w", err)
	}
	d.server = server

	if d.caps != 0 {
		h, err := d.pub.AddTLV(TypeCapabilities, EncodeCapabilities(d.caps))
		if err != nil {
			server.Shutdown()
			return fmt.Errorf("svcdiscovery: publish capabilities: %w", err)
		}
		d.capHandle = h
	}

	d.observer = &hncp.Observer{
		OnTLVChange: d.onRemoteTLVChange,
		OnNodeChange: func(id hncp.NodeID, present, collision bool) {
			if !present {
				d.forgetNode(id)
			}
		},
	}
	d.pub.Subscribe(d.observer)

	d.wg.Add(1)
	go d.browseLoop()
	return nil
}

// Close withdraws everything this collaborator published and stops the
// browse loop.
func (d *Discovery) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.server != nil {
		d.server.Shutdown()
	}
	d.wg.Wait()

	if d.observer != nil {
		d.pub.Unsubscribe(d.observer)
	}
	if d.caps != 0 {
		d.pub.RemoveTLV(d.capHandle)
	}

	// Collect handles under the lock, withdraw outside it: RemoveTLV
	// blocks on the scheduler goroutine, which may itself be waiting on
	// d.mu inside a bus callback.
	d.mu.Lock()
	handles := make([]hncp.Handle, 0, len(d.seen))
	for instance, s := range d.seen {
		handles = append(handles, s.handle)
		delete(d.seen, instance)
	}
	d.mu.Unlock()
	for _, h := range handles {
		d.pub.RemoveTLV(h)
	}
	return nil
}

// Services returns the network-wide service view: everything remote
// nodes have flooded as TypeDiscoveredService TLVs.
func (d *Discovery) Services() []ServiceEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ServiceEntry, 0, len(d.remote))
	for _, e := range d.remote {
		out = append(out, e)
	}
	return out
}

func (d *Discovery) browseLoop() {
	defer d.wg.Done()

	// Small initial delay with jitter so a fleet of nodes booting from
	// the same power event doesn't query in lockstep.
	select {
	case <-time.After(time.Second + rand.N(time.Second)):
	case <-d.ctx.Done():
		return
	}

	d.runBrowse()

	ticker := time.NewTicker(browseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.runBrowse()
		}
	}
}

// runBrowse executes one bounded browse round, then expires services
// missing for too many rounds.
func (d *Discovery) runBrowse() {
	ctx, cancel := context.WithTimeout(d.ctx, browseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	var consumer sync.WaitGroup
	consumer.Add(1)
	go func() {
		defer consumer.Done()
		for entry := range entries {
			d.onEntry(entry)
		}
	}()

	// zeroconf.Browse closes entries when done.
	if err := zeroconf.Browse(ctx, MDNSServiceName, mdnsDomain, entries); err != nil && d.ctx.Err() == nil {
		d.log.Debug("mdns browse round failed", "error", err)
	}
	consumer.Wait()

	d.mu.Lock()
	d.round++
	d.mu.Unlock()
	d.expireStale()
}

func (d *Discovery) onEntry(entry *zeroconf.ServiceEntry) {
	if entry.Instance == d.instance {
		return // our own advertisement
	}

	d.mu.Lock()
	if s, ok := d.seen[entry.Instance]; ok {
		s.lastRound = d.round
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	value := EncodeService(ServiceEntry{Instance: entry.Instance, Port: uint16(entry.Port)})
	h, err := d.pub.AddTLV(TypeDiscoveredService, value)
	if err != nil {
		// DuplicateTlv means another browse round raced us; anything
		// else is logged and retried next round.
		d.log.Debug("publish discovered service failed", "instance", entry.Instance, "error", err)
		return
	}

	d.mu.Lock()
	d.seen[entry.Instance] = &seenService{handle: h, lastRound: d.round}
	d.mu.Unlock()
	d.log.Info("lan service discovered", "instance", entry.Instance, "port", entry.Port)
}

func (d *Discovery) expireStale() {
	d.mu.Lock()
	var expired []string
	var handles []hncp.Handle
	for instance, s := range d.seen {
		if d.round-s.lastRound >= missedRoundsBeforeExpire {
			expired = append(expired, instance)
			handles = append(handles, s.handle)
			delete(d.seen, instance)
		}
	}
	d.mu.Unlock()

	for i, h := range handles {
		d.pub.RemoveTLV(h)
		d.log.Info("lan service expired", "instance", expired[i])
	}
}

// onRemoteTLVChange maintains the network-wide service view from the
// subscription bus. Runs on the engine's scheduler goroutine; it only
// touches d's own state under d.mu, never the engine.
func (d *Discovery) onRemoteTLVChange(id hncp.NodeID, added, removed []hncp.TLV) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range removed {
		if t.Type != TypeDiscoveredService {
			continue
		}
		if e, err := DecodeService(t.Value); err == nil {
			delete(d.remote, id.String()+"/"+e.Instance)
		}
	}
	for _, t := range added {
		if t.Type != TypeDiscoveredService {
			continue
		}
		e, err := DecodeService(t.Value)
		if err != nil {
			d.log.Debug("malformed discovered-service tlv", "node", id, "error", err)
			continue
		}
		d.remote[id.String()+"/"+e.Instance] = e
	}
}

func (d *Discovery) forgetNode(id hncp.NodeID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := id.String() + "/"
	for k := range d.remote {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(d.remote, k)
		}
	}
}
