package protocol

import (
	"net"
	"sync"
	"time"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/netadapter"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Peer is one connected remote node plus the per-peer state the
// protocol layer tracks against it: reputation, rate limiter, and the
// last-announced tip. ID is a process-local identifier (not exchanged
// over the wire) used to tell apart peers sharing a reconnecting
// address in logs and diagnostics.
type Peer struct {
	ID          uuid.UUID
	Conn        *netadapter.Connection
	Router      *netadapter.Router
	Reputation  *Reputation
	RateLimiter *RateLimiter

	mu        sync.Mutex
	tipHeight uint64
	tipHash   [32]byte
}

func newPeer(conn *netadapter.Connection, router *netadapter.Router, params *chaincfg.Params) *Peer {
	return &Peer{
		ID:          uuid.New(),
		Conn:        conn,
		Router:      router,
		Reputation:  NewReputation(),
		RateLimiter: NewRateLimiter(50, params.MaxBytesPerSecond),
	}
}

// SetTip records the peer's last-announced chain tip.
func (p *Peer) SetTip(height uint64, hash [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tipHeight = height
	p.tipHash = hash
}

// Tip returns the peer's last-announced chain tip.
func (p *Peer) Tip() (uint64, [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tipHeight, p.tipHash
}

// ErrSubnetLimitReached is returned by PeerManager.Register when a new
// peer's /24 (IPv4) or /48 (IPv6) subnet already holds the configured
// maximum number of connections (spec.md §4.8 "Peer diversity").
var ErrSubnetLimitReached = errors.New("subnet connection limit reached")

// MaxPeersPerSubnet bounds how many simultaneous connections emberd
// keeps to a single /24 (IPv4) or /48 (IPv6) subnet, mitigating the
// eclipse attack the spec's glossary names.
const MaxPeersPerSubnet = 3

// PeerManager tracks connected peers, enforces subnet diversity, and
// is the ban/reputation authority flows consult before acting on a
// peer's messages. Grounded on the teacher's addressmanager (banned
// address set) and connmanager's outbound-connection-count discipline,
// adapted to a single registry combining both concerns plus the
// integer reputation model spec.md §4.8 requires.
type PeerManager struct {
	params *chaincfg.Params

	mu           sync.Mutex
	peers        map[*Peer]bool
	subnetCounts map[string]int
}

// NewPeerManager builds an empty PeerManager.
func NewPeerManager(params *chaincfg.Params) *PeerManager {
	return &PeerManager{
		params:       params,
		peers:        make(map[*Peer]bool),
		subnetCounts: make(map[string]int),
	}
}

func subnetKey(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return host
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.Mask(net.CIDRMask(24, 32)).String()
	}
	return ip.Mask(net.CIDRMask(48, 128)).String()
}

// Register admits a new peer, rejecting it if its subnet is already at
// MaxPeersPerSubnet.
func (pm *PeerManager) Register(conn *netadapter.Connection, router *netadapter.Router) (*Peer, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	key := subnetKey(conn.RemoteAddr())
	if pm.subnetCounts[key] >= MaxPeersPerSubnet {
		return nil, errors.Wrapf(ErrSubnetLimitReached, "subnet %s already has %d peers", key, pm.subnetCounts[key])
	}

	peer := newPeer(conn, router, pm.params)
	pm.peers[peer] = true
	pm.subnetCounts[key]++
	return peer, nil
}

// Unregister removes a disconnected peer from the registry.
func (pm *PeerManager) Unregister(peer *Peer) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if !pm.peers[peer] {
		return
	}
	delete(pm.peers, peer)
	key := subnetKey(peer.Conn.RemoteAddr())
	pm.subnetCounts[key]--
	if pm.subnetCounts[key] <= 0 {
		delete(pm.subnetCounts, key)
	}
}

// Peers returns a snapshot of all currently registered peers.
func (pm *PeerManager) Peers() []*Peer {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	peers := make([]*Peer, 0, len(pm.peers))
	for p := range pm.peers {
		peers = append(peers, p)
	}
	return peers
}

// HighestWorkPeer returns the connected peer that announced the
// highest tip height, among peers whose reputation has not crossed the
// disconnect threshold. Peers' announced cumulative work is not
// recorded, so it is not compared.
func (pm *PeerManager) HighestWorkPeer() *Peer {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	var best *Peer
	var bestHeight uint64
	for p := range pm.peers {
		if p.Reputation.ShouldDisconnect() {
			continue
		}
		height, _ := p.Tip()
		if best == nil || height > bestHeight {
			best = p
			bestHeight = height
		}
	}
	return best
}

// DecayAll applies one reputation-decay step to every registered peer.
// No code in this module calls it, so scores do not decay on their own.
func (pm *PeerManager) DecayAll() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for p := range pm.peers {
		p.Reputation.Decay()
	}
}

// SeenCache deduplicates broadcasts: hashes already relayed within TTL
// are not re-broadcast (spec.md §4.8 "Broadcast discipline").
type SeenCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[[32]byte]time.Time
}

// NewSeenCache builds a cache that remembers a hash for ttl.
func NewSeenCache(ttl time.Duration) *SeenCache {
	return &SeenCache{ttl: ttl, entries: make(map[[32]byte]time.Time)}
}

// SeenRecently reports whether hash was recorded within the TTL, and
// records it (refreshing its expiry) regardless of the answer.
func (c *SeenCache) SeenRecently(hash [32]byte, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.entries[hash]
	seen := ok && now.Before(expiry)
	c.entries[hash] = now.Add(c.ttl)
	return seen
}

// Sweep drops expired entries, bounding the cache's memory footprint.
func (c *SeenCache) Sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for hash, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, hash)
		}
	}
}
