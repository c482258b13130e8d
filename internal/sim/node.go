package sim

// node.go composes the per-node pieces: the custody store, the per-peer
// outbound session slot, the seen-id set that suppresses duplicate copies,
// and the node's statistics.  Nodes react to events through the free
// handler functions in sim.go and ltp.go; the methods here implement the
// reactions.

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// Node is one participant of the simulated network
type Node struct {
	ID    NodeID
	store *bundleStore

	// bundle ids this node delivered, forwarded, or holds.  Used for
	// duplicate suppression under replicating routers.
	seen map[int64]bool

	// at most one outbound session per peer at any instant
	outbound map[NodeID]*Session

	stats NodeStats
}

// createNode is a constructor
func createNode(id NodeID, bufferCapacity int) *Node {
	node := new(Node)
	node.ID = id
	node.store = createBundleStore(bufferCapacity)
	node.seen = make(map[int64]bool)
	node.outbound = make(map[NodeID]*Session)
	return node
}

// outboundPeers gives the peers with an outbound session, in ascending
// order, so sweeps over the session table are deterministic
func (node *Node) outboundPeers() []NodeID {
	peers := make([]NodeID, 0, len(node.outbound))
	for peer := range node.outbound {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// trySend scans u's store for a bundle the router would hand to v over
// contact c and opens a session when it finds one.  A no-op while a
// session to v is already open.
func (ctx *SimContext) trySend(c *Contact, u, v NodeID) {
	node := ctx.Nodes[u]
	if _, busy := node.outbound[v]; busy {
		return
	}

	now := ctx.now()
	view := ctx.Topo.pairView(u, v)
	b := node.store.peekForPeer(v, u, ctx.Router, view, now, ctx.Cfg.MaxHopCount)
	if b == nil {
		return
	}
	ctx.openSession(u, v, c, b)
}

// trySendActive attempts sends from node over every live contact it is
// party to.  Called when a new bundle lands while contacts are already up.
func (ctx *SimContext) trySendActive(node *Node) {
	now := ctx.now()
	for _, idx := range ctx.Topo.liveContacts() {
		c := &ctx.Plan.Contacts[idx]
		if !c.touches(node.ID) || now < c.Start || now > c.End {
			continue
		}
		ctx.trySend(c, node.ID, c.peerOf(node.ID))
	}
}

// receiveBundle lands a reassembled copy at node v: delivery when v is the
// destination, duplicate suppression, or admission with possible eviction.
func (ctx *SimContext) receiveBundle(v NodeID, b *Bundle) {
	node := ctx.Nodes[v]
	node.stats.Received++
	now := ctx.now()

	if b.Dst == v {
		// never stored at the destination; the first copy counts
		if !node.seen[b.ID] {
			node.seen[b.ID] = true
			node.stats.Delivered++
			node.stats.CumLatency += now - b.CreatedAt
			ctx.Metrics.recordDelivered(b, now)
			ctx.Log.WithFields(logrus.Fields{
				"bundle": b.ID, "node": v, "latency": now - b.CreatedAt,
			}).Debug("bundle delivered")
		}
		return
	}

	if node.seen[b.ID] {
		// a copy already passed through here
		return
	}
	node.seen[b.ID] = true

	victim, stored := node.store.admit(b)
	if victim != nil {
		node.stats.DroppedEviction++
		ctx.Metrics.recordEviction(victim)
		ctx.Log.WithFields(logrus.Fields{
			"bundle": victim.ID, "node": v, "stored": stored,
		}).Debug("bundle evicted")
	}
	if stored {
		ctx.trySendActive(node)
	}
}
