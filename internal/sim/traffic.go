package sim

// traffic.go is the application source: each node generates new bundles
// with exponentially distributed inter-arrival times, uniformly drawn
// destination, size, and priority.  All draws come from the dedicated
// traffic rng stream.

import (
	"math"

	"github.com/iti/evt/evtm"
	"github.com/sirupsen/logrus"
)

// expRV returns a sample of an exponentially distributed random number
func expRV(u01, rate float64) float64 {
	return -math.Log(1.0-u01) / rate
}

// startTraffic schedules the first generation event of every node
func (ctx *SimContext) startTraffic() {
	if ctx.Cfg.BundleGenerationRate <= 0.0 {
		return
	}
	for _, node := range ctx.Nodes {
		dt := expRV(ctx.trafficRng.RandU01(), ctx.Cfg.BundleGenerationRate)
		ctx.sched(ctx, node, bundleGeneration, dt)
	}
}

// bundleGeneration is the event handler producing one new bundle at a node
// and scheduling the node's next arrival
func bundleGeneration(evtMgr *evtm.EventManager, context any, data any) any {
	ctx := context.(*SimContext)
	node := data.(*Node)
	cfg := ctx.Cfg

	// destination drawn uniformly over the other nodes
	d := ctx.trafficRng.RandInt(0, cfg.NumNodes-2)
	dst := NodeID(d)
	if dst >= node.ID {
		dst++
	}

	size := ctx.trafficRng.RandInt(cfg.BundleSizeRange[0], cfg.BundleSizeRange[1])
	qos := QoS(ctx.trafficRng.RandInt(0, numQoSLevels-1))

	ctx.createAndAdmit(node, dst, size, qos)

	dt := expRV(ctx.trafficRng.RandU01(), cfg.BundleGenerationRate)
	ctx.sched(ctx, node, bundleGeneration, dt)
	return nil
}

// createAndAdmit builds a bundle at its source and offers it to the source
// store.  A bundle only counts as generated once some store accepted it;
// one the source itself bounces never existed as far as the network is
// concerned.
func (ctx *SimContext) createAndAdmit(node *Node, dst NodeID, size int, qos QoS) *Bundle {
	cfg := ctx.Cfg
	now := ctx.now()

	ctx.nxtBundleID++
	b := createBundle(ctx.nxtBundleID, node.ID, dst, size, qos, now, cfg.BundleTTL, cfg.SprayTokenBudget)

	victim, stored := node.store.admit(b)
	if !stored {
		ctx.Log.WithFields(logrus.Fields{
			"bundle": b.ID, "node": node.ID, "qos": qos.String(),
		}).Debug("source buffer refused new bundle")
		return nil
	}
	if victim != nil {
		node.stats.DroppedEviction++
		ctx.Metrics.recordEviction(victim)
	}

	node.seen[b.ID] = true
	node.stats.Generated++
	ctx.Metrics.recordGenerated(b)

	// one expiry sweep per bundle, at its deadline
	ctx.sched(ctx, &bundleExpiryEvt{id: b.ID}, bundleExpiry, cfg.BundleTTL)

	// a contact may already be up
	ctx.trySendActive(node)
	return b
}

// InjectBundle creates a bundle with explicit attributes at src and admits
// it, bypassing the random traffic source.  Scenario drivers and tests use
// it to place exact workloads.
func (ctx *SimContext) InjectBundle(src, dst NodeID, size int, qos QoS) *Bundle {
	return ctx.createAndAdmit(ctx.Nodes[src], dst, size, qos)
}

// bundleExpiryEvt triggers the expiry sweep for the bundle's deadline
type bundleExpiryEvt struct {
	id int64
}

// bundleExpiry is the event handler sweeping every store for bundles whose
// deadline has passed, and tearing down sessions still carrying them
func bundleExpiry(evtMgr *evtm.EventManager, context any, data any) any {
	ctx := context.(*SimContext)
	now := ctx.now()

	for _, node := range ctx.Nodes {
		for _, b := range node.store.expire(now) {
			node.stats.DroppedExpiry++
			ctx.Metrics.recordExpiry(b.ID)
			ctx.Log.WithFields(logrus.Fields{
				"bundle": b.ID, "node": node.ID,
			}).Debug("bundle expired")
		}
	}

	// a session moving an expired bundle can no longer deliver in time
	for _, node := range ctx.Nodes {
		for _, peer := range node.outboundPeers() {
			sess := node.outbound[peer]
			if sess.bundle.Deadline <= now {
				ctx.failSession(sess, "bundle expired")
			}
		}
	}
	return nil
}
