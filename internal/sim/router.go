package sim

// router.go holds the three forwarding policies.  All share one contract:
// given a bundle, the node holding it, the topology oracle, and the time,
// name the neighbor to hand the bundle to, or report that no progress is
// possible right now.  One policy instance serves the whole simulation;
// routers keep no per-node or per-bundle state.

import (
	"container/heap"
	"math"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// router kind names recognized in the configuration
const (
	RouterEpidemic     = "epidemic"
	RouterSprayAndWait = "spray_and_wait"
	RouterPredictive   = "predictive"
)

// Router selects a next hop for a bundle.  The boolean is false when the
// bundle should stay in custody at time t.
type Router interface {
	SelectNextHop(b *Bundle, at NodeID, topo *Topology, t float64) (NodeID, bool)
}

// CreateRouter builds the policy named by kind.  The plan reference is
// needed only by the predictive policy; the others ignore it.
func CreateRouter(kind string, plan *ContactPlan) Router {
	switch kind {
	case RouterEpidemic:
		return &epidemicRouter{}
	case RouterSprayAndWait:
		return &sprayRouter{}
	case RouterPredictive:
		return createContactGraphRouter(plan)
	}
	panic("unrecognized router kind " + kind)
}

// floodNextHop is the choice shared by epidemic and the spray phase of
// spray-and-wait: the destination when directly reachable, otherwise the
// lowest-id reachable neighbor the bundle has not visited
func floodNextHop(b *Bundle, at NodeID, topo *Topology, t float64) (NodeID, bool) {
	for _, nbr := range topo.ActiveNeighbors(at, t) {
		if nbr == b.Dst {
			return nbr, true
		}
	}
	for _, nbr := range topo.ActiveNeighbors(at, t) {
		if !b.visited(nbr) {
			return nbr, true
		}
	}
	return 0, false
}

// epidemicRouter floods: any reachable unvisited neighbor is a valid relay
type epidemicRouter struct{}

func (er *epidemicRouter) SelectNextHop(b *Bundle, at NodeID, topo *Topology, t float64) (NodeID, bool) {
	return floodNextHop(b, at, topo, t)
}

// sprayRouter is spray-and-wait: while a copy holds more than one token it
// sprays like epidemic; at one token it waits for the destination itself
type sprayRouter struct{}

func (sr *sprayRouter) SelectNextHop(b *Bundle, at NodeID, topo *Topology, t float64) (NodeID, bool) {
	if b.Tokens > 1 {
		return floodNextHop(b, at, topo, t)
	}
	for _, nbr := range topo.ActiveNeighbors(at, t) {
		if nbr == b.Dst {
			return nbr, true
		}
	}
	return 0, false
}

// contactGraphRouter plans over the whole contact schedule.  Two structures
// cooperate: a static pair graph (an edge wherever the pair has any contact
// at all) whose cached Dijkstra trees give cheap reachability, and a
// time-expanded search over the contacts themselves that labels each node
// with its earliest feasible arrival time.
type contactGraphRouter struct {
	plan *ContactPlan

	// static pair graph, nodes labeled by NodeID
	pairGraph graph.Graph
	gNodes    map[NodeID]simple.Node

	// cached shortest path trees on the static graph, keyed by root
	cachedSP map[NodeID]path.Shortest
}

// createContactGraphRouter is a constructor.  The static graph is built
// once; the plan is immutable after install so it never goes stale.
func createContactGraphRouter(plan *ContactPlan) *contactGraphRouter {
	cgr := new(contactGraphRouter)
	cgr.plan = plan
	cgr.gNodes = make(map[NodeID]simple.Node)
	cgr.cachedSP = make(map[NodeID]path.Shortest)

	pg := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for idx := range plan.Contacts {
		c := &plan.Contacts[idx]
		for _, id := range []NodeID{c.A, c.B} {
			if _, present := cgr.gNodes[id]; !present {
				cgr.gNodes[id] = simple.Node(id)
			}
		}
		if c.A != c.B {
			pg.SetWeightedEdge(simple.WeightedEdge{F: cgr.gNodes[c.A], T: cgr.gNodes[c.B], W: 1.0})
		}
	}
	cgr.pairGraph = pg
	return cgr
}

// getSPTree returns the cached shortest path tree rooted at from,
// computing and caching it on first use
func (cgr *contactGraphRouter) getSPTree(from NodeID) path.Shortest {
	spTree, present := cgr.cachedSP[from]
	if present {
		return spTree
	}
	spTree = path.DijkstraFrom(cgr.gNodes[from], cgr.pairGraph)
	cgr.cachedSP[from] = spTree
	return spTree
}

// reachable reports whether dst can be reached from src over the static
// pair graph at all.  A negative answer spares the time-expanded search.
func (cgr *contactGraphRouter) reachable(src, dst NodeID) bool {
	if _, present := cgr.gNodes[src]; !present {
		return false
	}
	if _, present := cgr.gNodes[dst]; !present {
		return false
	}
	_, weight := cgr.getSPTree(src).To(int64(dst))
	return !math.IsInf(weight, 1)
}

// cgLabel is one entry of the time-expanded search frontier
type cgLabel struct {
	node     NodeID
	arrival  float64 // earliest feasible arrival at node
	hops     int
	firstHop NodeID // neighbor the path leaves the origin through
}

// cgFrontier is a min-heap on (arrival, hops, node id), the label order
// that makes the search deterministic
type cgFrontier []cgLabel

func (h cgFrontier) Len() int { return len(h) }
func (h cgFrontier) Less(i, j int) bool {
	if h[i].arrival != h[j].arrival {
		return h[i].arrival < h[j].arrival
	}
	if h[i].hops != h[j].hops {
		return h[i].hops < h[j].hops
	}
	return h[i].node < h[j].node
}
func (h cgFrontier) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cgFrontier) Push(x any) {
	*h = append(*h, x.(cgLabel))
}

func (h *cgFrontier) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// bestNextHop runs the earliest-arrival search from (at, t) toward b.Dst.
// A contact is usable when its window has not closed by the arrival time at
// its near end; using it costs a hop and advances the clock to the later of
// the arrival and the window opening.  Nodes the bundle already visited are
// not routed through, except the destination itself.
func (cgr *contactGraphRouter) bestNextHop(b *Bundle, at NodeID, t float64) (NodeID, bool) {
	if !cgr.reachable(at, b.Dst) {
		return 0, false
	}

	frontier := &cgFrontier{}
	heap.Init(frontier)
	heap.Push(frontier, cgLabel{node: at, arrival: t, hops: 0, firstHop: -1})

	settled := make(map[NodeID]bool)
	for frontier.Len() > 0 {
		label := heap.Pop(frontier).(cgLabel)
		if settled[label.node] {
			continue
		}
		settled[label.node] = true

		if label.node == b.Dst {
			return label.firstHop, true
		}

		for _, idx := range cgr.plan.byNode[label.node] {
			c := &cgr.plan.Contacts[idx]
			if c.End < label.arrival {
				continue
			}
			peer := c.peerOf(label.node)
			if settled[peer] {
				continue
			}
			if peer != b.Dst && b.visited(peer) {
				continue
			}
			arrival := label.arrival
			if c.Start > arrival {
				arrival = c.Start
			}
			firstHop := label.firstHop
			if label.node == at {
				firstHop = peer
			}
			heap.Push(frontier, cgLabel{node: peer, arrival: arrival, hops: label.hops + 1, firstHop: firstHop})
		}
	}
	return 0, false
}

// SelectNextHop commits to the first hop of the earliest-delivery path, but
// only when that hop is usable right now; otherwise the bundle waits.
func (cgr *contactGraphRouter) SelectNextHop(b *Bundle, at NodeID, topo *Topology, t float64) (NodeID, bool) {
	nxt, ok := cgr.bestNextHop(b, at, t)
	if !ok {
		return 0, false
	}
	if !topo.EdgeActive(at, nxt, t) {
		return 0, false
	}
	return nxt, true
}
