package sim

// sim.go assembles and drives a simulation.  The SimContext owns every
// shared structure -- clock, plan, topology oracle, node table, router,
// metrics, rng streams -- and is passed explicitly to every event handler;
// nothing rides on package globals.

import (
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
	"github.com/sirupsen/logrus"
)

// contactEndBias pushes contact-end events behind any other event bearing
// the same timestamp, so a segment arriving in the contact's last instant
// is still processed before the window closes
const contactEndBias int64 = 1 << 40

// SimContext is the single owner of all mutable simulation state
type SimContext struct {
	Cfg     *SimConfig
	EvtMgr  *evtm.EventManager
	Plan    *ContactPlan
	Topo    *Topology
	Nodes   []*Node
	Router  Router
	Metrics *MetricsCollector
	Log     *logrus.Logger

	planRng    *rngstream.RngStream
	trafficRng *rngstream.RngStream
	lossRng    *rngstream.RngStream

	// indirection over the loss stream so scripted draws can replace it
	lossDraw func() float64

	// ever-increasing insertion counter; doubles as the event priority so
	// same-time events dispatch in insertion order
	evtSeq int64

	nxtBundleID  int64
	nxtSessionID int64

	finalized bool
	results   *Results
}

// BuildSimContext validates the configuration, draws a contact plan from
// it, and assembles a ready-to-run simulation
func BuildSimContext(cfg *SimConfig, log *logrus.Logger) (*SimContext, error) {
	ctx, err := createSimContext(cfg, log)
	if err != nil {
		return nil, err
	}
	ctx.installPlan(GenerateContactPlan(cfg, ctx.planRng))
	return ctx, nil
}

// BuildSimContextWithPlan is BuildSimContext with a caller-supplied plan,
// the entry point for replayed plans and fixed scenarios
func BuildSimContextWithPlan(cfg *SimConfig, plan *ContactPlan, log *logrus.Logger) (*SimContext, error) {
	ctx, err := createSimContext(cfg, log)
	if err != nil {
		return nil, err
	}
	ctx.installPlan(plan)
	return ctx, nil
}

// createSimContext builds everything that does not depend on the plan
func createSimContext(cfg *SimConfig, log *logrus.Logger) (*SimContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}

	ctx := new(SimContext)
	ctx.Cfg = cfg
	ctx.Log = log
	ctx.EvtMgr = evtm.New()
	ctx.Metrics = createMetricsCollector()
	ctx.Nodes = make([]*Node, cfg.NumNodes)
	for idx := range ctx.Nodes {
		ctx.Nodes[idx] = createNode(NodeID(idx), cfg.MaxBufferSize)
	}

	// one named stream per subsystem, all derived from the master seed, so
	// reordering draws in one subsystem cannot perturb the others
	rngstream.SetRngStreamMasterSeed(uint64(cfg.RandomSeed))
	ctx.planRng = rngstream.New("plan")
	ctx.trafficRng = rngstream.New("traffic")
	ctx.lossRng = rngstream.New("loss")
	ctx.lossDraw = ctx.lossRng.RandU01

	return ctx, nil
}

// installPlan adopts the plan, builds the topology oracle and router over
// it, and materializes every contact window as a pair of scheduled events
func (ctx *SimContext) installPlan(plan *ContactPlan) {
	ctx.Plan = plan
	ctx.Topo = createTopology(plan)
	ctx.Router = CreateRouter(ctx.Cfg.RouterKind, plan)

	if len(plan.Contacts) == 0 && ctx.Cfg.BundleGenerationRate > 0.0 {
		// infeasible density is an outcome, not an error
		ctx.Log.Warn("contact plan is empty; generated traffic cannot be delivered")
	}

	for idx := range plan.Contacts {
		c := &plan.Contacts[idx]
		ctx.sched(ctx, c, contactStart, c.Start)
		ctx.schedLate(ctx, c, contactEnd, c.End)
	}
}

// now gives the current simulation time in seconds
func (ctx *SimContext) now() float64 {
	return ctx.EvtMgr.CurrentSeconds()
}

// sched enqueues an event handler at the given delay from now.  The
// insertion counter rides along as the timestamp priority, which makes
// same-time dispatch follow insertion order.
func (ctx *SimContext) sched(cxt any, data any, hdlr evtm.EventHandlerFunction, delay float64) {
	if delay < 0.0 {
		delay = 0.0
	}
	ctx.evtSeq++
	ctx.EvtMgr.Schedule(cxt, data, hdlr, vrtime.CreateTime(vrtime.SecondsToTicks(delay), ctx.evtSeq))
}

// schedLate is sched with the contact-end bias added to the priority
func (ctx *SimContext) schedLate(cxt any, data any, hdlr evtm.EventHandlerFunction, delay float64) {
	if delay < 0.0 {
		delay = 0.0
	}
	ctx.evtSeq++
	ctx.EvtMgr.Schedule(cxt, data, hdlr, vrtime.CreateTime(vrtime.SecondsToTicks(delay), ctx.evtSeq+contactEndBias))
}

// contactStart is the event handler bringing a contact window up.  Both
// endpoints scan their custody for bundles the router would move across.
func contactStart(evtMgr *evtm.EventManager, context any, data any) any {
	ctx := context.(*SimContext)
	c := data.(*Contact)

	ctx.Topo.contactUp(c)
	ctx.Log.WithFields(logrus.Fields{
		"contact": c.Index, "a": c.A, "b": c.B, "until": c.End,
	}).Debug("contact up")

	ctx.trySend(c, c.A, c.B)
	ctx.trySend(c, c.B, c.A)
	return nil
}

// contactEnd is the event handler closing a contact window.  Sessions
// still running on it are suspended, or failed outright when no feasible
// successor contact exists before their bundle expires.
func contactEnd(evtMgr *evtm.EventManager, context any, data any) any {
	ctx := context.(*SimContext)
	c := data.(*Contact)

	ctx.Topo.contactDown(c)
	ctx.Log.WithFields(logrus.Fields{"contact": c.Index, "a": c.A, "b": c.B}).Debug("contact down")

	for _, pair := range [][2]NodeID{{c.A, c.B}, {c.B, c.A}} {
		sess := ctx.Nodes[pair[0]].outbound[pair[1]]
		if sess != nil && sess.contact == c && !sess.closed() {
			ctx.closeSessionAtContactEnd(sess)
		}
	}
	return nil
}

// metricsSnapshot is the event handler sampling the collector periodically
func metricsSnapshot(evtMgr *evtm.EventManager, context any, data any) any {
	ctx := context.(*SimContext)
	ctx.Metrics.snapshot(ctx.now(), ctx.Nodes)

	// the closing sample at the horizon is taken by Results
	if ctx.now()+ctx.Cfg.MetricsSnapshotInterval < ctx.Cfg.SimulationTime {
		ctx.sched(ctx, nil, metricsSnapshot, ctx.Cfg.MetricsSnapshotInterval)
	}
	return nil
}

// Run drives the simulation to its horizon and returns the results.
// Events scheduled past the horizon are never dispatched; an event queue
// that drains early is normal termination.
func (ctx *SimContext) Run() *Results {
	ctx.startTraffic()
	ctx.sched(ctx, nil, metricsSnapshot, 0.0)

	ctx.EvtMgr.Run(ctx.Cfg.SimulationTime)

	return ctx.Results()
}

// Results folds the collector and node tables into the result artifact.
// Safe to call repeatedly; the fold happens once.
func (ctx *SimContext) Results() *Results {
	if ctx.finalized {
		return ctx.results
	}
	ctx.finalized = true

	// closing sample at the horizon
	ctx.Metrics.snapshot(ctx.Cfg.SimulationTime, ctx.Nodes)

	perNode := make([]NodeRecord, len(ctx.Nodes))
	for idx, node := range ctx.Nodes {
		rec := NodeRecord{
			ID:                   node.ID,
			Generated:            node.stats.Generated,
			Delivered:            node.stats.Delivered,
			Transmitted:          node.stats.Transmitted,
			Received:             node.stats.Received,
			DroppedEviction:      node.stats.DroppedEviction,
			DroppedExpiry:        node.stats.DroppedExpiry,
			FinalBufferOccupancy: node.store.size(),
		}
		if node.stats.Delivered > 0 {
			rec.AvgLatency = node.stats.CumLatency / float64(node.stats.Delivered)
		}
		perNode[idx] = rec
	}

	ctx.results = &Results{
		Config:   ctx.Cfg,
		Summary:  ctx.Metrics.summary(),
		Timeline: ctx.Metrics.timeline,
		PerNode:  perNode,
		Plan:     ctx.Plan,
	}
	return ctx.results
}
