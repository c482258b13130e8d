package sim

// ltp.go implements the segment-oriented reliable transfer engine that
// moves one bundle across one live contact.  A transfer is a session: the
// sender fragments the bundle, emits the segments back to back, closes the
// round with a checkpoint, and the receiver answers with a report of the
// missing indices (or a final ack).  Rounds repeat over the missing set
// until everything is acknowledged, the retry cap trips, or the contact
// closes underneath the session.
//
// Cancellation never removes an event from the queue.  Every in-flight
// event carries the session generation current when it was scheduled; a
// suspended or closed session bumps its generation and stale events no-op
// on arrival.

import (
	"sort"

	"github.com/iti/evt/evtm"
	"github.com/sirupsen/logrus"
)

// SessionState tracks a session through its lifecycle
type SessionState int

const (
	SessionOpen SessionState = iota
	SessionCheckpointed
	SessionClosedDelivered
	SessionClosedFailed
	SessionSuspended
)

var sessStateToStr map[SessionState]string = map[SessionState]string{
	SessionOpen: "OPEN", SessionCheckpointed: "CHECKPOINTED",
	SessionClosedDelivered: "CLOSED_DELIVERED", SessionClosedFailed: "CLOSED_FAILED",
	SessionSuspended: "SUSPENDED"}

func (ss SessionState) String() string {
	return sessStateToStr[ss]
}

// segKind classifies the simulated segment events.  Segments carry no
// payload, only a byte length; data segments are subject to loss, the
// control kinds (report, ack) travel the reverse direction unharmed.
type segKind int

const (
	segData segKind = iota
	segCheckpoint
	segReport
	segAck
)

// A Session is the transfer state of one (sender, receiver, bundle)
// triple over one contact.  Both endpoint views live in the one struct:
// unacked/retries belong to the sender, got to the receiver.
type Session struct {
	id       int64
	sender   NodeID
	receiver NodeID
	bundle   *Bundle
	contact  *Contact

	segSize int
	n       int

	state SessionState

	// generation counter for event cancellation
	gen int

	// emission round; incremented per retransmission pass
	round int

	// segment indexes not yet acknowledged (sender view)
	unacked map[int]bool

	// per-segment retransmission counts (sender view)
	retries map[int]int

	// segment indexes received (receiver view)
	got map[int]bool

	// last round the receiver answered with a report or ack
	respondedRound int

	startAt      float64
	lastActivity float64
}

// missingIndices lists, in ascending order, the segments the receiver
// still lacks
func (sess *Session) missingIndices() []int {
	missing := make([]int, 0)
	for idx := 0; idx < sess.n; idx++ {
		if !sess.got[idx] {
			missing = append(missing, idx)
		}
	}
	return missing
}

func (sess *Session) closed() bool {
	return sess.state == SessionClosedDelivered || sess.state == SessionClosedFailed ||
		sess.state == SessionSuspended
}

// segArrivalEvt, reportArrivalEvt, ackArrivalEvt and ckptTimeoutEvt are the
// payloads of the session events.  Each snapshots the generation at
// scheduling time.
type segArrivalEvt struct {
	sess *Session
	gen  int
	idx  int
	kind segKind // segCheckpoint marks the last segment of its round
}

type reportArrivalEvt struct {
	sess    *Session
	gen     int
	missing []int
}

type ackArrivalEvt struct {
	sess *Session
	gen  int
}

type ckptTimeoutEvt struct {
	sess  *Session
	gen   int
	round int
}

// openSession starts a transfer of bundle b from u to v over contact c.
// Callers have verified the open conditions: the contact is live, the
// router picked v, and u has no open session toward v.
func (ctx *SimContext) openSession(u, v NodeID, c *Contact, b *Bundle) *Session {
	ctx.nxtSessionID++
	now := ctx.now()

	sess := &Session{
		id:             ctx.nxtSessionID,
		sender:         u,
		receiver:       v,
		bundle:         b,
		contact:        c,
		segSize:        ctx.Cfg.LtpSegmentSize,
		n:              b.segmentCount(ctx.Cfg.LtpSegmentSize),
		state:          SessionOpen,
		unacked:        make(map[int]bool),
		retries:        make(map[int]int),
		got:            make(map[int]bool),
		respondedRound: -1,
		startAt:        now,
		lastActivity:   now,
	}
	for idx := 0; idx < sess.n; idx++ {
		sess.unacked[idx] = true
	}

	ctx.Nodes[u].outbound[v] = sess
	ctx.Metrics.SessionsOpened++
	ctx.Log.WithFields(logrus.Fields{
		"session": sess.id, "sender": u, "receiver": v,
		"bundle": b.ID, "segments": sess.n,
	}).Debug("session opened")

	ctx.emitRound(sess, sess.missingFromSender())
	return sess
}

// missingFromSender lists the unacknowledged indexes in ascending order
func (sess *Session) missingFromSender() []int {
	idxs := make([]int, 0, len(sess.unacked))
	for idx := range sess.unacked {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	return idxs
}

// emitRound schedules one back-to-back emission pass over the given
// segment indexes.  Each segment occupies the channel for its transmission
// time whether or not the loss draw kills it; surviving segments become
// arrival events at the far end.  The last segment of the pass doubles as
// the checkpoint, and a checkpoint timeout covering its loss is scheduled
// one RTO past the end of the pass.
func (ctx *SimContext) emitRound(sess *Session, idxs []int) {
	now := ctx.now()
	prop := ctx.Cfg.PropagationDelay
	cursor := now

	for pos, idx := range idxs {
		segBytes := sess.bundle.segmentBytes(idx, sess.segSize)
		cursor += float64(segBytes*8) / sess.contact.BwBps

		ctx.Metrics.SegmentsSent++
		if ctx.lossDraw() < sess.contact.Err {
			ctx.Metrics.SegmentsLost++
			continue
		}
		kind := segData
		if pos == len(idxs)-1 {
			kind = segCheckpoint
		}
		evt := &segArrivalEvt{sess: sess, gen: sess.gen, idx: idx, kind: kind}
		ctx.sched(ctx, evt, segArrival, cursor-now+prop)
	}

	sess.state = SessionCheckpointed
	sess.lastActivity = now

	// the checkpoint must clear the channel before any report can exist,
	// so the slack term is one full segment transmission time
	slack := float64(sess.segSize*8) / sess.contact.BwBps
	rto := 2.0*prop + slack
	evt := &ckptTimeoutEvt{sess: sess, gen: sess.gen, round: sess.round}
	ctx.sched(ctx, evt, ckptTimeout, cursor-now+rto)
}

// segArrival is the event handler for a data segment reaching the receiver
func segArrival(evtMgr *evtm.EventManager, context any, data any) any {
	ctx := context.(*SimContext)
	evt := data.(*segArrivalEvt)
	sess := evt.sess

	if evt.gen != sess.gen || sess.closed() {
		return nil
	}

	sess.got[evt.idx] = true
	sess.lastActivity = ctx.now()

	if evt.kind == segCheckpoint {
		ctx.receiverRespond(sess)
	}
	return nil
}

// ckptTimeout is the event handler for the receiver-side checkpoint timer.
// It covers the case of the checkpoint segment itself being lost: the
// receiver answers as though the checkpoint had arrived.
func ckptTimeout(evtMgr *evtm.EventManager, context any, data any) any {
	ctx := context.(*SimContext)
	evt := data.(*ckptTimeoutEvt)
	sess := evt.sess

	if evt.gen != sess.gen || sess.closed() || evt.round != sess.round {
		return nil
	}
	ctx.receiverRespond(sess)
	return nil
}

// receiverRespond emits the receiver's answer for the current round: a
// final ack when every segment arrived, otherwise a report naming the
// missing indexes.  At most one answer per round.
func (ctx *SimContext) receiverRespond(sess *Session) {
	if sess.respondedRound >= sess.round {
		return
	}
	sess.respondedRound = sess.round

	prop := ctx.Cfg.PropagationDelay
	missing := sess.missingIndices()
	if len(missing) == 0 {
		evt := &ackArrivalEvt{sess: sess, gen: sess.gen}
		ctx.sched(ctx, evt, ackArrival, prop)
		return
	}
	evt := &reportArrivalEvt{sess: sess, gen: sess.gen, missing: missing}
	ctx.sched(ctx, evt, reportArrival, prop)
}

// reportArrival is the event handler for a report reaching the sender: the
// named segments are queued for retransmission unless one of them has
// exhausted its retries, which fails the whole session.
func reportArrival(evtMgr *evtm.EventManager, context any, data any) any {
	ctx := context.(*SimContext)
	evt := data.(*reportArrivalEvt)
	sess := evt.sess

	if evt.gen != sess.gen || sess.closed() {
		return nil
	}

	for _, idx := range evt.missing {
		sess.retries[idx]++
		if sess.retries[idx] > ctx.Cfg.MaxLtpRetries {
			ctx.failSession(sess, "retry cap exceeded")
			ctx.resumeContact(sess.contact, sess.sender, sess.receiver)
			return nil
		}
	}

	sess.unacked = make(map[int]bool)
	for _, idx := range evt.missing {
		sess.unacked[idx] = true
	}
	ctx.Metrics.Retransmissions += len(evt.missing)

	sess.round++
	sess.state = SessionOpen
	ctx.emitRound(sess, evt.missing)
	return nil
}

// ackArrival is the event handler for the final ack reaching the sender.
// The session closes delivered: custody moves according to the routing
// policy, and the reassembled copy lands at the receiver.
func ackArrival(evtMgr *evtm.EventManager, context any, data any) any {
	ctx := context.(*SimContext)
	evt := data.(*ackArrivalEvt)
	sess := evt.sess

	if evt.gen != sess.gen || sess.closed() {
		return nil
	}

	sess.gen++
	sess.state = SessionClosedDelivered
	sess.unacked = make(map[int]bool)
	delete(ctx.Nodes[sess.sender].outbound, sess.receiver)
	ctx.Metrics.SessionsDelivered++

	sender := ctx.Nodes[sess.sender]
	b := sess.bundle

	// the copy that crossed the link
	transferred := b.clone()
	transferred.HopCount++
	transferred.visit(sess.receiver)

	// custody at the sender follows the routing policy
	switch ctx.Cfg.RouterKind {
	case RouterEpidemic:
		if sess.receiver == b.Dst {
			sender.store.remove(b.ID)
		} else {
			// flood semantics: retain, but never at this peer again
			b.visit(sess.receiver)
		}
	case RouterSprayAndWait:
		if sess.receiver == b.Dst {
			sender.store.remove(b.ID)
		} else {
			sendTokens := (b.Tokens + 1) / 2
			transferred.Tokens = sendTokens
			b.Tokens -= sendTokens
			b.visit(sess.receiver)
		}
	default:
		sender.store.remove(b.ID)
	}
	sender.stats.Transmitted++

	ctx.Log.WithFields(logrus.Fields{
		"session": sess.id, "bundle": b.ID,
		"sender": sess.sender, "receiver": sess.receiver,
	}).Debug("session delivered")

	ctx.receiveBundle(sess.receiver, transferred)

	// the contact may have more to carry, in either direction
	ctx.resumeContact(sess.contact, sess.sender, sess.receiver)
	return nil
}

// resumeContact re-attempts session opens in both directions of a contact
// after a session on it closed, provided the window is still open
func (ctx *SimContext) resumeContact(c *Contact, u, v NodeID) {
	now := ctx.now()
	if !ctx.Topo.live[c.Index] || now < c.Start || now > c.End {
		return
	}
	ctx.trySend(c, u, v)
	ctx.trySend(c, v, u)
}

// failSession closes a session as CLOSED_FAILED.  The bundle stays in
// custody at the sender for alternative routing.
func (ctx *SimContext) failSession(sess *Session, reason string) {
	if sess.closed() {
		return
	}
	sess.gen++
	sess.state = SessionClosedFailed
	delete(ctx.Nodes[sess.sender].outbound, sess.receiver)
	ctx.Metrics.SessionsFailed++
	ctx.Log.WithFields(logrus.Fields{
		"session": sess.id, "bundle": sess.bundle.ID,
		"sender": sess.sender, "receiver": sess.receiver, "reason": reason,
	}).Debug("session failed")
}

// suspendSession shelves a session whose contact closed underneath it.
// The bundle stays at the sender and competes for the next contact between
// the endpoints; segmentation starts over there.
func (ctx *SimContext) suspendSession(sess *Session) {
	if sess.closed() {
		return
	}
	sess.gen++
	sess.state = SessionSuspended
	delete(ctx.Nodes[sess.sender].outbound, sess.receiver)
	ctx.Metrics.SessionsSuspended++
	ctx.Log.WithFields(logrus.Fields{
		"session": sess.id, "bundle": sess.bundle.ID,
		"sender": sess.sender, "receiver": sess.receiver,
	}).Debug("session suspended")
}

// closeSessionAtContactEnd decides the fate of a session whose contact
// just ended: suspended when another contact between the endpoints is
// scheduled before the bundle expires, failed otherwise.
func (ctx *SimContext) closeSessionAtContactEnd(sess *Session) {
	now := ctx.now()
	nxt := ctx.Plan.NextContact(sess.sender, sess.receiver, now)
	if nxt != nil && nxt.Start < sess.bundle.Deadline {
		ctx.suspendSession(sess)
		return
	}
	ctx.failSession(sess, "contact ended, no feasible successor")
}
