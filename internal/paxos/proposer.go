package paxos

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// wakeInterval bounds how long the Proposer's inbox dequeue can block
// before it re-checks for unserviced requests and retransmits Prepare.
const wakeInterval = time.Second

type proposerTaskKind int

const (
	taskClientRequest proposerTaskKind = iota
	taskPromise
	taskAccepted
)

type proposerTask struct {
	kind proposerTaskKind

	clientRequest ClientRequest
	promise       Promise
	accepted      Accepted

	clientReplyCh chan ClientReply
	ackCh         chan OK
}

type decision struct {
	value   Value
	applied bool
}

// Proposer accepts client requests and drives Phase 1 (Prepare/Promise)
// and Phase 2 (Accept/Accepted), tallying its own Accepted messages to
// learn decisions, applying them to the local RSM in slot order, and
// replying to waiting clients. It also fulfills the Learner role: there
// is no separate learner type, matching the spec's "Proposer/Learner"
// component.
type Proposer struct {
	id          string
	n           int
	broadcaster Broadcaster
	log         zerolog.Logger

	ballotSet bool
	ballot    Ballot
	maxTS     float64

	unserviced []ClientRequest
	promises   map[Ballot][]Promise
	accepteds  map[Ballot][]Accepted
	decisions  map[Slot]*decision
	proposals  map[Slot]Value
	waiting    map[Value]chan ClientReply

	nextApply Slot
	state     []int64

	inbox chan proposerTask
}

// NewProposer constructs a Proposer for node id in an n-node cluster.
func NewProposer(id string, n int, b Broadcaster, log zerolog.Logger) *Proposer {
	return &Proposer{
		id:          id,
		n:           n,
		broadcaster: b,
		log:         log.With().Str("role", "proposer").Str("node", id).Logger(),
		promises:    make(map[Ballot][]Promise),
		accepteds:   make(map[Ballot][]Accepted),
		decisions:   make(map[Slot]*decision),
		proposals:   make(map[Slot]Value),
		waiting:     make(map[Value]chan ClientReply),
		nextApply:   1,
		inbox:       make(chan proposerTask, 64),
	}
}

// Run drives the Proposer's event loop until ctx is canceled. It never
// blocks on I/O: outgoing broadcasts go through the Broadcaster, which is
// expected to dispatch to a worker pool and return immediately. The only
// suspension points are the inbox dequeue (bounded by wakeInterval, which
// triggers Prepare retransmission) and message arrival.
func (p *Proposer) Run(ctx context.Context) {
	timer := time.NewTimer(wakeInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.inbox:
			if !timer.Stop() {
				<-timer.C
			}
			p.dispatch(task)
			timer.Reset(wakeInterval)
		case <-timer.C:
			if len(p.unserviced) > 0 {
				p.log.Info().Int("unserviced", len(p.unserviced)).Msg("wake: retransmitting prepare")
				p.sendPrepare()
			}
			timer.Reset(wakeInterval)
		}
	}
}

func (p *Proposer) dispatch(task proposerTask) {
	switch task.kind {
	case taskClientRequest:
		p.handleClientRequest(task.clientRequest, task.clientReplyCh)
	case taskPromise:
		task.ackCh <- OK{}
		p.handlePromise(task.promise)
	case taskAccepted:
		task.ackCh <- OK{}
		p.handleAccepted(task.accepted)
	}
}

// SubmitClientRequest enqueues a client's value and returns a channel
// that receives the ClientReply once the value has been applied to the
// RSM -- possibly by a decision this Proposer only learned of, not one it
// personally drove to completion. The caller is responsible for any
// transport-level timeout; there is no engine-internal cancellation of an
// enqueued request.
func (p *Proposer) SubmitClientRequest(cr ClientRequest) <-chan ClientReply {
	reply := make(chan ClientReply, 1)
	p.inbox <- proposerTask{kind: taskClientRequest, clientRequest: cr, clientReplyCh: reply}
	return reply
}

// SubmitPromise enqueues a Promise and blocks for the intra-cluster OK
// acknowledgement.
func (p *Proposer) SubmitPromise(pr Promise) OK {
	ack := make(chan OK, 1)
	p.inbox <- proposerTask{kind: taskPromise, promise: pr, ackCh: ack}
	return <-ack
}

// SubmitAccepted enqueues an Accepted and blocks for the OK
// acknowledgement.
func (p *Proposer) SubmitAccepted(a Accepted) OK {
	ack := make(chan OK, 1)
	p.inbox <- proposerTask{kind: taskAccepted, accepted: a, ackCh: ack}
	return <-ack
}

func (p *Proposer) recordTS(ts float64) {
	if ts > p.maxTS {
		p.maxTS = ts
	}
}

// nextBallot mints a ballot whose timestamp is strictly greater than any
// ts we have observed, bumping maxTS so the next mint is strictly greater
// still. This is the source of ballot uniqueness combined with ServerID.
func (p *Proposer) nextBallot() Ballot {
	ts := monotonicSeconds()
	if ts <= p.maxTS {
		ts = nextAfter(p.maxTS)
	}
	p.maxTS = ts
	p.ballot = Ballot{TS: ts, ServerID: p.id}
	p.ballotSet = true
	return p.ballot
}

func (p *Proposer) sendPrepare() {
	prepare := Prepare{FromURI: p.id, Ballot: p.nextBallot()}
	p.log.Info().Stringer("ballot", prepare.Ballot).Msg("broadcasting prepare")
	p.broadcaster.Broadcast(PathPrepare, prepare)
}

// handleClientRequest enqueues cr at the front of unserviced, same as a
// preemption re-enqueue (reenqueueUnserviced): both insert at the front,
// dequeueUnserviced always drains from the back, so whichever of the two
// happens later is serviced later regardless of which path it came
// through. This matches the Python original's appendleft/pop() pair.
func (p *Proposer) handleClientRequest(cr ClientRequest, replyCh chan ClientReply) {
	p.unserviced = append([]ClientRequest{cr}, p.unserviced...)
	p.waiting[cr.Value()] = replyCh
	p.sendPrepare()
}

func (p *Proposer) dequeueUnserviced() (ClientRequest, bool) {
	if len(p.unserviced) == 0 {
		return ClientRequest{}, false
	}
	last := len(p.unserviced) - 1
	cr := p.unserviced[last]
	p.unserviced = p.unserviced[:last]
	return cr, true
}

func (p *Proposer) reenqueueUnserviced(cr ClientRequest) {
	p.unserviced = append([]ClientRequest{cr}, p.unserviced...)
}

// handlePromise tallies Promises for this Proposer's current ballot only.
// Promises for any other ballot (another proposer's, or one of our own
// that has since been superseded) are ignored apart from bumping maxTS,
// so that at most one Accept is ever sent under a given ballot.
func (p *Proposer) handlePromise(promise Promise) {
	p.recordTS(promise.Ballot.TS)
	if !p.ballotSet || promise.Ballot != p.ballot {
		return
	}
	p.promises[promise.Ballot] = append(p.promises[promise.Ballot], promise)

	promises := p.promises[promise.Ballot]
	if len(promises) <= p.n/2 {
		return
	}
	delete(p.promises, promise.Ballot)

	votedSets := make([]VotedSet, len(promises))
	for i, pr := range promises {
		votedSets[i] = pr.Voted
	}
	slotValues := MaxSV(votedSets)

	var maxSlot Slot
	for _, sv := range slotValues {
		if sv.Slot > maxSlot {
			maxSlot = sv.Slot
		}
	}
	newSlot := maxSlot + 1

	for {
		cr, ok := p.dequeueUnserviced()
		if !ok {
			break
		}
		v := cr.Value()
		slotValues = append(slotValues, SlotValue{Slot: newSlot, Value: v})
		p.proposals[newSlot] = v
		p.log.Info().Int("slot", int(newSlot)).Stringer("value", v).Msg("proposing for slot")
		newSlot++
	}

	accept := Accept{FromURI: p.id, Ballot: promise.Ballot, Voted: slotValues}
	p.broadcaster.Broadcast(PathAccept, accept)
}

func (p *Proposer) handleAccepted(accepted Accepted) {
	p.accepteds[accepted.Ballot] = append(p.accepteds[accepted.Ballot], accepted)
	p.recordTS(accepted.Ballot.TS)

	accs := p.accepteds[accepted.Ballot]
	if len(accs) <= p.n/2 {
		return
	}
	delete(p.accepteds, accepted.Ballot)

	for _, sv := range accepted.Voted {
		if _, exists := p.decisions[sv.Slot]; !exists {
			p.decisions[sv.Slot] = &decision{value: sv.Value}
		}
	}

	p.applySweep()
}

// applySweep applies decided slots in strictly ascending order starting
// from the first not-yet-applied slot, stopping at the first slot with no
// decision yet (the "stall on gap" choice recorded in DESIGN.md). For any
// slot where this node had proposed a value that differs from what was
// decided, the proposal was preempted and its original request is
// re-enqueued for a future ballot.
func (p *Proposer) applySweep() {
	for {
		dec, ok := p.decisions[p.nextApply]
		if !ok {
			return
		}

		if proposed, had := p.proposals[p.nextApply]; had {
			delete(p.proposals, p.nextApply)
			if proposed != dec.value {
				p.log.Info().Int("slot", int(p.nextApply)).Msg("proposal preempted, re-enqueuing")
				p.reenqueueUnserviced(ClientRequest{
					ClientID:  proposed.ClientID,
					CommandID: proposed.CommandID,
					Payload:   proposed.Payload,
				})
			}
		}

		if !dec.applied {
			p.apply(dec.value)
			dec.applied = true
		}
		p.nextApply++
	}
}

func (p *Proposer) apply(v Value) {
	p.state = append(p.state, v.Payload)
	if ch, ok := p.waiting[v]; ok {
		delete(p.waiting, v)
		snapshot := make([]int64, len(p.state))
		copy(snapshot, p.state)
		ch <- ClientReply{State: snapshot}
	}
}

// State returns a snapshot of the RSM. For tests and diagnostics.
func (p *Proposer) State() []int64 {
	out := make([]int64, len(p.state))
	copy(out, p.state)
	return out
}

// Decided reports the decided value for slot, if any.
func (p *Proposer) Decided(slot Slot) (Value, bool) {
	dec, ok := p.decisions[slot]
	if !ok {
		return Value{}, false
	}
	return dec.value, true
}

// processStart anchors monotonicSeconds; only deltas from it are ever
// compared, and time.Since uses the runtime's monotonic clock reading so
// wall-clock adjustments (NTP, etc.) can't move it backward.
var processStart = time.Now()

func monotonicSeconds() float64 {
	return time.Since(processStart).Seconds()
}
