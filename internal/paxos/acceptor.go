package paxos

import (
	"context"

	"github.com/rs/zerolog"
)

// Wire paths of the five role endpoints. The Acceptor broadcasts to
// PathPromise and PathAccepted, and it broadcasts to every peer
// rather than replying only to the Prepare/Accept sender: any Proposer in
// the cluster may be mid-collection for a ballot it issued, and scoping
// the broadcast to "all" rather than "originator" is an intentional
// simplification accepted at the cost of O(N^2) fan-out.
const (
	PathClientRequest = "/proposer/client-request"
	PathPrepare       = "/acceptor/prepare"
	PathPromise       = "/proposer/promise"
	PathAccept        = "/acceptor/accept"
	PathAccepted      = "/proposer/accepted"
)

type acceptorTaskKind int

const (
	taskPrepare acceptorTaskKind = iota
	taskAccept
)

type acceptorTask struct {
	kind    acceptorTaskKind
	prepare Prepare
	accept  Accept
	reply   chan OK
}

// Acceptor is the per-node vote store. It answers Prepare with Promise
// and Accept with Accepted, enforcing ballot monotonicity. All mutation
// happens on a single goroutine (Run); HTTP handlers enqueue work and
// block on the per-task reply channel, mirroring the teacher's
// single-consumer inbox with a synchronously-awaited one-shot reply.
type Acceptor struct {
	id          string
	broadcaster Broadcaster
	log         zerolog.Logger

	highestBallot Ballot
	voted         VotedSet

	inbox chan acceptorTask
}

// NewAcceptor constructs an Acceptor for node id, which will broadcast
// Promise/Accepted messages through b.
func NewAcceptor(id string, b Broadcaster, log zerolog.Logger) *Acceptor {
	return &Acceptor{
		id:            id,
		broadcaster:   b,
		log:           log.With().Str("role", "acceptor").Str("node", id).Logger(),
		highestBallot: MinBallot(),
		voted:         VotedSet{},
		inbox:         make(chan acceptorTask, 64),
	}
}

// Run drives the Acceptor's event loop until ctx is canceled. The
// Acceptor has no periodic wake: it is purely reactive.
func (a *Acceptor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-a.inbox:
			switch task.kind {
			case taskPrepare:
				task.reply <- OK{}
				a.handlePrepareAndBroadcast(task.prepare)
			case taskAccept:
				task.reply <- OK{}
				a.handleAcceptAndBroadcast(task.accept)
			}
		}
	}
}

// SubmitPrepare enqueues a Prepare and blocks for the (meaningless) OK
// acknowledgement, matching the spec's "every inbound call produces an
// OK reply, the real response is asynchronous via broadcast" contract.
func (a *Acceptor) SubmitPrepare(p Prepare) OK {
	reply := make(chan OK, 1)
	a.inbox <- acceptorTask{kind: taskPrepare, prepare: p, reply: reply}
	return <-reply
}

// SubmitAccept enqueues an Accept and blocks for the OK acknowledgement.
func (a *Acceptor) SubmitAccept(ac Accept) OK {
	reply := make(chan OK, 1)
	a.inbox <- acceptorTask{kind: taskAccept, accept: ac, reply: reply}
	return <-reply
}

func (a *Acceptor) handlePrepareAndBroadcast(p Prepare) {
	promise, ok := a.HandlePrepare(p)
	if ok {
		a.broadcaster.Broadcast(PathPromise, promise)
	}
}

func (a *Acceptor) handleAcceptAndBroadcast(ac Accept) {
	accepted, ok := a.HandleAccept(ac)
	if ok {
		a.broadcaster.Broadcast(PathAccepted, accepted)
	}
}

// HandlePrepare is Phase 1b. It is a pure state transition exposed
// separately from Run so deterministic simulations (see
// paxos_test.go) can drive the Acceptor without goroutines or channels.
// The returned bool reports whether a Promise should be sent; a false
// return means the Prepare was stale and silently dropped.
func (a *Acceptor) HandlePrepare(p Prepare) (Promise, bool) {
	if p.Ballot.LessOrEqual(a.highestBallot) {
		a.log.Debug().Stringer("ballot", p.Ballot).Stringer("highest", a.highestBallot).
			Msg("ignoring stale prepare")
		return Promise{}, false
	}

	a.highestBallot = p.Ballot
	promise := Promise{
		FromURI: a.id,
		Ballot:  a.highestBallot,
		Voted:   a.voted.clone(),
	}
	return promise, true
}

// HandleAccept is Phase 2b. Like HandlePrepare, it is a pure state
// transition; the bool reports whether Accepted should be sent.
func (a *Acceptor) HandleAccept(ac Accept) (Accepted, bool) {
	if ac.Ballot.Less(a.highestBallot) {
		a.log.Debug().Stringer("ballot", ac.Ballot).Stringer("highest", a.highestBallot).
			Msg("ignoring stale accept")
		return Accepted{}, false
	}

	a.highestBallot = ac.Ballot
	for _, sv := range ac.Voted {
		a.voted[sv.Slot] = PValue{Ballot: ac.Ballot, Slot: sv.Slot, Value: sv.Value}
	}

	accepted := Accepted{
		FromURI: a.id,
		Ballot:  ac.Ballot,
		Voted:   ac.Voted,
	}
	return accepted, true
}

// HighestBallot returns the highest ballot this acceptor has seen. For
// tests and diagnostics only.
func (a *Acceptor) HighestBallot() Ballot {
	return a.highestBallot
}

// VotedSnapshot returns a copy of the acceptor's vote record. For tests
// and diagnostics only.
func (a *Acceptor) VotedSnapshot() VotedSet {
	return a.voted.clone()
}
