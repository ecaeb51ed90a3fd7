package paxos

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type broadcastFunc func(path string, msg interface{})

func (f broadcastFunc) Broadcast(path string, msg interface{}) { f(path, msg) }

// testCluster wires real, goroutine-driven Acceptor/Proposer pairs
// together the way a live node would, except messages are dispatched by
// direct Submit* calls instead of HTTP.
type testCluster struct {
	acceptors map[string]*Acceptor
	proposers map[string]*Proposer
	dropTo    map[string]bool
}

func newTestCluster(ids []string) (*testCluster, context.CancelFunc) {
	c := &testCluster{
		acceptors: make(map[string]*Acceptor, len(ids)),
		proposers: make(map[string]*Proposer, len(ids)),
		dropTo:    make(map[string]bool),
	}
	for _, id := range ids {
		c.acceptors[id] = NewAcceptor(id, broadcastFunc(c.broadcast), zerolog.Nop())
		c.proposers[id] = NewProposer(id, len(ids), broadcastFunc(c.broadcast), zerolog.Nop())
	}

	ctx, cancel := context.WithCancel(context.Background())
	for _, id := range ids {
		go c.acceptors[id].Run(ctx)
		go c.proposers[id].Run(ctx)
	}
	return c, cancel
}

func (c *testCluster) broadcast(path string, msg interface{}) {
	for id := range c.acceptors {
		if c.dropTo[id] {
			continue
		}
		switch path {
		case PathPrepare:
			go c.acceptors[id].SubmitPrepare(msg.(Prepare))
		case PathAccept:
			go c.acceptors[id].SubmitAccept(msg.(Accept))
		case PathPromise:
			go c.proposers[id].SubmitPromise(msg.(Promise))
		case PathAccepted:
			go c.proposers[id].SubmitAccepted(msg.(Accepted))
		}
	}
}

func waitReply(t *testing.T, ch <-chan ClientReply, timeout time.Duration) ClientReply {
	t.Helper()
	select {
	case reply := <-ch:
		return reply
	case <-time.After(timeout):
		t.Fatal("timed out waiting for client reply")
		return ClientReply{}
	}
}

func TestProposerSingleNodeSingleValue(t *testing.T) {
	cluster, cancel := newTestCluster([]string{"n1"})
	defer cancel()

	ch := cluster.proposers["n1"].SubmitClientRequest(ClientRequest{ClientID: 1, CommandID: 1, Payload: 42})
	reply := waitReply(t, ch, time.Second)
	assert.Equal(t, []int64{42}, reply.State)
}

func TestProposerThreeNodeSequentialRequests(t *testing.T) {
	cluster, cancel := newTestCluster([]string{"n1", "n2", "n3"})
	defer cancel()

	ch1 := cluster.proposers["n1"].SubmitClientRequest(ClientRequest{ClientID: 1, CommandID: 1, Payload: 10})
	reply1 := waitReply(t, ch1, time.Second)
	assert.Equal(t, []int64{10}, reply1.State)

	ch2 := cluster.proposers["n1"].SubmitClientRequest(ClientRequest{ClientID: 1, CommandID: 2, Payload: 20})
	reply2 := waitReply(t, ch2, time.Second)
	assert.Equal(t, []int64{10, 20}, reply2.State)

	for _, id := range []string{"n1", "n2", "n3"} {
		require.Eventually(t, func() bool {
			return len(cluster.proposers[id].State()) == 2
		}, 2*time.Second, 10*time.Millisecond, "node %s should converge on both slots", id)
		assert.Equal(t, []int64{10, 20}, cluster.proposers[id].State())
	}
}

func TestProposerContentionResolvesToOneWinnerThenRetries(t *testing.T) {
	cluster, cancel := newTestCluster([]string{"n1", "n2", "n3"})
	defer cancel()

	ch1 := cluster.proposers["n1"].SubmitClientRequest(ClientRequest{ClientID: 1, CommandID: 1, Payload: 1})
	ch2 := cluster.proposers["n2"].SubmitClientRequest(ClientRequest{ClientID: 2, CommandID: 1, Payload: 2})

	reply1 := waitReply(t, ch1, 3*time.Second)
	reply2 := waitReply(t, ch2, 3*time.Second)

	assert.Contains(t, reply1.State, int64(1))
	assert.Contains(t, reply2.State, int64(2))

	for _, id := range []string{"n1", "n2", "n3"} {
		require.Eventually(t, func() bool {
			return len(cluster.proposers[id].State()) == 2
		}, 3*time.Second, 10*time.Millisecond, "node %s should converge on both values", id)
		assert.ElementsMatch(t, []int64{1, 2}, cluster.proposers[id].State())
	}
}

// TestHandleAcceptedIsIdempotentAfterQuorum exercises the "Idempotent
// quorum" invariant: once a ballot's accepteds cross majority the
// accumulator is evicted and the decision set is fixed, so a duplicate
// or late Accepted for that same ballot must not alter it.
func TestHandleAcceptedIsIdempotentAfterQuorum(t *testing.T) {
	p := NewProposer("n1", 3, broadcastFunc(func(string, interface{}) {}), zerolog.Nop())

	b := Ballot{TS: 1, ServerID: "n1"}
	sv := []SlotValue{{Slot: 1, Value: Value{ClientID: 1, CommandID: 1, Payload: 42}}}

	p.handleAccepted(Accepted{FromURI: "n1", Ballot: b, Voted: sv})
	p.handleAccepted(Accepted{FromURI: "n2", Ballot: b, Voted: sv})
	require.Len(t, p.decisions, 1)
	before := p.decisions[1].value

	// The accumulator for b was evicted on the majority crossed above;
	// this arrival starts a fresh tally of 1, short of quorum on its
	// own, so handleAccepted must return without touching decisions.
	p.handleAccepted(Accepted{FromURI: "n3", Ballot: b, Voted: sv})
	require.Len(t, p.decisions, 1)
	assert.Equal(t, before, p.decisions[1].value)
}

// TestHandlePromiseIsIdempotentAfterQuorum mirrors the above for the
// Promise/Accept side: a duplicate Promise after quorum must not mint a
// second round of slot proposals.
func TestHandlePromiseIsIdempotentAfterQuorum(t *testing.T) {
	var broadcasts []string
	p := NewProposer("n1", 3, broadcastFunc(func(path string, _ interface{}) {
		broadcasts = append(broadcasts, path)
	}), zerolog.Nop())

	p.handleClientRequest(ClientRequest{ClientID: 1, CommandID: 1, Payload: 7}, make(chan ClientReply, 1))
	b := p.ballot

	p.handlePromise(Promise{FromURI: "n1", Ballot: b, Voted: VotedSet{}})
	p.handlePromise(Promise{FromURI: "n2", Ballot: b, Voted: VotedSet{}})
	acceptCount := 0
	for _, path := range broadcasts {
		if path == PathAccept {
			acceptCount++
		}
	}
	require.Equal(t, 1, acceptCount)
	proposalsAfterQuorum := len(p.proposals)

	// promises[b] was evicted above; this duplicate starts a fresh tally
	// of 1, short of quorum, so no second Accept is broadcast and
	// p.proposals is untouched.
	p.handlePromise(Promise{FromURI: "n3", Ballot: b, Voted: VotedSet{}})
	acceptCount = 0
	for _, path := range broadcasts {
		if path == PathAccept {
			acceptCount++
		}
	}
	assert.Equal(t, 1, acceptCount)
	assert.Equal(t, proposalsAfterQuorum, len(p.proposals))
}

// TestValidityDecidedValuesCameFromSubmittedRequests exercises the
// "Validity" invariant: every decided value was, at some earlier point,
// submitted as a ClientRequest (and so passed through the unserviced
// deque) -- nothing is ever decided that no client asked for.
func TestValidityDecidedValuesCameFromSubmittedRequests(t *testing.T) {
	cluster, cancel := newTestCluster([]string{"n1", "n2", "n3"})
	defer cancel()

	submitted := map[Value]bool{}
	var chans []<-chan ClientReply
	for i, payload := range []int64{10, 20, 30} {
		cr := ClientRequest{ClientID: 1, CommandID: int64(i + 1), Payload: payload}
		submitted[cr.Value()] = true
		chans = append(chans, cluster.proposers["n1"].SubmitClientRequest(cr))
	}
	for _, ch := range chans {
		waitReply(t, ch, 3*time.Second)
	}

	for _, id := range []string{"n1", "n2", "n3"} {
		require.Eventually(t, func() bool {
			return len(cluster.proposers[id].State()) == 3
		}, 3*time.Second, 10*time.Millisecond, "node %s should converge on all three slots", id)

		for slot := Slot(1); slot <= 3; slot++ {
			v, ok := cluster.proposers[id].Decided(slot)
			require.True(t, ok, "slot %d should be decided on %s", slot, id)
			assert.True(t, submitted[v], "decided value %v at slot %d on %s was never submitted", v, slot, id)
		}
	}
}

func TestProposerToleratesMinorityNodeDown(t *testing.T) {
	cluster, cancel := newTestCluster([]string{"n1", "n2", "n3"})
	defer cancel()
	cluster.dropTo["n3"] = true

	ch := cluster.proposers["n1"].SubmitClientRequest(ClientRequest{ClientID: 1, CommandID: 1, Payload: 7})
	reply := waitReply(t, ch, time.Second)
	assert.Equal(t, []int64{7}, reply.State)
	assert.Empty(t, cluster.proposers["n3"].State(), "partitioned node never hears the decision")
}
