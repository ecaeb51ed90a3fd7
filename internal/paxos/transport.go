package paxos

// Broadcaster sends a message to every peer in the cluster, the sending
// node itself included: a node's Proposer reaches its own Acceptor (and
// vice versa) only through Broadcast, which a single-node cluster depends
// on entirely. Broadcast must not block the caller
// on a full network round trip; implementations dispatch sends to a
// worker pool and return immediately. Send failures are the
// implementation's concern to log; this package treats them as silent
// message loss per the no-retry-in-engine design.
type Broadcaster interface {
	Broadcast(path string, msg interface{})
}
