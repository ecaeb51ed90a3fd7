// Package node wires the Acceptor and Proposer/Learner role agents to an
// HTTP transport and exposes the wire-protocol handlers described in
// spec.md section 6.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/paxoslabs/multipaxos/internal/config"
	"github.com/paxoslabs/multipaxos/internal/paxos"
	"github.com/paxoslabs/multipaxos/internal/transport"
)

// Node owns one Acceptor and one Proposer/Learner, sharing the same
// outbound Sender. It exposes the five cluster routes plus /server_id.
//
// A Node is usable the moment it's constructed with New: /server_id
// already answers with selfUUID. The remaining routes stay unready until
// Bootstrap completes, because self-discovery itself depends on every
// peer's /server_id being reachable -- a node can't wait for its own
// Acceptor/Proposer to exist before it starts serving, or no node in the
// cluster could ever discover itself.
type Node struct {
	selfUUID string

	mu       sync.RWMutex
	id       string
	acceptor *paxos.Acceptor
	proposer *paxos.Proposer
	sender   *transport.Sender
	log      zerolog.Logger
}

// Options configures Bootstrap.
type Options struct {
	Workers         int
	SendTimeout     time.Duration
	DiscoveryWindow time.Duration
}

// DefaultOptions mirrors the CLI defaults from spec.md section 6.
func DefaultOptions() Options {
	return Options{
		Workers:         transport.DefaultWorkers,
		SendTimeout:     5 * time.Second,
		DiscoveryWindow: 20 * time.Second,
	}
}

// New constructs a Node that can immediately serve /server_id with
// selfUUID. Call Bootstrap to resolve its cluster identity and bring the
// rest of the routes up before calling Run.
func New(selfUUID string, log zerolog.Logger) *Node {
	return &Node{selfUUID: selfUUID, log: log}
}

// Bootstrap resolves this process's own entry in cfg via self-discovery
// (blocking, per spec.md section 6/7) and constructs the Acceptor and
// Proposer. The caller must already be serving Handler() -- including
// this call -- so that peers probing this node's /server_id during their
// own self-discovery get an answer.
func (n *Node) Bootstrap(ctx context.Context, cfg *config.Config, opts Options) error {
	sender := transport.NewSender(cfg.Nodes, opts.SendTimeout, opts.Workers, n.log)

	selfURI, err := config.DiscoverSelf(ctx, sender, cfg, n.selfUUID, opts.DiscoveryWindow, n.log)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	log := n.log.With().Str("node", selfURI).Logger()

	n.mu.Lock()
	n.id = selfURI
	n.acceptor = paxos.NewAcceptor(selfURI, sender, log)
	n.proposer = paxos.NewProposer(selfURI, len(cfg.Nodes), sender, log)
	n.sender = sender
	n.log = log
	n.mu.Unlock()
	return nil
}

// ID returns this node's resolved host:port identity. Empty until
// Bootstrap completes.
func (n *Node) ID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.id
}

// ready returns the Acceptor/Proposer pair once Bootstrap has completed,
// or ok=false while the node is still self-discovering.
func (n *Node) ready() (acceptor *paxos.Acceptor, proposer *paxos.Proposer, ok bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.acceptor, n.proposer, n.acceptor != nil
}

// Run starts the Acceptor and Proposer event loops. It returns
// immediately; both loops run until ctx is canceled. Must be called
// after Bootstrap.
func (n *Node) Run(ctx context.Context) {
	acceptor, proposer, ok := n.ready()
	if !ok {
		panic("node: Run called before Bootstrap completed")
	}
	go acceptor.Run(ctx)
	go proposer.Run(ctx)
}

// Handler builds the http.Handler exposing spec.md section 6's routes.
// Safe to serve before Bootstrap completes: /server_id answers
// immediately, the remaining routes reply 503 until Bootstrap finishes.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(paxos.PathClientRequest, n.handleClientRequest)
	mux.HandleFunc(paxos.PathPrepare, n.handlePrepare)
	mux.HandleFunc(paxos.PathPromise, n.handlePromise)
	mux.HandleFunc(paxos.PathAccept, n.handleAccept)
	mux.HandleFunc(paxos.PathAccepted, n.handleAccepted)
	mux.HandleFunc("/server_id", n.handleServerID)
	return mux
}

func (n *Node) handleServerID(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, n.selfUUID)
}

func (n *Node) handleClientRequest(w http.ResponseWriter, r *http.Request) {
	_, proposer, ok := n.ready()
	if !ok {
		notReady(w)
		return
	}

	var cr paxos.ClientRequest
	if !decodeJSON(w, r, &cr) {
		return
	}

	replyCh := proposer.SubmitClientRequest(cr)
	select {
	case reply := <-replyCh:
		writeJSON(w, http.StatusOK, reply)
	case <-r.Context().Done():
		n.log.Warn().Str("client_request", fmt.Sprint(cr)).Msg("client disconnected before value applied")
	}
}

func (n *Node) handlePrepare(w http.ResponseWriter, r *http.Request) {
	acceptor, _, ok := n.ready()
	if !ok {
		notReady(w)
		return
	}

	var p paxos.Prepare
	if !decodeJSON(w, r, &p) {
		return
	}
	writeJSON(w, http.StatusOK, acceptor.SubmitPrepare(p))
}

func (n *Node) handlePromise(w http.ResponseWriter, r *http.Request) {
	_, proposer, ok := n.ready()
	if !ok {
		notReady(w)
		return
	}

	var p paxos.Promise
	if !decodeJSON(w, r, &p) {
		return
	}
	writeJSON(w, http.StatusOK, proposer.SubmitPromise(p))
}

func (n *Node) handleAccept(w http.ResponseWriter, r *http.Request) {
	acceptor, _, ok := n.ready()
	if !ok {
		notReady(w)
		return
	}

	var a paxos.Accept
	if !decodeJSON(w, r, &a) {
		return
	}
	writeJSON(w, http.StatusOK, acceptor.SubmitAccept(a))
}

func (n *Node) handleAccepted(w http.ResponseWriter, r *http.Request) {
	_, proposer, ok := n.ready()
	if !ok {
		notReady(w)
		return
	}

	var a paxos.Accepted
	if !decodeJSON(w, r, &a) {
		return
	}
	writeJSON(w, http.StatusOK, proposer.SubmitAccepted(a))
}

func notReady(w http.ResponseWriter) {
	http.Error(w, "node still bootstrapping", http.StatusServiceUnavailable)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
