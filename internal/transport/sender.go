// Package transport implements the sending side of the HTTP/JSON wire
// protocol between Paxos nodes: a bounded worker pool that broadcasts
// messages without blocking the caller, and the GET /server_id probe used
// during self-discovery. The inbound handlers live in package node.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultWorkers is the number of worker goroutines a Sender starts when
// none is given. Broadcast queues sends for the workers and spills over
// into ad hoc goroutines once that queue is full (never blocking the
// caller).
const DefaultWorkers = 8

type sendJob struct {
	peer string
	path string
	msg  interface{}
}

// Sender fans a message out to every configured peer over HTTP POST.
// It implements paxos.Broadcaster. Sends are dispatched to a small
// worker pool, mirroring the teacher's own worker-pool dispatch pattern
// (runner.go's queue of *TestCase consumed by a fixed number of
// goroutines), generalized here from running test cases to posting wire
// messages.
type Sender struct {
	peers  []string
	client *http.Client
	log    zerolog.Logger
	jobs   chan sendJob
	scheme string
}

// NewSender builds a Sender that POSTs to peers (each "host:port") with
// the given per-request timeout, backed by workers goroutines.
func NewSender(peers []string, timeout time.Duration, workers int, log zerolog.Logger) *Sender {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	s := &Sender{
		peers:  peers,
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "sender").Logger(),
		jobs:   make(chan sendJob, 256),
		scheme: "http",
	}
	for i := 0; i < workers; i++ {
		go s.runWorker()
	}
	return s
}

func (s *Sender) runWorker() {
	for job := range s.jobs {
		s.sendOne(job)
	}
}

// Broadcast sends msg to path on every peer. It never blocks: if the
// worker pool's queue is full, the send is dispatched on its own
// goroutine instead of waiting for a slot.
func (s *Sender) Broadcast(path string, msg interface{}) {
	for _, peer := range s.peers {
		job := sendJob{peer: peer, path: path, msg: msg}
		select {
		case s.jobs <- job:
		default:
			go s.sendOne(job)
		}
	}
}

func (s *Sender) sendOne(job sendJob) {
	body, err := json.Marshal(job.msg)
	if err != nil {
		s.log.Error().Err(err).Str("peer", job.peer).Str("path", job.path).Msg("marshal failed")
		return
	}

	url := fmt.Sprintf("%s://%s%s", s.scheme, job.peer, job.path)
	resp, err := s.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		s.log.Warn().Err(err).Str("peer", job.peer).Str("path", job.path).Msg("send failed, treating as message loss")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		s.log.Warn().Int("status", resp.StatusCode).Str("peer", job.peer).Str("path", job.path).
			Msg("peer returned non-2xx, treating as message loss")
	}
}

// GetServerID performs the blocking GET /server_id request used during
// self-discovery. It returns the body decoded as a plain string.
func (s *Sender) GetServerID(ctx context.Context, peer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s://%s/server_id", s.scheme, peer), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var id string
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return "", fmt.Errorf("decode /server_id response from %s: %w", peer, err)
	}
	return id, nil
}
