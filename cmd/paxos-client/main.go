// Command paxos-client submits a single payload to a cluster node and
// prints the resulting replicated state machine state once the value has
// been applied.
package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/paxoslabs/multipaxos/internal/config"
	"github.com/paxoslabs/multipaxos/internal/paxos"
)

var (
	port       = flag.Int("port", 5000, "default port for bare hostnames in the config file")
	serverIdx  = flag.Int("server", 0, "0-based index into the config file's peer list to send the request to")
	reqTimeout = flag.Duration("timeout", 10*time.Second, "how long to wait for the value to be applied")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: paxos-client [flags] <config> <payload>")
		os.Exit(1)
	}

	payload, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid payload %q: %v\n", args[1], err)
		os.Exit(1)
	}

	if err := run(args[0], payload); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string, payload int64) error {
	f, err := os.Open(cfgPath)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := config.Load(f, *port)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *serverIdx < 0 || *serverIdx >= len(cfg.Nodes) {
		return fmt.Errorf("--server %d out of range for %d configured peers", *serverIdx, len(cfg.Nodes))
	}
	peer := cfg.Nodes[*serverIdx]

	cr := paxos.ClientRequest{
		ClientID:  newClientID(),
		CommandID: 1,
		Payload:   payload,
	}

	ctx, cancel := context.WithTimeout(context.Background(), *reqTimeout)
	defer cancel()

	reply, err := submit(ctx, peer, cr)
	if err != nil {
		return fmt.Errorf("submit to %s: %w", peer, err)
	}

	fmt.Println(reply.State)
	return nil
}

func submit(ctx context.Context, peer string, cr paxos.ClientRequest) (paxos.ClientReply, error) {
	body, err := json.Marshal(cr)
	if err != nil {
		return paxos.ClientReply{}, err
	}

	url := fmt.Sprintf("http://%s%s", peer, paxos.PathClientRequest)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return paxos.ClientReply{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return paxos.ClientReply{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return paxos.ClientReply{}, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var reply paxos.ClientReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return paxos.ClientReply{}, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}

// newClientID derives a client identity from a fresh UUID, so repeated
// invocations of this command don't collide on (client_id, command_id).
func newClientID() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint64(id[:8]))
}
