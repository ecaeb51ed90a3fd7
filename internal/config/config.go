// Package config parses the peer-list configuration file and resolves a
// node's own entry in it via self-discovery.
package config

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the cluster's peer list as read from the config file, with
// bare hostnames already defaulted to defaultPort.
type Config struct {
	Nodes []string
}

// Load parses a peer-list file: one host[:port] per line, blank lines
// ignored, bare hosts defaulted to defaultPort.
func Load(r io.Reader, defaultPort int) (*Config, error) {
	var nodes []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.Contains(line, ":") {
			nodes = append(nodes, line)
		} else {
			nodes = append(nodes, fmt.Sprintf("%s:%d", line, defaultPort))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return &Config{Nodes: nodes}, nil
}

// ServerIDFetcher performs the blocking GET /server_id round trip used
// during self-discovery. *transport.Sender satisfies this.
type ServerIDFetcher interface {
	GetServerID(ctx context.Context, peer string) (string, error)
}

// DiscoverSelf identifies which entry in cfg.Nodes is this process, by
// GETting /server_id on every peer until one replies with selfID. It
// retries each peer on failure (the peer's HTTP listener may not be up
// yet) until attemptWindow times the number of peers has elapsed, matching
// the spec's "bounded attempt window (~20s x N peers)" fatal-failure budget.
func DiscoverSelf(ctx context.Context, fetcher ServerIDFetcher, cfg *Config, selfID string, attemptWindow time.Duration, log zerolog.Logger) (string, error) {
	deadline := time.Now().Add(attemptWindow * time.Duration(len(cfg.Nodes)))
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		for _, peer := range cfg.Nodes {
			id, err := fetcher.GetServerID(ctx, peer)
			if err != nil {
				log.Debug().Err(err).Str("peer", peer).Msg("self-discovery probe failed, retrying")
				continue
			}
			if id == selfID {
				return peer, nil
			}
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("self-discovery: no peer in config matched id %q within %s", selfID, attemptWindow*time.Duration(len(cfg.Nodes)))
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
