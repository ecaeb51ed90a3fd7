package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsBarePortsAndSkipsBlankLines(t *testing.T) {
	cfg, err := Load(strings.NewReader("node-a\nnode-b:6000\n\nnode-c\n"), 5000)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a:5000", "node-b:6000", "node-c:5000"}, cfg.Nodes)
}

func TestLoadEmptyFileYieldsNoNodes(t *testing.T) {
	cfg, err := Load(strings.NewReader(""), 5000)
	require.NoError(t, err)
	assert.Empty(t, cfg.Nodes)
}

type fakeFetcher struct {
	responses map[string][]string // peer -> successive responses, last one repeats
	calls     map[string]int
}

func (f *fakeFetcher) GetServerID(ctx context.Context, peer string) (string, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	seq, ok := f.responses[peer]
	if !ok || len(seq) == 0 {
		return "", errors.New("connection refused")
	}
	idx := f.calls[peer]
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	f.calls[peer]++
	return seq[idx], nil
}

func TestDiscoverSelfFindsMatchingPeer(t *testing.T) {
	cfg := &Config{Nodes: []string{"node-a:5000", "node-b:5000", "node-c:5000"}}
	fetcher := &fakeFetcher{responses: map[string][]string{
		"node-a:5000": {"uuid-a"},
		"node-b:5000": {"uuid-b"},
		"node-c:5000": {"uuid-c"},
	}}

	got, err := DiscoverSelf(context.Background(), fetcher, cfg, "uuid-b", 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "node-b:5000", got)
}

func TestDiscoverSelfRetriesThroughTransientFailures(t *testing.T) {
	cfg := &Config{Nodes: []string{"node-a:5000"}}
	fetcher := &fakeFetcher{responses: map[string][]string{}}
	// First several calls fail (peer not listening yet); it should start
	// answering once it's "up".
	go func() {
		time.Sleep(30 * time.Millisecond)
		fetcher.responses["node-a:5000"] = []string{"uuid-a"}
	}()

	got, err := DiscoverSelf(context.Background(), fetcher, cfg, "uuid-a", 200*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "node-a:5000", got)
}

func TestDiscoverSelfFailsAfterWindowElapses(t *testing.T) {
	cfg := &Config{Nodes: []string{"node-a:5000"}}
	fetcher := &fakeFetcher{responses: map[string][]string{
		"node-a:5000": {"uuid-a"},
	}}

	_, err := DiscoverSelf(context.Background(), fetcher, cfg, "never-matches", 10*time.Millisecond, zerolog.Nop())
	require.Error(t, err)
}
