// Command paxos-server runs a single Multi-Paxos cluster node: it reads
// the peer-list config, resolves its own identity among the configured
// peers via self-discovery, and serves the cluster's wire protocol over
// HTTP until killed.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/paxoslabs/multipaxos/internal/config"
	"github.com/paxoslabs/multipaxos/internal/node"
)

var (
	port    = flag.Int("port", 5000, "port this node listens on")
	cfgPath = flag.String("config", "", "path to the peer-list config file (required)")
	logFile = flag.String("log-file", "", "write logs here instead of stderr")
)

func main() {
	flag.Parse()

	log := newLogger(*logFile)

	if *cfgPath == "" {
		log.Fatal().Msg("--config is required")
	}

	if err := run(log); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
}

func run(log zerolog.Logger) error {
	f, err := os.Open(*cfgPath)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := config.Load(f, *port)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	selfUUID := uuid.NewString()
	n := node.New(selfUUID, log)

	// The listener must be up, answering /server_id, before Bootstrap
	// starts polling peers: self-discovery only resolves once every node
	// in the cluster (including this one) can answer that route, so
	// serving has to start before, not after, bootstrap.
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: n.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	log.Info().Int("port", *port).Msg("serving")

	bootstrapErrCh := make(chan error, 1)
	go func() {
		bootstrapErrCh <- n.Bootstrap(ctx, cfg, node.DefaultOptions())
	}()

	select {
	case err := <-bootstrapErrCh:
		if err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	}
	log.Info().Str("node", n.ID()).Msg("self-discovery resolved")

	n.Run(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}
}

func newLogger(path string) zerolog.Logger {
	if path == "" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		log.Fatal().Err(err).Str("path", path).Msg("can't open log file")
	}
	return zerolog.New(f).With().Timestamp().Logger()
}
