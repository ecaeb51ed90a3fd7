// Command paxos-cluster spawns one paxos-server process per entry in a
// config file and waits for all of them, mirroring the original
// implementation's start-servers orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/paxoslabs/multipaxos/internal/config"
)

var port = flag.Int("port", 5000, "default port for bare hostnames in the config file")

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: paxos-cluster [flags] <config>")
		os.Exit(1)
	}

	if err := run(args[0]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	f, err := os.Open(cfgPath)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := config.Load(f, *port)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	bin, err := serverBinary()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, len(cfg.Nodes))

	for _, peer := range cfg.Nodes {
		_, portStr, err := splitHostPort(peer)
		if err != nil {
			return err
		}

		cmd := exec.CommandContext(ctx, bin, "--port", portStr, "--config", cfgPath)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start server for %s: %w", peer, err)
		}

		wg.Add(1)
		go func(peer string, cmd *exec.Cmd) {
			defer wg.Done()
			if err := cmd.Wait(); err != nil && ctx.Err() == nil {
				errs <- fmt.Errorf("server %s exited: %w", peer, err)
			}
		}(peer, cmd)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func splitHostPort(peer string) (string, string, error) {
	idx := strings.LastIndex(peer, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("peer %q missing port", peer)
	}
	return peer[:idx], peer[idx+1:], nil
}

func serverBinary() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exe), "paxos-server"), nil
}
