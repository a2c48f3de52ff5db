package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/querypilot/querypilot/internal/cli/querypilot"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	options := querypilot.Options{
		Timeout: parseDurationWithDefault(strings.TrimSpace(os.Getenv("QUERYPILOT_CLI_TIMEOUT")), 60*time.Second),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	code := querypilot.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid QUERYPILOT_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
