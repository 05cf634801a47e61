package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aussiebroadwan/authsync/internal/authaudit"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := authaudit.ParseConfig(flag.CommandLine, os.Args[1:], environ())
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "authaudit:", err)
		os.Exit(2)
	}

	if err := authaudit.Run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "authaudit:", err)
		os.Exit(1)
	}
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
