package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gudagent/internal/crawlcli"
	"gudagent/pkg/config"
	"gudagent/pkg/logging"
)

func main() {
	config.LoadEnv(logging.NewCLILogger(os.Stderr, false))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := crawlcli.Execute(ctx, crawlcli.NewApp(), os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
