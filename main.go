package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"portscan/api"
	"portscan/cli"
	"portscan/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(args) > 0 && args[0] == "serve" {
		return serve(ctx)
	}
	return cli.Run(ctx, args, os.Stdout, os.Stderr)
}

func serve(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := api.Run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
