package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqlgate/sqlgate/internal/cli/sqlgatectl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := sqlgatectl.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
