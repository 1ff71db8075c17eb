package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"OpenEA-Agent/internal/cli"
)

// main 是执行助理命令行的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
