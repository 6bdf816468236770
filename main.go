/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const (
	releaseVersion = "0.1.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newCmd(&Config{}).ExecuteContext(ctx)
	stop()

	cobra.CheckErr(err)
}
