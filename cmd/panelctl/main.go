// Command panelctl is the operator CLI for the panel configurator: it quotes configurations against a
// catalog export, lints recommendation rules and asks a running API to drop its caches.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MosquitoCurtains/new-sub007/internal/platform/observability"
)

var version = "dev"

type rootOptions struct {
	verbose bool
}

// logger returns a JSON zap logger when --verbose is set, a no-op otherwise.
func (o *rootOptions) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	logger, err := observability.NewLogger()
	if err != nil {
		return zap.NewNop()
	}
	return logger.Named("panelctl")
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "panelctl",
		Short:         "Operator tooling for the panel configurator",
		Long:          `Quote configurations against catalog exports, lint recommendation rules and invalidate API caches.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log provider events as JSON to stdout")

	cmd.AddCommand(quoteCmd(opts))
	cmd.AddCommand(rulesCmd(opts))
	cmd.AddCommand(invalidateCmd(opts))
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "panelctl:", err)
		os.Exit(1)
	}
}
