package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:          "mipsync",
		Short:        "A MiP that dances along with its friends on the LAN",
		Long:         "mipsync runs one simulated MiP. Press space to dance; every MiP on the broadcast domain joins in.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	f.IntVar(&opts.port, "port", 0, "UDP broadcast port (overrides config)")
	f.StringVar(&opts.statusAddr, "status-addr", "", "serve /healthz, /info, /activate and /metrics on this address")
	f.BoolVar(&opts.headless, "headless", false, "do not draw to the terminal or read the keyboard")
	f.BoolVar(&opts.debug, "debug", false, "log at debug level")
	f.Uint64Var(&opts.seed, "seed", 0, "seed for identity and behavior randomness (0 picks one)")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mipsync %s (commit: %s)\n", Version, Commit)
		},
	}
}

func execute(ctx context.Context, cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, newRootCmd())
	stop()
	os.Exit(code)
}
