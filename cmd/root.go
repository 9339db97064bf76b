// Package cmd wires the camrelay subcommands.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/smazurov/camrelay/internal/config"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/relayerr"
	"github.com/smazurov/camrelay/internal/shutdown"
	"github.com/smazurov/camrelay/internal/version"
)

// app carries the options shared by every subcommand and the exit code of
// the session that ran.
type app struct {
	opts     *config.Options
	exitCode int
}

// NewRootCmd builds the camrelay command tree.
func NewRootCmd() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *app) {
	a := &app{opts: config.Defaults()}

	root := &cobra.Command{
		Use:   "camrelay",
		Short: "Relay camera frames over RTP into an SRT publisher",
		Long: `camrelay captures frames from a camera, encodes them as JPEG and streams them ` +
			`over RTP/UDP (stream), or receives that stream, transcodes it to H.264 and ` +
			`publishes it over SRT (receive).`,
		Version:       version.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags(), a.opts, config.ScopeRoot)

	root.AddCommand(
		a.streamCmd(),
		a.receiveCmd(),
		a.devicesCmd(),
		versionCmd(),
	)
	return root, a
}

// Execute runs the command line and returns the process exit code. A
// session reports its own code; anything that fails before a session
// starts exits with ExitFailure.
func Execute(ctx context.Context, args []string) int {
	root, a := newRoot()
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		logging.GetLogger("main").Error("Command failed", "error", err)
		return shutdown.ExitFailure
	}
	return a.exitCode
}

// load applies the config file and environment on top of the flags, sets up
// logging and validates the result for scope. An empty scope skips
// validation.
func (a *app) load(cmd *cobra.Command, scope string) error {
	if err := config.LoadConfig(a.opts, cmd); err != nil {
		return relayerr.Wrap(relayerr.InvalidConfig, "load", "cannot load configuration", err)
	}
	logging.Initialize(a.opts.LoggingConfig())

	if scope == "" {
		return nil
	}
	return a.opts.Validate(scope)
}
