package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "text" | "json" | "yaml"
	Config  string // optional YAML file layered over the defaults

	// Stdout and Stderr are overridable for tests.
	Stdout io.Writer
	Stderr io.Writer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the vaultsync command. Run without a subcommand it
// performs exactly one sync pass.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Stdout: os.Stdout, Stderr: os.Stderr})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	syncOpts := &SyncOptions{RootOptions: opts}

	cmd := &cobra.Command{
		Use:   "vaultsync",
		Short: "Replicate vault events from a subgraph into a document store",
		Long: `vaultsync copies on-chain vault events served by a GraphQL subgraph into a
document store, one pass per invocation.

Each event category is probed for new data, drained strictly after its stored
cursor and written with one unordered bulk insert. Rate-limited subgraph
endpoints are skipped for 24 hours.

Configuration comes from built-in defaults, an optional YAML file (--config or
VAULTSYNC_CONFIG) and MONGODB_URI, MONGODB_DB_NAME, MONGODB_COLLECTION_NAME.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return WrapExitError(ExitCommandError, "invalid arguments", err)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), syncOpts)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "YAML config file layered over the defaults")
	addSyncFlags(cmd, syncOpts)
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewLatestCommand(opts))
	cmd.AddCommand(NewCategoriesCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// Execute runs the command line in args and returns the process exit code.
// Errors are reported on stderr, or in the envelope on stdout for json and yaml.
func Execute(ctx context.Context, args []string) int {
	return execute(ctx, &RootOptions{Stdout: os.Stdout, Stderr: os.Stderr}, args)
}

func execute(ctx context.Context, opts *RootOptions, args []string) int {
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(opts.Stdout)
	cmd.SetErr(opts.Stderr)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	f := &OutputFormatter{Format: opts.Format, Writer: opts.Stdout}
	if !isValidFormat(opts.Format) || opts.Format == "text" {
		f = &OutputFormatter{Format: "text", Writer: opts.Stderr}
	}
	_ = f.Error(err)
	return GetExitCode(err)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) formatter() *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: o.Stdout}
}

// logger writes progress lines to stderr so structured output on stdout stays parseable.
func (o *RootOptions) logger() *log.Logger {
	return log.New(o.Stderr, "", log.LstdFlags)
}
