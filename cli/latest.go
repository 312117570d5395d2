package cli

import (
	"bytes"
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/homemade/vaultsync/sync"
)

// LatestOptions holds flags for the latest command.
type LatestOptions struct {
	*RootOptions
	Type     string
	Count    int
	Decimals int
}

// NewLatestCommand creates the latest command.
func NewLatestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LatestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the latest stored events of one type",
		Long: `Show the most recent stored events of one type, newest first.

Asset amounts are scaled by --decimals (6 for USDC, 18 for ETH) and block
timestamps are shown as UTC dates.

Example:
  vaultsync latest --type depositRequest --decimals 6
  vaultsync latest --type withdrawEvents --count 20 --decimals 18 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Type == "" {
				return NewExitError(ExitCommandError, "--type is required")
			}
			if !cmd.Flags().Changed("decimals") {
				return NewExitError(ExitCommandError, "--decimals is required")
			}
			return runLatest(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "event type tag or category key (required)")
	cmd.Flags().IntVar(&opts.Count, "count", 5, "number of events to show")
	cmd.Flags().IntVar(&opts.Decimals, "decimals", 0, "decimals of the vault asset (required)")

	return cmd
}

// LatestEvent is one row of the latest command.
type LatestEvent struct {
	ID             string         `json:"id" yaml:"id"`
	Type           string         `json:"type" yaml:"type"`
	BlockTimestamp string         `json:"blockTimestamp" yaml:"blockTimestamp"`
	Date           string         `json:"date" yaml:"date"`
	Assets         string         `json:"assets" yaml:"assets"`
	Document       map[string]any `json:"document" yaml:"document"`
}

func runLatest(ctx context.Context, opts *LatestOptions) error {
	category, ok := sync.LookupCategory(opts.Type)
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown event type %q", opts.Type))
	}
	if opts.Count <= 0 {
		return NewExitError(ExitCommandError, "--count must be positive")
	}
	if opts.Decimals < 0 {
		return NewExitError(ExitCommandError, "--decimals must not be negative")
	}
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close(context.WithoutCancel(ctx))

	stored, err := st.LatestEvents(ctx, category.Type, opts.Count)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read events", err)
	}
	events := make([]LatestEvent, 0, len(stored))
	for _, e := range stored {
		events = append(events, newLatestEvent(e, opts.Decimals))
	}
	return opts.formatter().Success(events, renderLatest(category.Type, stored, opts.Decimals))
}

func newLatestEvent(e sync.StoredEvent, decimals int) LatestEvent {
	doc, _ := gjson.ParseBytes(e.Document).Value().(map[string]any)
	return LatestEvent{
		ID:             e.ID,
		Type:           e.Type,
		BlockTimestamp: string(e.BlockTimestamp),
		Date:           sync.DocumentField(e.Document, "blockTimestamp|@unixTime"),
		Assets:         sync.DocumentField(e.Document, fmt.Sprintf("assets|@decimals:%d", decimals)),
		Document:       doc,
	}
}

func renderLatest(eventType string, events []sync.StoredEvent, decimals int) string {
	if len(events) == 0 {
		return fmt.Sprintf("No events of type '%s' found.\n", eventType)
	}
	var buf bytes.Buffer
	for _, e := range events {
		doc := e.Document
		fmt.Fprintln(&buf, "-------------------------------")
		fmt.Fprintf(&buf, "ID         : %s\n", sync.DocumentField(doc, "id"))
		fmt.Fprintf(&buf, "Assets     : %s\n", sync.DocumentField(doc, fmt.Sprintf("assets|@decimals:%d", decimals)))
		fmt.Fprintf(&buf, "Timestamp  : %s (%s)\n", sync.DocumentField(doc, "blockTimestamp"), sync.DocumentField(doc, "blockTimestamp|@unixTime"))
		fmt.Fprintf(&buf, "Controller : %s\n", sync.DocumentField(doc, "controller"))
		fmt.Fprintf(&buf, "Owner      : %s\n", sync.DocumentField(doc, "owner"))
		fmt.Fprintf(&buf, "Request ID : %s\n", sync.DocumentField(doc, "requestId"))
		fmt.Fprintf(&buf, "Sender     : %s\n", sync.DocumentField(doc, "sender"))
		fmt.Fprintln(&buf, "-------------------------------")
	}
	return buf.String()
}
