package cli

import (
	"github.com/spf13/cobra"

	"github.com/homemade/vaultsync/sync"
)

// CategoriesOptions holds flags for the categories command.
type CategoriesOptions struct {
	*RootOptions
	CSV bool
}

// NewCategoriesCommand creates the categories command.
func NewCategoriesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CategoriesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "categories [category...]",
		Short: "Document the event categories and their fields",
		Long: `List the event categories a sync pass requests, with the fields queried
for each and the type tag stored on every document.

Example:
  vaultsync categories
  vaultsync categories depositEvents withdraw --csv > categories.csv`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCategories(opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.CSV, "csv", false, "write CSV instead of --format output")
	return cmd
}

func runCategories(opts *CategoriesOptions, names []string) error {
	selected, err := sync.SelectCategories(names)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid categories", err)
	}
	doc := sync.GenerateCategoryDocumentation(selected...)
	if opts.CSV {
		csv, err := doc.FormatCSV()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to write csv", err)
		}
		_, err = opts.Stdout.Write([]byte(csv))
		return err
	}
	return opts.formatter().Success(doc.Rows, doc.FormatText())
}
