package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"vdotapes/internal/catalog"
	"vdotapes/internal/filesystem"
)

// NewSyncCmd creates the sync command
func NewSyncCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sync FILE",
		Short: "Apply a sync document of annotations keyed by item id",
		Long: `Apply a JSON object mapping item ids to their annotations:

  {"<id>": {"favorite": true, "hidden": false, "rating": 4, "tags": ["a"]}}

Entries for unknown ids are skipped. Existing annotations are only added to,
never cleared.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := filesystem.ReadFile(args[0], filesystem.DefaultRetryConfig())
			if err != nil {
				return fmt.Errorf("failed to read sync document: %w", err)
			}
			var entries map[string]catalog.ItemMetadata
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("invalid sync document %s: %w", args[0], err)
			}

			return withStore(func(ctx context.Context, st *store) error {
				result, err := st.catalog.SyncMetadata(ctx, entries)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sync %s: %d requested, %d matched, %d skipped, %d annotations in %v\n",
					result.RunID, result.Requested, result.Matched, result.Skipped, result.Synced, result.Duration)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")

	return cmd
}
