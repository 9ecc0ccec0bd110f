package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"vdotapes/internal/database"
)

// NewSettingsCmd creates the settings command group
func NewSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and write stored settings",
		Long: `Read and write the JSON settings kept in the store. Values given to
"set" are parsed as JSON; anything that does not parse is stored as a string.`,
	}

	cmd.AddCommand(newSettingsListCmd())
	cmd.AddCommand(newSettingsGetCmd())
	cmd.AddCommand(newSettingsSetCmd())
	cmd.AddCommand(newSettingsDeleteCmd())

	return cmd
}

func newSettingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store) error {
				settings, err := st.catalog.ListSettings(ctx)
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(settings))
				for k := range settings {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, settings[k])
				}
				return nil
			})
		},
	}
}

func newSettingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print one setting as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store) error {
				var value json.RawMessage
				found, err := st.catalog.GetSetting(ctx, args[0], &value)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("setting %q: %w", args[0], database.ErrNotFound)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(value))
				return nil
			})
		},
	}
}

func newSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := parseSettingValue(args[1])
			return withStore(func(ctx context.Context, st *store) error {
				return st.catalog.SetSetting(ctx, args[0], value)
			})
		},
	}
}

func newSettingsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Remove a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store) error {
				return st.catalog.DeleteSetting(ctx, args[0])
			})
		},
	}
}

// parseSettingValue keeps valid JSON as is and treats anything else as a
// plain string.
func parseSettingValue(s string) any {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return s
}
