package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"vdotapes/internal/database"
)

// NewMigrateCmd creates the migrate command group
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect and manage schema migrations",
		Long: `Inspect and manage the store schema.

Opening the store always brings it to the latest version. The legacy
annotation tables are kept as backups until "migrate remove-backups" runs;
while they exist the store can be rolled back.`,
	}

	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateRollbackCmd())
	cmd.AddCommand(newMigrateRemoveBackupsCmd())

	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the schema version and compatibility window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store) error {
				status, err := st.db.Migrator().Status(ctx)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), status); err != nil {
					return err
				}
				if !verify {
					return nil
				}

				report, err := st.adapter.Verify(ctx)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.Consistent() {
					return fmt.Errorf("%d legacy table mismatches", len(report.Mismatches))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "also compare the annotation columns with the legacy tables")

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store) error {
				report, err := st.db.Migrator().Migrate(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(report.Applied) == 0 {
					fmt.Fprintf(out, "Schema is at v%d, nothing to apply\n", st.db.SchemaVersion())
					return nil
				}
				return printJSON(out, report)
			})
		},
	}
}

func newMigrateRollbackCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore the legacy annotation tables from their backups",
		Long: `Restore the legacy annotation tables from the migration backups and
record the baseline schema version. Annotation changes made since the
migration that were not mirrored into the legacy tables are lost. The next
start migrates the store again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Roll the schema back to the legacy layout?") {
				return fmt.Errorf("rollback not confirmed (use --yes)")
			}
			return withStore(func(ctx context.Context, st *store) error {
				if err := st.db.Migrator().RollbackMigration(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back to schema v%d\n", database.BaselineVersion)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func newMigrateRemoveBackupsCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "remove-backups",
		Short: "Drop the migration backups and close the compatibility window",
		Long: `Drop the legacy backup tables. Afterwards the store can no longer be
rolled back. With compatibility shims enabled the legacy tables are rebuilt
from the annotation columns in the same transaction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Remove the migration backups? This cannot be undone.") {
				return fmt.Errorf("removal not confirmed (use --yes)")
			}
			return withStore(func(ctx context.Context, st *store) error {
				if err := st.db.Migrator().RemoveBackupTables(ctx, st.adapter.ReplayFunc()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migration backups removed")
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}
