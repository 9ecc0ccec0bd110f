package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewMaintenanceCmd creates the maintenance command group
func NewMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Check and compact the store file",
	}

	cmd.AddCommand(newMaintenanceCheckCmd())
	cmd.AddCommand(newMaintenanceVacuumCmd())

	return cmd
}

func newMaintenanceCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the SQLite integrity check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store) error {
				if err := st.db.IntegrityCheck(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Integrity check passed")
				return nil
			})
		},
	}
}

func newMaintenanceVacuumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Rebuild the store file to reclaim free pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store) error {
				before := fileSize(st.db.Path())
				if err := st.db.Vacuum(ctx); err != nil {
					return fmt.Errorf("vacuum failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Vacuum complete: %d -> %d bytes\n", before, fileSize(st.db.Path()))
				return nil
			})
		},
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
