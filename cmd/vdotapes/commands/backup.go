package commands

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vdotapes/internal/catalog"
	"vdotapes/internal/filesystem"
)

// NewBackupCmd creates the backup command group
func NewBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export, import and validate annotation backups",
		Long: `Move favorites, hidden flags, ratings and tags in and out of the store as
a JSON backup document. Items are matched by path on import.`,
	}

	cmd.AddCommand(newBackupExportCmd())
	cmd.AddCommand(newBackupImportCmd())
	cmd.AddCommand(newBackupValidateCmd())

	return cmd
}

func newBackupExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export FILE",
		Short: "Write every annotated item to FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st *store) error {
				backup, err := st.catalog.ExportBackup(ctx)
				if err != nil {
					return err
				}

				var buf bytes.Buffer
				if err := catalog.WriteBackup(&buf, backup); err != nil {
					return err
				}
				if err := filesystem.WriteFileAtomic(args[0], buf.Bytes(), 0o644, filesystem.DefaultRetryConfig()); err != nil {
					return fmt.Errorf("failed to write backup: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d items to %s\n", len(backup.Items), args[0])
				return nil
			})
		},
	}
}

func newBackupImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Apply the annotations in FILE to matching items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := filesystem.ReadFile(args[0], filesystem.DefaultRetryConfig())
			if err != nil {
				return fmt.Errorf("failed to read backup: %w", err)
			}
			backup, err := catalog.ReadBackup(bytes.NewReader(data))
			if err != nil {
				return err
			}

			return withStore(func(ctx context.Context, st *store) error {
				result, err := st.catalog.ImportBackup(ctx, backup)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d, skipped %d, errors %d\n",
					result.Imported, result.Skipped, result.Errors)
				return nil
			})
		},
	}
}

func newBackupValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check FILE against the backup format without opening the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := filesystem.ReadFile(args[0], filesystem.DefaultRetryConfig())
			if err != nil {
				return fmt.Errorf("failed to read backup: %w", err)
			}

			problems := catalog.ValidateBackupJSON(data)
			if len(problems) > 0 {
				for _, p := range problems {
					fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", p)
				}
				return fmt.Errorf("%s is not a valid backup: %s", args[0], strings.Join(problems, "; "))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is a valid backup\n", args[0])
			return nil
		},
	}
}
