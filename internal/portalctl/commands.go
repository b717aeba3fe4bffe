package portalctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/jewelryportal/internal/common"
	"github.com/dmitrijs2005/jewelryportal/internal/server/auth"
	"github.com/dmitrijs2005/jewelryportal/internal/server/export"
	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
	"github.com/spf13/cobra"
)

// exportPrincipal is the identity the CLI lists designs as.
var exportPrincipal = auth.Principal{UserID: "portalctl", Role: common.RoleAdmin}

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(ctx context.Context, b *backend) error {
				if err := b.migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
				return nil
			})
		},
	}
}

func newCreateAdminCommand(opts *options) *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		Long: `Create an administrator account. The password is read from the
terminal without echo and must be entered twice. Nothing changes when an
account with the email already exists.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptPassword(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			return withBackend(cmd, opts, func(ctx context.Context, b *backend) error {
				created, err := b.users.EnsureAdmin(ctx, email, name, password)
				if err != nil {
					return err
				}
				if created {
					fmt.Fprintf(cmd.OutOrStdout(), "Admin %s created\n", email)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Account %s already exists, nothing changed\n", email)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Admin email")
	cmd.Flags().StringVar(&name, "name", "Administrator", "Admin display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// promptPassword reads the password twice from the terminal.
func promptPassword(w io.Writer) (string, error) {
	fmt.Fprint(w, "Enter password: ")
	first, err := readPassword(stdinFd())
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(first)

	fmt.Fprint(w, "Repeat password: ")
	second, err := readPassword(stdinFd())
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(second)

	if !bytes.Equal(first, second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func newExportCommand(opts *options) *cobra.Command {
	var (
		out string
		f   models.DesignFilter
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export designs to an Excel workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(ctx context.Context, b *backend) error {
				list, err := b.designs.ListAll(ctx, exportPrincipal, f)
				if err != nil {
					return err
				}

				if out == "-" {
					return export.Write(cmd.OutOrStdout(), list)
				}

				var buf bytes.Buffer
				if err := export.Write(&buf, list); err != nil {
					return err
				}
				if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d designs to %s\n", len(list), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "designs.xlsx", `Output file ("-" for stdout)`)
	cmd.Flags().StringVar(&f.Status, "status", "", "Only designs with this status")
	cmd.Flags().StringVar(&f.Style, "style", "", "Only designs of this style")
	cmd.Flags().StringVar(&f.Query, "q", "", "Free-text filter on customer name, email or company")
	return cmd
}
