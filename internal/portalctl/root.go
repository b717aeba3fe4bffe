// Package portalctl implements the operator command line: schema migration,
// admin bootstrap and Excel export.
package portalctl

import (
	"context"
	"os"

	"github.com/dmitrijs2005/jewelryportal/internal/logging"
	"github.com/dmitrijs2005/jewelryportal/internal/server"
	"github.com/dmitrijs2005/jewelryportal/internal/server/auth"
	"github.com/dmitrijs2005/jewelryportal/internal/server/config"
	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type adminCreator interface {
	EnsureAdmin(ctx context.Context, email, name, password string) (bool, error)
}

type designLister interface {
	ListAll(ctx context.Context, p auth.Principal, f models.DesignFilter) ([]*models.Design, error)
}

// backend is what the commands need from a running portal installation.
type backend struct {
	migrate func(ctx context.Context) error
	users   adminCreator
	designs designLister
	close   func() error
}

// Seams for tests.
var (
	loadConfig   = config.LoadFile
	readPassword = term.ReadPassword
	stdinFd      = func() int { return int(os.Stdin.Fd()) }
	openBackend  = func(ctx context.Context, c *config.Config, l logging.Logger) (*backend, error) {
		d, err := server.NewDeps(ctx, c, l)
		if err != nil {
			return nil, err
		}
		return &backend{
			migrate: func(ctx context.Context) error { return d.Repos.RunMigrations(ctx, d.DB) },
			users:   d.Users,
			designs: d.Designs,
			close:   d.Close,
		}, nil
	}
)

type options struct {
	configPath string
}

// NewRootCommand builds the portalctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "portalctl",
		Short:         "Operate a jewelry portal installation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (JSON)")

	cmd.AddCommand(
		newMigrateCommand(opts),
		newCreateAdminCommand(opts),
		newExportCommand(opts),
	)
	return cmd
}

// withBackend loads configuration, opens the backend and runs fn with it.
func withBackend(cmd *cobra.Command, opts *options, fn func(ctx context.Context, b *backend) error) error {
	c, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	logger, flush, err := logging.New(c.LogFormat, c.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer flush()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	b, err := openBackend(ctx, c, logger)
	if err != nil {
		return err
	}
	defer func() { _ = b.close() }()

	return fn(ctx, b)
}
