// Package server wires configuration, storage and services together and runs
// the HTTP API until it receives a shutdown signal.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/jewelryportal/internal/logging"
	"github.com/dmitrijs2005/jewelryportal/internal/server/config"
	"github.com/dmitrijs2005/jewelryportal/internal/server/httpapi"
)

type App struct {
	config *config.Config
	logger logging.Logger
	flush  func()
	deps   *Deps
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, flush, err := logging.New(c.LogFormat, c.LogLevel, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	deps, err := NewDeps(ctx, c, logger)
	if err != nil {
		flush()
		return nil, err
	}

	if err := deps.Repos.RunMigrations(ctx, deps.DB); err != nil {
		_ = deps.Close()
		flush()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	if c.AdminEmail != "" {
		created, err := deps.Users.EnsureAdmin(ctx, c.AdminEmail, c.AdminName, c.AdminPassword)
		if err != nil {
			_ = deps.Close()
			flush()
			return nil, fmt.Errorf("admin bootstrap error: %w", err)
		}
		if created {
			logger.Info(ctx, "Admin account created", "email", c.AdminEmail)
		}
	}

	return &App{config: c, logger: logger, flush: flush, deps: deps}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewServer(httpapi.Options{
		Addr:            app.config.HTTPAddr,
		SecretKey:       app.config.SecretKey,
		MaxUploadBytes:  app.config.MaxUploadBytes,
		ShutdownTimeout: app.config.ShutdownTimeout,
	}, app.logger, app.deps.Users, app.deps.Designs, app.deps.Metrics)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// purgeOTPs drops expired reset codes every interval until ctx is done.
func (app *App) purgeOTPs(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := app.deps.OTP.PurgeExpired(); n > 0 {
				app.logger.Debug(ctx, "Purged expired one-time codes", "count", n)
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.purgeOTPs(ctx, app.config.OTPPurgeInterval)
	}()

	wg.Wait()

	if err := app.deps.Close(); err != nil {
		app.logger.Error(context.Background(), "db close error", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
	app.flush()
}
