package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/jewelryportal/internal/logging"
	"github.com/dmitrijs2005/jewelryportal/internal/server/auth"
	"github.com/dmitrijs2005/jewelryportal/internal/server/config"
	"github.com/dmitrijs2005/jewelryportal/internal/server/metrics"
	"github.com/dmitrijs2005/jewelryportal/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/jewelryportal/internal/server/services"
	"github.com/dmitrijs2005/jewelryportal/internal/server/storage"
)

// Deps are the long-lived components shared by the server and portalctl.
type Deps struct {
	DB      *sql.DB
	Repos   repomanager.RepositoryManager
	OTP     *auth.OTPStore
	Metrics *metrics.Metrics
	Users   *services.UserService
	Designs *services.DesignService
}

// Seams for tests.
var (
	sqlOpen      = sql.Open
	pingDB       = func(ctx context.Context, db *sql.DB) error { return db.PingContext(ctx) }
	newBlobStore = func(ctx context.Context, opts storage.Options) (services.BlobStore, error) {
		return storage.NewS3BlobStore(ctx, opts)
	}
	newRepositoryManager = repomanager.NewPostgresRepositoryManager
)

// OpenDB opens and pings the Postgres database at dsn.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := pingDB(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// NewDeps opens the database and builds repositories, blob storage and
// services. Migrations are not run. Close releases the database.
func NewDeps(ctx context.Context, c *config.Config, logger logging.Logger) (*Deps, error) {
	db, err := OpenDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	blobs, err := newBlobStore(ctx, storage.Options{
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	rm := newRepositoryManager()
	m := metrics.New()
	otp := auth.NewOTPStore(c.OTPValidityDuration, c.OTPLength)

	return &Deps{
		DB:      db,
		Repos:   rm,
		OTP:     otp,
		Metrics: m,
		Users:   services.NewUserService(db, rm, c, otp, services.LogCodeSender{Logger: logger}, blobs, logger, m),
		Designs: services.NewDesignService(db, rm, blobs, c.MaxUploadBytes, logger, m),
	}, nil
}

func (d *Deps) Close() error {
	return d.DB.Close()
}
