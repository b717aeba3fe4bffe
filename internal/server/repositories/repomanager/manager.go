package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/jewelryportal/internal/dbx"
	"github.com/dmitrijs2005/jewelryportal/internal/server/repositories/designs"
	"github.com/dmitrijs2005/jewelryportal/internal/server/repositories/files"
	"github.com/dmitrijs2005/jewelryportal/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/jewelryportal/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to either the pool or a
// transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Designs(db dbx.DBTX) designs.Repository
	Files(db dbx.DBTX) files.Repository
}
