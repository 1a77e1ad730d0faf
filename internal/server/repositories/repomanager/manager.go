// Package repomanager vends dialect-specific repository implementations and
// runs the embedded goose migrations for that dialect.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/smartagro/internal/dbx"
	"github.com/dmitrijs2005/smartagro/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
}
