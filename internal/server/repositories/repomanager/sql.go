package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/smartagro/internal/dbx"
	"github.com/dmitrijs2005/smartagro/internal/server/migrations"
	"github.com/dmitrijs2005/smartagro/internal/server/repositories/users"
	"github.com/pressly/goose/v3"
)

// SQLRepositoryManager serves one database dialect.
type SQLRepositoryManager struct {
	dialect string
}

// Users returns a users.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) Users(db dbx.DBTX) users.Repository {
	if m.dialect == dbx.Postgres {
		return users.NewPostgresRepository(db)
	}
	return users.NewSQLiteRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// gooseDialect maps our dialect names to goose's.
func gooseDialect(dialect string) string {
	if dialect == dbx.Postgres {
		return "pgx"
	}
	return "sqlite3"
}

// RunMigrations points goose at the embedded migrations for the manager's
// dialect and applies them.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(gooseDialect(m.dialect)); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, m.dialect); err != nil {
		return err
	}
	return nil
}

// NewRepositoryManager constructs a RepositoryManager for dialect.
func NewRepositoryManager(dialect string) (RepositoryManager, error) {
	if _, err := dbx.DriverName(dialect); err != nil {
		return nil, fmt.Errorf("repository manager: %w", err)
	}
	return &SQLRepositoryManager{dialect: dialect}, nil
}
