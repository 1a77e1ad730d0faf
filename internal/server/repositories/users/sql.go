package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/smartagro/internal/common"
	"github.com/dmitrijs2005/smartagro/internal/dbx"
	"github.com/dmitrijs2005/smartagro/internal/server/models"
)

// SQLRepository implements Repository for any dialect whose placeholder
// style squirrel knows. Both postgres and sqlite accept
// ON CONFLICT ... DO NOTHING RETURNING.
type SQLRepository struct {
	db dbx.DBTX
	sb sq.StatementBuilderType
}

// NewPostgresRepository binds a repository using $n placeholders.
func NewPostgresRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

// NewSQLiteRepository binds a repository using ? placeholders.
func NewSQLiteRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
}

// NewRepository picks the placeholder style for dialect.
func NewRepository(dialect string, db dbx.DBTX) (*SQLRepository, error) {
	switch dialect {
	case dbx.Postgres:
		return NewPostgresRepository(db), nil
	case dbx.SQLite:
		return NewSQLiteRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}
}

func (r *SQLRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	query, args, err := r.sb.Insert("users").
		Columns("username", "password_hash", "created_at").
		Values(user.UserName, user.PasswordHash, user.CreatedAt).
		Suffix("ON CONFLICT (username) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	err = r.db.QueryRowContext(ctx, query, args...).Scan(&user.ID)
	if err != nil {
		// the conflict clause suppresses the row, so no row means the name exists
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrDuplicateUsername
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *SQLRepository) GetUserByLogin(ctx context.Context, userName string) (*models.User, error) {
	query, args, err := r.sb.Select("id", "username", "password_hash", "created_at").
		From("users").
		Where(sq.Eq{"username": userName}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	user := &models.User{}
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&user.ID, &user.UserName, &user.PasswordHash, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}
