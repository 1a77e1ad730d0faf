// Package users persists user credentials. Usernames are unique; creation
// is a single atomic statement so concurrent signups cannot both succeed.
package users

import (
	"context"

	"github.com/dmitrijs2005/smartagro/internal/server/models"
)

type Repository interface {
	// Create inserts user and fills its ID, stamping CreatedAt when unset. It fails with
	// common.ErrDuplicateUsername when the name is taken.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	// GetUserByLogin fails with common.ErrorNotFound for unknown names.
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
}
