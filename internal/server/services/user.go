// Package services contains server-side business logic. This file implements
// UserService, which handles signup, login and logout.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/smartagro/internal/common"
	"github.com/dmitrijs2005/smartagro/internal/cryptox"
	"github.com/dmitrijs2005/smartagro/internal/dbx"
	"github.com/dmitrijs2005/smartagro/internal/logging"
	"github.com/dmitrijs2005/smartagro/internal/server/models"
	"github.com/dmitrijs2005/smartagro/internal/server/repositories/repomanager"
)

// SessionStarter is the part of the session manager UserService needs.
type SessionStarter interface {
	Create(ctx context.Context, userName string) (string, error)
	Destroy(ctx context.Context, token string)
}

// UserService provides account operations:
// - Signup: create users with hashed passwords
// - Login: verify credentials and open a session
// - Logout: drop the session
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      cryptox.Hasher
	sessions    SessionStarter
	logger      logging.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewUserService constructs a UserService.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, h cryptox.Hasher, s SessionStarter, l logging.Logger) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		hasher:      h,
		sessions:    s,
		logger:      l.With("module", "users"),
	}
}

// Signup registers username with a hash of password. Surrounding spaces are
// trimmed from both. Fails with common.ErrMissingField or
// common.ErrDuplicateUsername; the existing record is never changed.
func (s *UserService) Signup(ctx context.Context, username, password string) (*models.User, error) {
	username, password = strings.TrimSpace(username), strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, common.ErrMissingField
	}
	if len(password) > cryptox.MaxPasswordBytes {
		return nil, common.ErrPasswordTooLong
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, common.ErrPasswordTooLong) {
			return nil, err
		}
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	var user *models.User
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var createErr error
		user, createErr = s.repomanager.Users(tx).Create(ctx, &models.User{UserName: username, PasswordHash: hash})
		return createErr
	})
	if err != nil {
		if errors.Is(err, common.ErrDuplicateUsername) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.logger.Info(ctx, "user registered", "user", username)
	return user, nil
}

// Login checks the credentials and returns a fresh session token. Unknown
// users and wrong passwords both yield common.ErrInvalidCredentials, and an
// unknown user still pays for one hash verification.
func (s *UserService) Login(ctx context.Context, username, password string) (string, error) {
	username, password = strings.TrimSpace(username), strings.TrimSpace(password)

	user, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.Verify(password, s.dummy())
			return "", common.ErrInvalidCredentials
		}
		s.logger.Error(ctx, "user lookup failed", "error", err)
		return "", common.ErrorInternal
	}

	if password == "" || !s.hasher.Verify(password, user.PasswordHash) {
		return "", common.ErrInvalidCredentials
	}

	token, err := s.sessions.Create(ctx, user.UserName)
	if err != nil {
		s.logger.Error(ctx, "session create failed", "error", err)
		return "", common.ErrorInternal
	}
	return token, nil
}

// Logout destroys the session. Unknown tokens are ignored.
func (s *UserService) Logout(ctx context.Context, token string) {
	s.sessions.Destroy(ctx, token)
}

// dummy is a valid hash of a throwaway password, verified against when the
// user does not exist.
func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(fmt.Sprintf("%x", common.GenerateRandByteArray(16)))
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}
