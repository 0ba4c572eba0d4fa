package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Store is the persistence the service needs; *Repository implements it.
type Store interface {
	Create(ctx context.Context, username, email, passwordHash string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByLogin(ctx context.Context, login string) (*User, error)
	Delete(ctx context.Context, id int64) error
}

// ObjectPurger removes the stored files of everything a user owns.
type ObjectPurger interface {
	PurgeOwner(ctx context.Context, ownerID int64) error
}

// Service contains business logic for user management.
type Service struct {
	repo   Store
	purger ObjectPurger
}

// NewService creates a new user Service. purger may be nil.
func NewService(repo Store, purger ObjectPurger) *Service {
	return &Service{repo: repo, purger: purger}
}

// Create registers a new user account with an already hashed password.
func (s *Service) Create(ctx context.Context, username, email, passwordHash string) (*User, error) {
	u, err := s.repo.Create(ctx, username, email, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// GetByID returns a user by id.
func (s *Service) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByLogin returns the user whose username or email matches login.
func (s *Service) GetByLogin(ctx context.Context, login string) (*User, error) {
	return s.repo.GetByLogin(ctx, login)
}

// DeleteAccount removes the user's stored files, then the user row. Failing
// to remove a file does not block the account deletion.
func (s *Service) DeleteAccount(ctx context.Context, id int64) error {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	if s.purger != nil {
		if err := s.purger.PurgeOwner(ctx, id); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Int64("user_id", id).Msg("purge user files")
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// IsNotFound returns true when the error indicates a user was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
