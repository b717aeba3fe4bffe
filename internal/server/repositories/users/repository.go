// Package users declares the persistence contract for portal accounts and
// its PostgreSQL implementation.
package users

import (
	"context"

	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
)

type Repository interface {
	// Create inserts user and fills in ID and timestamps. A taken email
	// yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	// Update stores name, email and role of user.
	Update(ctx context.Context, user *models.User) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
}
