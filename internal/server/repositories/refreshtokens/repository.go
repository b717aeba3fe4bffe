// Package refreshtokens declares the server-side repository contract for
// refresh tokens issued at login.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
)

// Repository stores opaque refresh tokens.
type Repository interface {
	// Create stores a new refresh token for userID expiring after validity.
	Create(ctx context.Context, userID string, token string, validity time.Duration) error

	// Take deletes token and returns the removed row, or common.ErrorNotFound
	// when no such token exists. Of concurrent callers at most one gets the row.
	Take(ctx context.Context, token string) (*models.RefreshToken, error)

	// DeleteByUser revokes every token of userID and returns how many were removed.
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}
