// Package designs persists design submissions. Each row keeps the full
// specification as a JSONB document next to the columns used for filtering.
package designs

import (
	"context"

	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, d *models.Design) (*models.Design, error)
	Get(ctx context.Context, id string) (*models.Design, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.Design, error)
	List(ctx context.Context, f models.DesignFilter) ([]*models.Design, error)
	Update(ctx context.Context, d *models.Design) error
	UpdateStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error
}
