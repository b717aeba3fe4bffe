// Package files stores metadata rows for blobs attached to designs.
package files

import (
	"context"

	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, file *models.DesignFile) (*models.DesignFile, error)
	Get(ctx context.Context, designID, fileID string) (*models.DesignFile, error)
	ListByDesign(ctx context.Context, designID string) ([]*models.DesignFile, error)
	// ListByDesigns groups the files of several designs by design id.
	ListByDesigns(ctx context.Context, designIDs []string) (map[string][]*models.DesignFile, error)
	// ListByOwner returns the files of every design owned by userID.
	ListByOwner(ctx context.Context, userID string) ([]*models.DesignFile, error)
	Delete(ctx context.Context, designID, fileID string) error
}
