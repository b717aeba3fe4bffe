package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/jewelryportal/internal/common"
	"github.com/dmitrijs2005/jewelryportal/internal/dbx"
	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
)

const fileColumns = `id, design_id, kind, file_name, content_type, size, storage_key, created_at`

// PostgresRepository implements file metadata storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.DesignFile, error) {
	f := &models.DesignFile{}
	err := row.Scan(&f.ID, &f.DesignID, &f.Kind, &f.FileName, &f.ContentType, &f.Size, &f.StorageKey, &f.CreatedAt)
	return f, err
}

func (r *PostgresRepository) Create(ctx context.Context, file *models.DesignFile) (*models.DesignFile, error) {
	query := `
		INSERT INTO design_files (design_id, kind, file_name, content_type, size, storage_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		file.DesignID, file.Kind, file.FileName, file.ContentType, file.Size, file.StorageKey,
	).Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return file, nil
}

func (r *PostgresRepository) Get(ctx context.Context, designID, fileID string) (*models.DesignFile, error) {
	query := `SELECT ` + fileColumns + ` FROM design_files WHERE design_id = $1 AND id = $2`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, designID, fileID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) ListByDesign(ctx context.Context, designID string) ([]*models.DesignFile, error) {
	query := `SELECT ` + fileColumns + ` FROM design_files WHERE design_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, designID)
}

func (r *PostgresRepository) ListByDesigns(ctx context.Context, designIDs []string) (map[string][]*models.DesignFile, error) {
	result := make(map[string][]*models.DesignFile, len(designIDs))
	if len(designIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(designIDs))
	args := make([]any, len(designIDs))
	for i, id := range designIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT ` + fileColumns + ` FROM design_files WHERE design_id IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY created_at, id`

	files, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		result[f.DesignID] = append(result[f.DesignID], f)
	}
	return result, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, userID string) ([]*models.DesignFile, error) {
	query := `
		SELECT f.id, f.design_id, f.kind, f.file_name, f.content_type, f.size, f.storage_key, f.created_at
		FROM design_files f
		JOIN designs d ON d.id = f.design_id
		WHERE d.user_id = $1
		ORDER BY f.created_at, f.id
	`
	return r.list(ctx, query, userID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.DesignFile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]*models.DesignFile, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

// Delete removes one file row; exactly one row must be affected.
func (r *PostgresRepository) Delete(ctx context.Context, designID, fileID string) error {
	query := `DELETE FROM design_files WHERE design_id = $1 AND id = $2`
	res, err := r.db.ExecContext(ctx, query, designID, fileID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
