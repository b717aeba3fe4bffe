package designs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/jewelryportal/internal/common"
	"github.com/dmitrijs2005/jewelryportal/internal/dbx"
	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
)

const designColumns = `id, user_id, status, document, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDesign(row rowScanner) (*models.Design, error) {
	d := &models.Design{}
	var doc []byte
	if err := row.Scan(&d.ID, &d.UserID, &d.Status, &doc, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, &d.DesignSpec); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return d, nil
}

func (r *PostgresRepository) Create(ctx context.Context, d *models.Design) (*models.Design, error) {
	doc, err := json.Marshal(d.DesignSpec)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	query := `
		INSERT INTO designs (user_id, status, style, customer_name, customer_email, company, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		d.UserID, d.Status, d.Style, d.Customer.Name, d.Customer.Email, d.Customer.Company, doc,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Design, error) {
	return r.getOne(ctx, `SELECT `+designColumns+` FROM designs WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Design, error) {
	return r.getOne(ctx, `SELECT `+designColumns+` FROM designs WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) getOne(ctx context.Context, query, id string) (*models.Design, error) {
	d, err := scanDesign(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

// likeEscaper neutralises LIKE wildcards in user input.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildListQuery renders the filtered listing query and its arguments.
func buildListQuery(f models.DesignFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	}
	if f.Style != "" {
		where = append(where, "style = "+arg(f.Style))
	}
	if f.UserID != "" {
		where = append(where, "user_id = "+arg(f.UserID))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		p := arg("%" + likeEscaper.Replace(q) + "%")
		where = append(where, "(customer_name ILIKE "+p+" OR customer_email ILIKE "+p+" OR company ILIKE "+p+")")
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at < "+arg(f.To))
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + designColumns + ` FROM designs`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	b.WriteString(" LIMIT " + arg(f.Limit) + " OFFSET " + arg(f.Offset))

	return b.String(), args
}

// List returns designs matching f, newest first. f is expected to be clamped.
func (r *PostgresRepository) List(ctx context.Context, f models.DesignFilter) ([]*models.Design, error) {
	query, args := buildListQuery(f)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Design, 0)
	for rows.Next() {
		d, err := scanDesign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Update(ctx context.Context, d *models.Design) error {
	doc, err := json.Marshal(d.DesignSpec)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	query := `
		UPDATE designs
		SET style = $2, customer_name = $3, customer_email = $4, company = $5, document = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		d.ID, d.Style, d.Customer.Name, d.Customer.Email, d.Customer.Company, doc,
	).Scan(&d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE designs SET status = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, query, id, status)
}

// Delete removes the design; its file rows go with it via ON DELETE CASCADE.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, `DELETE FROM designs WHERE id = $1`, id)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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
