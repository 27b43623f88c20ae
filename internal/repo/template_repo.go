package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Rollout/internal/domain"
)

// TemplateRepo — репозиторий сохранённых шаблонов.
type TemplateRepo struct {
	pool *pgxpool.Pool
}

// NewTemplateRepo создаёт новый TemplateRepo.
func NewTemplateRepo(pool *pgxpool.Pool) *TemplateRepo {
	return &TemplateRepo{pool: pool}
}

// SaveTemplate создаёт шаблон или заменяет содержимое существующего.
// CreatedAt существующего шаблона сохраняется.
func (r *TemplateRepo) SaveTemplate(ctx context.Context, tpl *domain.Template) error {
	body, err := json.Marshal(tpl.Template)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO templates (name, ft_number, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name) DO UPDATE
		SET ft_number = EXCLUDED.ft_number, body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`
	err = r.pool.QueryRow(ctx, query, tpl.Name, tpl.Template.FTNumber(), body, now).
		Scan(&tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}

// GetTemplate возвращает шаблон по имени.
func (r *TemplateRepo) GetTemplate(ctx context.Context, name string) (*domain.Template, error) {
	query := `
		SELECT name, body, created_at, updated_at
		FROM templates
		WHERE name = $1
	`
	return scanTemplate(r.pool.QueryRow(ctx, query, name))
}

// ListTemplates возвращает все шаблоны, отсортированные по имени.
func (r *TemplateRepo) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, body, created_at, updated_at
		FROM templates
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []domain.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *tpl)
	}
	return templates, rows.Err()
}

// DeleteTemplate удаляет шаблон.
func (r *TemplateRepo) DeleteTemplate(ctx context.Context, name string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM templates WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanTemplate читает строку как из QueryRow, так и из Rows.
func scanTemplate(row pgx.Row) (*domain.Template, error) {
	var tpl domain.Template
	var body []byte

	err := row.Scan(&tpl.Name, &body, &tpl.CreatedAt, &tpl.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}

	if err := json.Unmarshal(body, &tpl.Template); err != nil {
		return nil, fmt.Errorf("unmarshal template %s: %w", tpl.Name, err)
	}
	return &tpl, nil
}
