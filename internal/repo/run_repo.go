package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Rollout/internal/domain"
)

// RunRepo — репозиторий снимков run.
//
// Снимок целиком (статус, результаты, лог) лежит в snapshot,
// остальные колонки нужны для выборок.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// SaveRun создаёт или заменяет снимок run.
func (r *RunRepo) SaveRun(ctx context.Context, run *domain.Run) error {
	snapshot, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	query := `
		INSERT INTO runs (id, template_name, ft_number, initiated_by, status, error,
		                  snapshot, started_at, finished_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, error = EXCLUDED.error, snapshot = EXCLUDED.snapshot,
		    started_at = EXCLUDED.started_at, finished_at = EXCLUDED.finished_at,
		    updated_at = NOW()
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		nullString(run.TemplateName),
		run.FTNumber,
		run.InitiatedBy,
		string(run.Status),
		nullString(run.Error),
		snapshot,
		run.StartedAt,
		run.FinishedAt,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// GetRun возвращает снимок run по ID.
func (r *RunRepo) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	return scanRun(r.pool.QueryRow(ctx, `SELECT snapshot FROM runs WHERE id = $1`, id))
}

// ListRuns возвращает снимки, новые первыми.
func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	var limitArg *int
	if limit > 0 {
		limitArg = &limit
	}

	rows, err := r.pool.Query(ctx, `
		SELECT snapshot
		FROM runs
		ORDER BY created_at DESC
		LIMIT $1
	`, limitArg)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row pgx.Row) (*domain.Run, error) {
	var snapshot []byte
	err := row.Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	var run domain.Run
	if err := json.Unmarshal(snapshot, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
