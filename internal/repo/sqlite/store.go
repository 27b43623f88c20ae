// Package sqlite — встроенное хранилище для запуска на одном узле.
//
// Реализует repo.Store поверх modernc.org/sqlite (без cgo). Схема
// повторяет PostgreSQL: время хранится в unix-наносекундах, UUID и
// JSON — в TEXT.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/shaiso/Rollout/internal/domain"
	"github.com/shaiso/Rollout/internal/repo"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store — repo.Store на SQLite.
type Store struct {
	db *sql.DB
}

var _ repo.Store = (*Store)(nil)

// Open открывает БД по пути и применяет миграции.
// ":memory:" — БД в памяти (живёт, пока открыт Store).
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// У :memory: каждое соединение видит свою БД.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close закрывает БД.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Templates ---

// SaveTemplate создаёт шаблон или заменяет содержимое существующего.
func (s *Store) SaveTemplate(ctx context.Context, tpl *domain.Template) error {
	body, err := json.Marshal(tpl.Template)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}

	now := time.Now().UTC()
	var createdAt, updatedAt int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO templates (name, ft_number, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE
		SET ft_number = excluded.ft_number, body = excluded.body, updated_at = excluded.updated_at
		RETURNING created_at, updated_at
	`, tpl.Name, tpl.Template.FTNumber(), string(body), now.UnixNano(), now.UnixNano()).
		Scan(&createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}

	tpl.CreatedAt = fromUnix(createdAt)
	tpl.UpdatedAt = fromUnix(updatedAt)
	return nil
}

// GetTemplate возвращает шаблон по имени.
func (s *Store) GetTemplate(ctx context.Context, name string) (*domain.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, body, created_at, updated_at FROM templates WHERE name = ?
	`, name)
	return scanTemplate(row)
}

// ListTemplates возвращает все шаблоны, отсортированные по имени.
func (s *Store) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, body, created_at, updated_at FROM templates ORDER BY name
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
func (s *Store) DeleteTemplate(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return expectAffected(result)
}

// --- Runs ---

// SaveRun создаёт или заменяет снимок run.
func (s *Store) SaveRun(ctx context.Context, run *domain.Run) error {
	snapshot, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, template_name, ft_number, initiated_by, status, error,
		                  snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET status = excluded.status, error = excluded.error,
		    snapshot = excluded.snapshot, updated_at = excluded.updated_at
	`,
		run.ID.String(),
		nullString(run.TemplateName),
		run.FTNumber,
		run.InitiatedBy,
		string(run.Status),
		nullString(run.Error),
		string(snapshot),
		run.CreatedAt.UnixNano(),
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// GetRun возвращает снимок run по ID.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT snapshot FROM runs WHERE id = ?`, id.String())
	return scanRun(row)
}

// ListRuns возвращает снимки, новые первыми.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot FROM runs ORDER BY created_at DESC LIMIT ?
	`, limit)
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

// --- Schedules ---

const scheduleColumns = `id, name, template_name, cron_expr, interval_sec, timezone, enabled,
	next_due_at, last_run_at, last_run_id, created_at, updated_at`

// CreateSchedule создаёт новый schedule.
func (s *Store) CreateSchedule(ctx context.Context, schedule *domain.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, name, template_name, cron_expr, interval_sec, timezone,
		                       enabled, next_due_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		schedule.ID.String(),
		schedule.Name,
		schedule.TemplateName,
		nullString(schedule.CronExpr),
		nullInt(schedule.IntervalSec),
		schedule.Timezone,
		schedule.Enabled,
		unixOrNil(schedule.NextDueAt),
		schedule.CreatedAt.UnixNano(),
		schedule.UpdatedAt.UnixNano(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: schedule %s", repo.ErrAlreadyExists, schedule.Name)
	}
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetSchedule возвращает schedule по ID.
func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id.String())
	return scanSchedule(row)
}

// ListSchedules возвращает список schedules с фильтрацией.
func (s *Store) ListSchedules(ctx context.Context, filter repo.ScheduleFilter) ([]domain.Schedule, error) {
	filter = filter.Normalize()

	var enabled any
	if filter.Enabled != nil {
		enabled = *filter.Enabled
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE (? IS NULL OR template_name = ?)
		  AND (? IS NULL OR enabled = ?)
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`,
		nullString(filter.TemplateName), filter.TemplateName,
		enabled, enabled,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return collectSchedules(rows)
}

// ListDueSchedules возвращает включённые schedules с next_due_at <= now.
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE enabled = 1
		  AND next_due_at IS NOT NULL
		  AND next_due_at <= ?
		ORDER BY next_due_at ASC
		LIMIT ?
	`, now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	return collectSchedules(rows)
}

// UpdateSchedule обновляет schedule.
func (s *Store) UpdateSchedule(ctx context.Context, schedule *domain.Schedule) error {
	var lastRunID any
	if schedule.LastRunID != nil {
		lastRunID = schedule.LastRunID.String()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET name = ?, template_name = ?, cron_expr = ?, interval_sec = ?, timezone = ?,
		    enabled = ?, next_due_at = ?, last_run_at = ?, last_run_id = ?, updated_at = ?
		WHERE id = ?
	`,
		schedule.Name,
		schedule.TemplateName,
		nullString(schedule.CronExpr),
		nullInt(schedule.IntervalSec),
		schedule.Timezone,
		schedule.Enabled,
		unixOrNil(schedule.NextDueAt),
		unixOrNil(schedule.LastRunAt),
		lastRunID,
		schedule.UpdatedAt.UnixNano(),
		schedule.ID.String(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: schedule %s", repo.ErrAlreadyExists, schedule.Name)
	}
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return expectAffected(result)
}

// DeleteSchedule удаляет schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return expectAffected(result)
}

// SetScheduleEnabled включает/выключает schedule.
func (s *Store) SetScheduleEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET enabled = ?, updated_at = ? WHERE id = ?
	`, enabled, time.Now().UnixNano(), id.String())
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	return expectAffected(result)
}

// --- Helpers ---

// rowScanner — общий интерфейс *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*domain.Template, error) {
	var tpl domain.Template
	var body string
	var createdAt, updatedAt int64

	err := row.Scan(&tpl.Name, &body, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}

	if err := json.Unmarshal([]byte(body), &tpl.Template); err != nil {
		return nil, fmt.Errorf("unmarshal template %s: %w", tpl.Name, err)
	}
	tpl.CreatedAt = fromUnix(createdAt)
	tpl.UpdatedAt = fromUnix(updatedAt)
	return &tpl, nil
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var snapshot string
	err := row.Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	var run domain.Run
	if err := json.Unmarshal([]byte(snapshot), &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

func collectSchedules(rows *sql.Rows) ([]domain.Schedule, error) {
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *schedule)
	}
	return schedules, rows.Err()
}

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var (
		s                    domain.Schedule
		id                   string
		cronExpr, lastRunID  sql.NullString
		intervalSec          sql.NullInt64
		nextDueAt, lastRunAt sql.NullInt64
		createdAt, updatedAt int64
	)

	err := row.Scan(
		&id,
		&s.Name,
		&s.TemplateName,
		&cronExpr,
		&intervalSec,
		&s.Timezone,
		&s.Enabled,
		&nextDueAt,
		&lastRunAt,
		&lastRunID,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	if s.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse schedule id: %w", err)
	}
	s.CronExpr = cronExpr.String
	s.IntervalSec = int(intervalSec.Int64)
	s.NextDueAt = nullUnix(nextDueAt)
	s.LastRunAt = nullUnix(lastRunAt)
	if lastRunID.Valid {
		runID, err := uuid.Parse(lastRunID.String)
		if err != nil {
			return nil, fmt.Errorf("parse last run id: %w", err)
		}
		s.LastRunID = &runID
	}
	s.CreatedAt = fromUnix(createdAt)
	s.UpdatedAt = fromUnix(updatedAt)
	return &s, nil
}

func expectAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// isUniqueViolation распознаёт ошибку UNIQUE constraint по тексту:
// драйвер не экспортирует коды расширенных ошибок стабильно.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func fromUnix(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func nullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(i int) any {
	if i == 0 {
		return nil
	}
	return i
}
