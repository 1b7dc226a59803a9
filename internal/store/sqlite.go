package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"remindbot/internal/job"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const jobColumns = `id, family, owner_id, chat_id, payload, status, schedule, timezone,
	next_run_at, last_run_at, locked_at, lock_expires_at, locked_by, created_at, updated_at`

func (s *sqliteStore) Create(ctx context.Context, j *job.Job) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return err
	}
	schedule, err := json.Marshal(j.Schedule)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(`+jobColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, string(j.Family), j.OwnerID, j.ChatID, string(payload), string(j.Status),
		string(schedule), j.Timezone, j.NextRunAt.UnixMilli(), msOrNil(j.LastRunAt),
		nil, nil, nil, j.CreatedAt.UnixMilli(), j.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (s *sqliteStore) FindDue(ctx context.Context, family job.Family, statuses []job.Status, now time.Time, limit int) ([]*job.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 25
	}
	args := []any{string(family)}
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, now.UnixMilli(), limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE family = ? AND status IN (`+placeholders(len(statuses))+`) AND next_run_at <= ?
		 ORDER BY next_run_at ASC
		 LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Claim(ctx context.Context, id, instanceID string, statuses []job.Status, now time.Time, ttl time.Duration) (bool, error) {
	if len(statuses) == 0 || ttl <= 0 {
		return false, nil
	}
	args := []any{now.UnixMilli(), now.Add(ttl).UnixMilli(), instanceID, now.UnixMilli(), id}
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, now.UnixMilli())

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET locked_at = ?, lock_expires_at = ?, locked_by = ?, updated_at = ?
		 WHERE id = ?
		   AND status IN (`+placeholders(len(statuses))+`)
		   AND (locked_by IS NULL OR lock_expires_at <= ?)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *sqliteStore) Release(ctx context.Context, id, instanceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET locked_at = NULL, lock_expires_at = NULL, locked_by = NULL, updated_at = ?
		 WHERE id = ? AND locked_by = ?`,
		time.Now().UnixMilli(), id, instanceID)
	return err
}

func (s *sqliteStore) Patch(ctx context.Context, id string, p Patch) error {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if p.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, p.NextRunAt.UnixMilli())
	}
	if p.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, p.LastRunAt.UnixMilli())
	}
	if p.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*p.Status))
	}
	if p.Schedule != nil {
		b, err := json.Marshal(p.Schedule)
		if err != nil {
			return err
		}
		sets = append(sets, "schedule = ?")
		args = append(args, string(b))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UnixMilli(), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = ?, locked_at = NULL, lock_expires_at = NULL, locked_by = NULL, updated_at = ?
		 WHERE id = ?`,
		string(job.StatusDeleted), time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// ---- row mapping ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*job.Job, error) {
	var (
		j        job.Job
		family   string
		payload  string
		status   string
		schedule string
		nextMS   int64
		lastMS   sql.NullInt64
		lockAt   sql.NullInt64
		lockExp  sql.NullInt64
		lockBy   sql.NullString
		created  int64
		updated  int64
	)
	err := r.Scan(&j.ID, &family, &j.OwnerID, &j.ChatID, &payload, &status, &schedule,
		&j.Timezone, &nextMS, &lastMS, &lockAt, &lockExp, &lockBy, &created, &updated)
	if err != nil {
		return nil, err
	}
	j.Family = job.Family(family)
	j.Status = job.Status(status)
	if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
		return nil, fmt.Errorf("job %s: bad payload: %w", j.ID, err)
	}
	if err := json.Unmarshal([]byte(schedule), &j.Schedule); err != nil {
		return nil, fmt.Errorf("job %s: bad schedule: %w", j.ID, err)
	}
	j.NextRunAt = time.UnixMilli(nextMS)
	if lastMS.Valid {
		j.LastRunAt = time.UnixMilli(lastMS.Int64)
	}
	if lockBy.Valid && lockBy.String != "" {
		j.Lock = &job.Lock{
			LockedAt:  time.UnixMilli(lockAt.Int64),
			ExpiresAt: time.UnixMilli(lockExp.Int64),
			LockedBy:  lockBy.String,
		}
	}
	j.CreatedAt = time.UnixMilli(created)
	j.UpdatedAt = time.UnixMilli(updated)
	return &j, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func msOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}
