package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/fleetwatch/beacond/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS implants (
	implant_id              TEXT PRIMARY KEY,
	address                 TEXT NOT NULL DEFAULT '',
	operating_system        TEXT NOT NULL DEFAULT '',
	beacon_interval_seconds BIGINT NOT NULL CHECK (beacon_interval_seconds > 0),
	first_seen_at           TIMESTAMPTZ NOT NULL,
	last_seen_at            TIMESTAMPTZ NOT NULL,
	missed_beacons          INTEGER NOT NULL DEFAULT 0,
	state                   TEXT NOT NULL,
	total_beacons           BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tasks (
	seq           BIGSERIAL PRIMARY KEY,
	id            TEXT NOT NULL UNIQUE,
	implant_id    TEXT NOT NULL,
	payload       TEXT NOT NULL,
	status        TEXT NOT NULL,
	enqueued_at   TIMESTAMPTZ NOT NULL,
	dispatched_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS tasks_implant_status_seq ON tasks (implant_id, status, seq);

CREATE TABLE IF NOT EXISTS task_types (
	name   TEXT PRIMARY KEY,
	params TEXT[] NOT NULL DEFAULT '{}'
);
`

// OpenPostgres connects to PostgreSQL, tunes the pool and applies the schema
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(3 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err = db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err = db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Printf("Database connected and configured successfully (Max Open: %d, Max Idle: %d)", 25, 10)
	return db, nil
}

// PostgresImplants manages implant persistence in PostgreSQL
type PostgresImplants struct {
	db *sql.DB
}

// NewPostgresImplants creates a PostgreSQL-backed implant store
func NewPostgresImplants(db *sql.DB) *PostgresImplants {
	return &PostgresImplants{db: db}
}

const implantColumns = `implant_id, address, operating_system, beacon_interval_seconds,
	first_seen_at, last_seen_at, missed_beacons, state, total_beacons`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImplant(row rowScanner) (*models.Implant, error) {
	var (
		i     models.Implant
		state string
	)
	err := row.Scan(&i.ImplantID, &i.Address, &i.OperatingSystem, &i.BeaconIntervalSeconds,
		&i.FirstSeenAt, &i.LastSeenAt, &i.MissedBeacons, &state, &i.TotalBeacons)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	i.State = models.LivenessState(state)
	i.FirstSeenAt = i.FirstSeenAt.UTC()
	i.LastSeenAt = i.LastSeenAt.UTC()
	return &i, nil
}

// GetImplant retrieves an implant by id
func (s *PostgresImplants) GetImplant(ctx context.Context, implantID string) (*models.Implant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+implantColumns+` FROM implants WHERE implant_id = $1`, implantID)
	return scanImplant(row)
}

// UpdateImplant applies fn inside a transaction holding a per-implant
// advisory lock, so concurrent writers in other processes serialize too.
func (s *PostgresImplants) UpdateImplant(ctx context.Context, implantID string, fn UpdateFunc) (*models.Implant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, implantID); err != nil {
		return nil, fmt.Errorf("lock implant: %w", err)
	}

	current, err := scanImplant(tx.QueryRowContext(ctx,
		`SELECT `+implantColumns+` FROM implants WHERE implant_id = $1 FOR UPDATE`, implantID))
	if err == ErrNotFound {
		current = nil
	} else if err != nil {
		return nil, err
	}

	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO implants (`+implantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (implant_id) DO UPDATE SET
			address = EXCLUDED.address,
			operating_system = EXCLUDED.operating_system,
			beacon_interval_seconds = EXCLUDED.beacon_interval_seconds,
			first_seen_at = EXCLUDED.first_seen_at,
			last_seen_at = EXCLUDED.last_seen_at,
			missed_beacons = EXCLUDED.missed_beacons,
			state = EXCLUDED.state,
			total_beacons = EXCLUDED.total_beacons`,
		next.ImplantID, next.Address, next.OperatingSystem, next.BeaconIntervalSeconds,
		next.FirstSeenAt, next.LastSeenAt, next.MissedBeacons, string(next.State), next.TotalBeacons)
	if err != nil {
		return nil, fmt.Errorf("upsert implant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// ListImplants retrieves every implant ordered by id
func (s *PostgresImplants) ListImplants(ctx context.Context) ([]*models.Implant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+implantColumns+` FROM implants ORDER BY implant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	implants := []*models.Implant{}
	for rows.Next() {
		i, err := scanImplant(rows)
		if err != nil {
			return nil, err
		}
		implants = append(implants, i)
	}
	return implants, rows.Err()
}

// DeleteImplant removes an implant row
func (s *PostgresImplants) DeleteImplant(ctx context.Context, implantID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM implants WHERE implant_id = $1`, implantID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresImplants) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PostgresTasks manages task queues in PostgreSQL
type PostgresTasks struct {
	db *sql.DB
}

// NewPostgresTasks creates a PostgreSQL-backed task store
func NewPostgresTasks(db *sql.DB) *PostgresTasks {
	return &PostgresTasks{db: db}
}

const taskColumns = `seq, id, implant_id, payload, status, enqueued_at, dispatched_at`

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t          models.Task
		status     string
		dispatched sql.NullTime
	)
	err := row.Scan(&t.Sequence, &t.ID, &t.ImplantID, &t.Payload, &status, &t.EnqueuedAt, &dispatched)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = models.TaskStatusEnum(status)
	t.EnqueuedAt = t.EnqueuedAt.UTC()
	if dispatched.Valid {
		t.DispatchedAt = dispatched.Time.UTC()
	}
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]*models.Task, error) {
	defer rows.Close()
	tasks := []*models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Sequence < tasks[j].Sequence })
	return tasks, nil
}

// AppendTask inserts a pending task; the BIGSERIAL column fixes its order
func (s *PostgresTasks) AppendTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	t := task.Clone()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, implant_id, payload, status, enqueued_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq`,
		t.ID, t.ImplantID, t.Payload, string(models.TaskStatusPending), t.EnqueuedAt).Scan(&t.Sequence)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	t.Status = models.TaskStatusPending
	return t, nil
}

// PopPending flips up to max of the oldest pending rows to dispatched in one
// statement. SKIP LOCKED keeps concurrent drains from returning the same row.
func (s *PostgresTasks) PopPending(ctx context.Context, implantID string, max int, dispatchedAt time.Time) ([]*models.Task, error) {
	if max <= 0 {
		return []*models.Task{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		UPDATE tasks SET status = $3, dispatched_at = $4
		WHERE seq IN (
			SELECT seq FROM tasks
			WHERE implant_id = $1 AND status = $5
			ORDER BY seq
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		implantID, max, string(models.TaskStatusDispatched), dispatchedAt, string(models.TaskStatusPending))
	if err != nil {
		return nil, fmt.Errorf("pop pending: %w", err)
	}
	return collectTasks(rows)
}

// GetTask retrieves a task by id
func (s *PostgresTasks) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
}

// ListTasks retrieves an implant's tasks ordered by sequence
func (s *PostgresTasks) ListTasks(ctx context.Context, implantID string, includeDispatched bool) ([]*models.Task, error) {
	statuses := []string{string(models.TaskStatusPending)}
	if includeDispatched {
		statuses = append(statuses, string(models.TaskStatusDispatched))
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE implant_id = $1 AND status = ANY($2) ORDER BY seq`,
		implantID, pq.Array(statuses))
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

// CancelTask deletes a task that is still pending
func (s *PostgresTasks) CancelTask(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1 AND status = $2`,
		taskID, string(models.TaskStatusPending))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return err
	}
	return ErrTaskDispatched
}

// Ping checks the database connection
func (s *PostgresTasks) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PostgresTaskTypes keeps the task type catalog in PostgreSQL
type PostgresTaskTypes struct {
	db *sql.DB
}

// NewPostgresTaskTypes creates a PostgreSQL-backed task type catalog
func NewPostgresTaskTypes(db *sql.DB) *PostgresTaskTypes {
	return &PostgresTaskTypes{db: db}
}

// CreateTaskType inserts tt unless its name is already taken
func (s *PostgresTaskTypes) CreateTaskType(ctx context.Context, tt *models.TaskType) error {
	params := tt.Params
	if params == nil {
		params = []string{}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_types (name, params) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		tt.Name, pq.Array(params))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicate
	}
	return nil
}

// GetTaskType retrieves a task type by name
func (s *PostgresTaskTypes) GetTaskType(ctx context.Context, name string) (*models.TaskType, error) {
	tt := &models.TaskType{Name: name}
	err := s.db.QueryRowContext(ctx, `SELECT params FROM task_types WHERE name = $1`, name).
		Scan(pq.Array(&tt.Params))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tt, nil
}

// ListTaskTypes retrieves every task type ordered by name
func (s *PostgresTaskTypes) ListTaskTypes(ctx context.Context) ([]*models.TaskType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, params FROM task_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*models.TaskType{}
	for rows.Next() {
		tt := &models.TaskType{}
		if err := rows.Scan(&tt.Name, pq.Array(&tt.Params)); err != nil {
			return nil, err
		}
		out = append(out, tt)
	}
	return out, rows.Err()
}

// DeleteTaskType removes a task type row
func (s *PostgresTaskTypes) DeleteTaskType(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_types WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
