package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pingup-app/eventd/internal/model"
)

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// PostgresStore persists task instances in the tasks table. Upserting by
// primary key makes Save atomic per id; Postgres row locking serializes
// concurrent saves to the same instance.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// step_cursor instead of cursor: CURSOR is a reserved word in Postgres.
const taskColumns = `id, workflow_name, payload, status, status_message, step_cursor, wake_at, step_results, created_at, updated_at`

func (s *PostgresStore) Save(ctx context.Context, inst *model.TaskInstance) error {
	results, err := json.Marshal(inst.StepResults)
	if err != nil {
		return fmt.Errorf("marshal step results: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO tasks (id, workflow_name, payload, status, status_message, step_cursor, wake_at, step_results, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   status_message = EXCLUDED.status_message,
		   step_cursor = EXCLUDED.step_cursor,
		   wake_at = EXCLUDED.wake_at,
		   step_results = EXCLUDED.step_results,
		   updated_at = EXCLUDED.updated_at`,
		inst.ID, inst.WorkflowName, []byte(inst.Payload), inst.Status, inst.StatusMessage,
		inst.Cursor, inst.WakeAt, results, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", inst.ID, err)
	}
	return nil
}

func (s *PostgresStore) LoadDue(ctx context.Context, now time.Time) ([]*model.TaskInstance, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = $1 OR (status = $2 AND wake_at <= $3)
		 ORDER BY wake_at ASC NULLS FIRST, created_at ASC`,
		model.TaskPending, model.TaskSleeping, now,
	)
	if err != nil {
		return nil, fmt.Errorf("load due tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

func (s *PostgresStore) LoadByID(ctx context.Context, id string) (*model.TaskInstance, error) {
	row := s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	inst, err := scanTask(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	return inst, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status string, limit int) ([]*model.TaskInstance, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
		status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status %s: %w", status, err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

func scanTasks(rows pgx.Rows) ([]*model.TaskInstance, error) {
	var tasks []*model.TaskInstance
	for rows.Next() {
		inst, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(scan func(dest ...any) error) (*model.TaskInstance, error) {
	var (
		inst    model.TaskInstance
		payload []byte
		results []byte
	)
	err := scan(&inst.ID, &inst.WorkflowName, &payload, &inst.Status, &inst.StatusMessage,
		&inst.Cursor, &inst.WakeAt, &results, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inst.Payload = payload
	if len(results) > 0 {
		if err := json.Unmarshal(results, &inst.StepResults); err != nil {
			return nil, fmt.Errorf("unmarshal step results: %w", err)
		}
	}
	if inst.StepResults == nil {
		inst.StepResults = model.StepResults{}
	}
	return &inst, nil
}
