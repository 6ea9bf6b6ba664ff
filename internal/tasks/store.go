package tasks

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Store persists tasks. Written by the action loop only.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates the store and its schema.
func NewStore(db *sql.DB, log zerolog.Logger) (*Store, error) {
	s := &Store{
		db:  db,
		log: log.With().Str("repo", "tasks").Logger(),
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			definition_name TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			last_updated_at INTEGER NOT NULL,
			finished_at INTEGER,
			status TEXT NOT NULL,
			status_message TEXT NOT NULL DEFAULT '',
			resources_taken TEXT NOT NULL DEFAULT '[]',
			task_data TEXT NOT NULL DEFAULT 'null'
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_tasks_started_at ON tasks(started_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tasks schema: %w", err)
	}
	return nil
}

// AddTask inserts a task; an id collision is an error.
func (s *Store) AddTask(t Task) error {
	resources, err := json.Marshal(t.ResourcesTaken)
	if err != nil {
		return fmt.Errorf("failed to encode resources: %w", err)
	}

	query := `
		INSERT INTO tasks
		(id, definition_name, started_at, last_updated_at, finished_at,
		 status, status_message, resources_taken, task_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		t.ID,
		t.DefinitionName,
		t.StartedAt,
		t.LastUpdatedAt,
		nullInt64Ptr(t.FinishedAt),
		string(t.Status),
		t.StatusMessage,
		string(resources),
		string(payloadOrNull(t.TaskData)),
	)
	if err != nil {
		return fmt.Errorf("failed to add task %s: %w", t.ID, err)
	}

	s.log.Info().
		Str("task", t.ID).
		Str("definition", t.DefinitionName).
		Msg("Task created")

	return nil
}

// UpdateTask updates a task by id. A missing row is logged as a warning,
// not returned as an error.
func (s *Store) UpdateTask(t Task) error {
	resources, err := json.Marshal(t.ResourcesTaken)
	if err != nil {
		return fmt.Errorf("failed to encode resources: %w", err)
	}

	query := `
		UPDATE tasks
		SET definition_name = ?, started_at = ?, last_updated_at = ?,
		    finished_at = ?, status = ?, status_message = ?,
		    resources_taken = ?, task_data = ?
		WHERE id = ?
	`

	res, err := s.db.Exec(query,
		t.DefinitionName,
		t.StartedAt,
		t.LastUpdatedAt,
		nullInt64Ptr(t.FinishedAt),
		string(t.Status),
		t.StatusMessage,
		string(resources),
		string(payloadOrNull(t.TaskData)),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", t.ID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.log.Warn().Str("task", t.ID).Msg("Update for unknown task id")
	}

	return nil
}

// GetTask returns a task by id, or nil when it does not exist.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(selectColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return &t, nil
}

// GetActiveTasks returns pre-start and running tasks, oldest first.
func (s *Store) GetActiveTasks() ([]Task, error) {
	query := selectColumns + `
		FROM tasks
		WHERE status IN (?, ?)
		ORDER BY started_at ASC
	`

	rows, err := s.db.Query(query, string(StatusPreStart), string(StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to get active tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// GetAllTasks returns tasks started in [from, to], newest first.
// A nil to means "until now".
func (s *Store) GetAllTasks(from time.Time, to *time.Time) ([]Task, error) {
	query := selectColumns + " FROM tasks WHERE started_at >= ?"
	args := []interface{}{from.UnixMilli()}
	if to != nil {
		query += " AND started_at <= ?"
		args = append(args, to.UnixMilli())
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

const selectColumns = `
	SELECT id, definition_name, started_at, last_updated_at, finished_at,
	       status, status_message, resources_taken, task_data`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var finishedAt sql.NullInt64
	var status, resources, payload string

	err := row.Scan(
		&t.ID,
		&t.DefinitionName,
		&t.StartedAt,
		&t.LastUpdatedAt,
		&finishedAt,
		&status,
		&t.StatusMessage,
		&resources,
		&payload,
	)
	if err != nil {
		return t, err
	}

	t.Status = Status(status)
	if finishedAt.Valid {
		v := finishedAt.Int64
		t.FinishedAt = &v
	}
	if err := json.Unmarshal([]byte(resources), &t.ResourcesTaken); err != nil {
		return t, fmt.Errorf("failed to decode resources: %w", err)
	}
	t.TaskData = json.RawMessage(payload)

	return t, nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return out, nil
}

func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func payloadOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
