// Package tasks implements the persistent, resource-locked task machinery:
// the task model, its store, the transaction lifecycle helper, and the
// action runner that drives definitions through their lifecycle.
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusPreStart  Status = "pre-start"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
	StatusError     Status = "error"
)

// Active reports whether the task still wants runner attention.
func (s Status) Active() bool {
	return s == StatusPreStart || s == StatusRunning
}

// Terminal reports whether the task reached a final state.
func (s Status) Terminal() bool {
	return !s.Active()
}

// Task is one unit of on-chain work moving through its lifecycle.
// Timestamps are epoch milliseconds; FinishedAt is nil exactly while the
// task is active.
type Task struct {
	ID             string          `json:"id"`
	DefinitionName string          `json:"definitionName"`
	StartedAt      int64           `json:"startedAt"`
	LastUpdatedAt  int64           `json:"lastUpdatedAt"`
	FinishedAt     *int64          `json:"finishedAt,omitempty"`
	Status         Status          `json:"status"`
	StatusMessage  string          `json:"statusMessage"`
	ResourcesTaken []string        `json:"resourcesTaken"`
	TaskData       json.RawMessage `json:"taskData"`
}

// TxData is the shared tail of payloads for actions that submit a
// transaction.
type TxData struct {
	Hash *string `json:"hash"`
}

// New creates a pre-start task for a definition, snapshotting the given
// payload.
func New(definitionName string, resources []string, data interface{}) (Task, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Task{}, fmt.Errorf("failed to encode task data: %w", err)
	}

	now := NowMs()
	return Task{
		ID:             uuid.NewString(),
		DefinitionName: definitionName,
		StartedAt:      now,
		LastUpdatedAt:  now,
		Status:         StatusPreStart,
		StatusMessage:  "Created",
		ResourcesTaken: resources,
		TaskData:       payload,
	}, nil
}

// Touched returns a copy with LastUpdatedAt advanced.
func (t Task) Touched() Task {
	t.LastUpdatedAt = NowMs()
	return t
}

// WithStatus returns a copy moved to an active status with a message.
func (t Task) WithStatus(status Status, message string) Task {
	t.Status = status
	t.StatusMessage = message
	t.LastUpdatedAt = NowMs()
	return t
}

// Finished returns a copy moved to a terminal status, setting FinishedAt.
func (t Task) Finished(status Status, message string) Task {
	now := NowMs()
	t.Status = status
	t.StatusMessage = message
	t.LastUpdatedAt = now
	t.FinishedAt = &now
	return t
}

// WithData returns a copy carrying a freshly encoded payload.
func (t Task) WithData(data interface{}) (Task, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return t, fmt.Errorf("failed to encode task data: %w", err)
	}
	t.TaskData = payload
	return t, nil
}

// DecodeData decodes the task payload into out.
func (t Task) DecodeData(out interface{}) error {
	if len(t.TaskData) == 0 {
		return fmt.Errorf("task %s has no payload", t.ID)
	}
	if err := json.Unmarshal(t.TaskData, out); err != nil {
		return fmt.Errorf("failed to decode task data: %w", err)
	}
	return nil
}

// NowMs returns the current time in epoch milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
