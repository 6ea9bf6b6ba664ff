package tasks

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/liquidity-sentinel/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db.Conn(), zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestStoreAddAndGet(t *testing.T) {
	store := newTestStore(t)

	task, err := New("vault-sync-8453", []string{"chain:8453:manager"}, TxData{})
	require.NoError(t, err)

	require.NoError(t, store.AddTask(task))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "vault-sync-8453", got.DefinitionName)
	assert.Equal(t, StatusPreStart, got.Status)
	assert.Equal(t, []string{"chain:8453:manager"}, got.ResourcesTaken)
	assert.Nil(t, got.FinishedAt)
}

func TestStoreAddDuplicateID(t *testing.T) {
	store := newTestStore(t)

	task, err := New("vault-sync-8453", []string{"chain:8453:manager"}, nil)
	require.NoError(t, err)

	require.NoError(t, store.AddTask(task))
	assert.Error(t, store.AddTask(task))
}

func TestStoreGetMissingTask(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetTask("no-such-id")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreUpdateTask(t *testing.T) {
	store := newTestStore(t)

	task, err := New("add-liquidity-10", []string{"chain:10:liquidity"}, TxData{})
	require.NoError(t, err)
	require.NoError(t, store.AddTask(task))

	done := task.Finished(StatusCompleted, "Deposited")
	require.NoError(t, store.UpdateTask(done))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "Deposited", got.StatusMessage)
	require.NotNil(t, got.FinishedAt)
	assert.GreaterOrEqual(t, *got.FinishedAt, got.StartedAt)
}

func TestStoreUpdateUnknownTaskIsNotAnError(t *testing.T) {
	store := newTestStore(t)

	task, err := New("add-liquidity-10", nil, nil)
	require.NoError(t, err)

	// The row was never inserted; the update is a no-op warning.
	assert.NoError(t, store.UpdateTask(task))
}

func TestStoreGetActiveTasks(t *testing.T) {
	store := newTestStore(t)

	older, err := New("vault-sync-8453", []string{"chain:8453:manager"}, nil)
	require.NoError(t, err)
	older.StartedAt = NowMs() - 60_000
	require.NoError(t, store.AddTask(older))

	running, err := New("swap-for-balance-8453", []string{"chain:8453:liquidity"}, nil)
	require.NoError(t, err)
	running = running.WithStatus(StatusRunning, "Submitted")
	require.NoError(t, store.AddTask(running))

	finished, err := New("remove-liquidity-130", []string{"chain:130:liquidity"}, nil)
	require.NoError(t, err)
	finished = finished.Finished(StatusCompleted, "Done")
	require.NoError(t, store.AddTask(finished))

	active, err := store.GetActiveTasks()
	require.NoError(t, err)
	require.Len(t, active, 2)

	// Oldest first.
	assert.Equal(t, older.ID, active[0].ID)
	assert.Equal(t, running.ID, active[1].ID)
}

func TestStoreGetAllTasksRange(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()

	old, err := New("vault-sync-8453", nil, nil)
	require.NoError(t, err)
	old.StartedAt = now.Add(-2 * time.Hour).UnixMilli()
	require.NoError(t, store.AddTask(old))

	recent, err := New("vault-sync-10", nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.AddTask(recent))

	got, err := store.GetAllTasks(now.Add(-time.Hour), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recent.ID, got[0].ID)

	all, err := store.GetAllTasks(now.Add(-3*time.Hour), nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// Newest first.
	assert.Equal(t, recent.ID, all[0].ID)
	assert.Equal(t, old.ID, all[1].ID)
}

func TestStorePayloadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	type payload struct {
		TxData
		AmountWei string `json:"amountWei"`
		TickLower int32  `json:"tickLower"`
	}

	hash := "0xabc123"
	in := payload{
		TxData:    TxData{Hash: &hash},
		AmountWei: "340282366920938463463374607431768211456",
		TickLower: -887220,
	}

	task, err := New("add-liquidity-8453", []string{"chain:8453:liquidity"}, in)
	require.NoError(t, err)
	require.NoError(t, store.AddTask(task))

	got, err := store.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	var out payload
	require.NoError(t, got.DecodeData(&out))
	assert.Equal(t, in, out)

	// The raw payload survives byte-compatible through persistence.
	var a, b interface{}
	require.NoError(t, json.Unmarshal(task.TaskData, &a))
	require.NoError(t, json.Unmarshal(got.TaskData, &b))
	assert.Equal(t, a, b)
}
