package alerts

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/liquidity-sentinel/internal/tasks"
)

func TestTaskTransitionPostsTerminalStates(t *testing.T) {
	var received []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p payload
		require.NoError(t, json.Unmarshal(body, &p))
		received = append(received, p.Text)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, zerolog.Nop())

	task, err := tasks.New("vault-sync-8453", nil, nil)
	require.NoError(t, err)

	n.TaskTransition(task.Finished(tasks.StatusCompleted, "Withdrew 1.5 ETH"))
	n.TaskTransition(task.Finished(tasks.StatusError, "Transaction timed out"))
	n.TaskTransition(task.WithStatus(tasks.StatusRunning, "Submitted")) // not alerted

	require.Len(t, received, 2)
	assert.Contains(t, received[0], "Withdrew 1.5 ETH")
	assert.Contains(t, received[1], "Transaction timed out")
}

func TestEmptyURLIsNoOp(t *testing.T) {
	n := NewNotifier("", zerolog.Nop())

	task, err := tasks.New("vault-sync-8453", nil, nil)
	require.NoError(t, err)

	// Must not panic or block.
	n.TaskTransition(task.Finished(tasks.StatusCompleted, "ok"))
	n.Error("collector", "rpc down")
}
