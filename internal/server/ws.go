package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/liquidity-sentinel/internal/tasks"
)

// TaskHub fans task transitions out to websocket subscribers. Slow
// subscribers drop events instead of blocking the runner.
type TaskHub struct {
	log zerolog.Logger

	mu     sync.Mutex
	subs   map[chan tasks.Task]struct{}
	closed bool
}

// NewTaskHub creates an empty hub.
func NewTaskHub(log zerolog.Logger) *TaskHub {
	return &TaskHub{
		log:  log.With().Str("component", "task_hub").Logger(),
		subs: make(map[chan tasks.Task]struct{}),
	}
}

// Broadcast delivers a task transition to every subscriber.
func (h *TaskHub) Broadcast(t tasks.Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

// Handle upgrades the request and streams task transitions until the
// client goes away.
func (h *TaskHub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch := h.subscribe()
	if ch == nil {
		return
	}
	defer h.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ch:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, t)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Close disconnects all subscribers.
func (h *TaskHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}

func (h *TaskHub) subscribe() chan tasks.Task {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	ch := make(chan tasks.Task, 16)
	h.subs[ch] = struct{}{}
	return ch
}

func (h *TaskHub) unsubscribe(ch chan tasks.Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}
