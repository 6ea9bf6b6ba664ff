// Package alerts posts noteworthy task transitions to an external
// webhook (typically a chat integration).
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/liquidity-sentinel/internal/tasks"
)

// Notifier posts alerts to a webhook URL. A Notifier with an empty URL
// is a no-op, so callers never need nil checks.
type Notifier struct {
	url  string
	http *http.Client
	log  zerolog.Logger
}

// NewNotifier creates a notifier. url may be empty to disable alerts.
func NewNotifier(url string, log zerolog.Logger) *Notifier {
	return &Notifier{
		url:  url,
		http: &http.Client{Timeout: 5 * time.Second},
		log:  log.With().Str("component", "alerts").Logger(),
	}
}

type payload struct {
	Text string `json:"text"`
}

// TaskTransition reports terminal task states. Completions and errors
// are worth a ping; intermediate states are not.
func (n *Notifier) TaskTransition(t tasks.Task) {
	switch t.Status {
	case tasks.StatusCompleted:
		n.post(fmt.Sprintf("✅ %s: %s", t.DefinitionName, t.StatusMessage))
	case tasks.StatusError, tasks.StatusFailed:
		n.post(fmt.Sprintf("🚨 %s: %s", t.DefinitionName, t.StatusMessage))
	}
}

// Error reports an operational failure outside the task machinery.
func (n *Notifier) Error(component, message string) {
	n.post(fmt.Sprintf("🚨 %s: %s", component, message))
}

func (n *Notifier) post(text string) {
	if n.url == "" {
		return
	}

	body, err := json.Marshal(payload{Text: text})
	if err != nil {
		n.log.Warn().Err(err).Msg("Failed to encode alert")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.log.Warn().Err(err).Msg("Failed to build alert request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		n.log.Warn().Err(err).Msg("Failed to deliver alert")
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.log.Warn().Int("status", resp.StatusCode).Msg("Alert webhook rejected")
	}
}
