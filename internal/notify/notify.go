// Package notify implements the Notifications surface: on
// every filled order, profit milestone, credential failure, orphan
// repair, and bot stop, the core emits a structured Event to an injected,
// pluggable Sink set, generalized from a single alert-payload shape to
// the {user_id, bot_id, kind, payload} event the grid core needs.
package notify

import (
	"context"
	"sync"
	"time"

	"gridcore/internal/corelog"
)

// Kind enumerates the event kinds the core emits.
type Kind string

const (
	KindOrderFilled      Kind = "order_filled"
	KindProfitMilestone  Kind = "profit_milestone"
	KindCredentialError  Kind = "credential_error"
	KindOrphanRepair     Kind = "orphan_repair"
	KindBotStopped       Kind = "bot_stopped"
	KindHealthIssue      Kind = "health_issue"
)

// Event is the structured payload delivered to every Sink.
type Event struct {
	UserID    int64
	BotID     int64
	Kind      Kind
	Message   string
	Payload   map[string]string
	Timestamp time.Time
}

// Sink is one notification destination: a chat adapter, a log, a queue.
type Sink interface {
	Send(ctx context.Context, event Event) error
	Name() string
}

// Hub fans an Event out to every registered Sink concurrently, bounding
// each delivery with a timeout so a slow sink never blocks the trading
// path.
type Hub struct {
	sinks  []Sink
	logger corelog.Logger
	mu     sync.RWMutex
}

// NewHub builds a Hub with no sinks registered.
func NewHub(logger corelog.Logger) *Hub {
	return &Hub{logger: logger.WithField("component", "notify_hub")}
}

// AddSink registers an additional delivery destination.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
	h.logger.Info("registered notification sink", "name", s.Name())
}

// Emit delivers event to every registered sink. It does not block on
// delivery completing; each sink gets a 10s budget and failures are
// logged, never propagated to the caller.
func (h *Hub) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	sinks := make([]Sink, len(h.sinks))
	copy(sinks, h.sinks)
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sinks {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := sink.Send(sendCtx, event); err != nil {
				h.logger.Error("notification delivery failed", "sink", sink.Name(), "kind", event.Kind, "error", err)
			}
		}(s)
	}
	// Async by design: alerting never blocks the trading path.
}
