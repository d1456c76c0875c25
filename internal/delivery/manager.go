// Package delivery forwards persisted chat events to downstream consumers
// (RabbitMQ, an HTTP webhook) with bounded retries.
package delivery

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"

	"chatbridge/internal/services"
)

// Status of a tracked event.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Event is one forwarded payload.
type Event struct {
	ID           string          `json:"id"`
	EventType    string          `json:"eventType"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"createdAt"`
	AttemptCount int             `json:"attemptCount"`
	Status       Status          `json:"status"`
	LastError    string          `json:"lastError,omitempty"`

	// delivered records channels that already accepted the event.
	delivered   map[string]bool
	nextAttempt time.Time
	inFlight    bool
}

// Result is the outcome of one channel attempt.
type Result struct {
	Channel  string `json:"channel"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"durationMs"`
}

// Channel is a delivery target.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, ev *Event) error
}

// Options tunes retries.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
	Timeout      time.Duration
}

// Manager delivers events to every channel in parallel. Events that fail on
// some channel are retried on those channels after RetryBackoff until
// MaxRetries attempts were made.
type Manager struct {
	mu       sync.RWMutex
	pending  map[string]*Event
	channels []Channel
	opts     Options

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ services.EventForwarder = (*Manager)(nil)

// NewManager creates a manager. Zero options mean 3 attempts, 2s backoff and
// a 10s timeout per attempt.
func NewManager(opts Options, channels ...Channel) *Manager {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Manager{
		pending:  make(map[string]*Event),
		channels: channels,
		opts:     opts,
		stop:     make(chan struct{}),
	}
}

// Start runs the retry loop until Stop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.opts.RetryBackoff)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.retryDue()
			case <-m.stop:
				return
			}
		}
	}()
	log.Info().Int("channels", len(m.channels)).Int("maxRetries", m.opts.MaxRetries).Dur("timeout", m.opts.Timeout).Msg("Delivery manager initialized")
}

// Stop ends the retry loop and waits for in-flight attempts or ctx.
func (m *Manager) Stop(ctx context.Context) {
	select {
	case <-m.stop:
		return
	default:
		close(m.stop)
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Int("pending", m.PendingCount()).Msg("Delivery manager stopped with attempts in flight")
	}
}

// Forward queues payload for delivery. It never blocks on the channels.
func (m *Manager) Forward(eventType string, payload any) {
	if len(m.channels) == 0 {
		return
	}
	select {
	case <-m.stop:
		log.Warn().Str("eventType", eventType).Msg("Delivery manager stopped, dropping event")
		return
	default:
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("Failed to encode event for delivery")
		return
	}
	ev := &Event{
		ID:        xid.New().String(),
		EventType: eventType,
		Payload:   data,
		CreatedAt: time.Now(),
		Status:    StatusPending,
		delivered: map[string]bool{},
		inFlight:  true,
	}
	m.mu.Lock()
	m.pending[ev.ID] = ev
	m.mu.Unlock()

	log.Debug().Str("eventID", ev.ID).Str("eventType", eventType).Msg("Starting parallel delivery")
	m.wg.Add(1)
	go m.process(ev)
}

func (m *Manager) process(ev *Event) {
	defer m.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.Timeout)
	defer cancel()

	m.mu.RLock()
	var targets []Channel
	for _, ch := range m.channels {
		if !ev.delivered[ch.Name()] {
			targets = append(targets, ch)
		}
	}
	m.mu.RUnlock()

	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	for i, ch := range targets {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			start := time.Now()
			err := ch.Deliver(ctx, ev)
			results[i] = Result{Channel: ch.Name(), Success: err == nil, Duration: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Error = err.Error()
			}
		}(i, ch)
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	ev.inFlight = false
	ev.AttemptCount++
	allSuccess := true
	for _, r := range results {
		if r.Success {
			ev.delivered[r.Channel] = true
			continue
		}
		allSuccess = false
		ev.LastError = r.Channel + ": " + r.Error
		log.Warn().Str("eventID", ev.ID).Str("channel", r.Channel).Str("error", r.Error).Int64("durationMs", r.Duration).Msg("Channel delivery failed")
	}

	switch {
	case allSuccess:
		ev.Status = StatusDelivered
		delete(m.pending, ev.ID)
		log.Debug().Str("eventID", ev.ID).Int("attempts", ev.AttemptCount).Msg("Event delivered to all channels")
	case ev.AttemptCount >= m.opts.MaxRetries:
		ev.Status = StatusFailed
		delete(m.pending, ev.ID)
		log.Error().Str("eventID", ev.ID).Str("eventType", ev.EventType).Int("attemptCount", ev.AttemptCount).Str("lastError", ev.LastError).Msg("Event delivery failed permanently")
	default:
		ev.nextAttempt = time.Now().Add(m.opts.RetryBackoff)
		log.Info().Str("eventID", ev.ID).Int("attemptCount", ev.AttemptCount).Int("maxRetries", m.opts.MaxRetries).Msg("Event delivery partially failed, will retry")
	}
}

func (m *Manager) retryDue() {
	now := time.Now()
	m.mu.Lock()
	var due []*Event
	for _, ev := range m.pending {
		if !ev.inFlight && ev.Status == StatusPending && !now.Before(ev.nextAttempt) {
			ev.inFlight = true
			due = append(due, ev)
		}
	}
	m.mu.Unlock()

	for _, ev := range due {
		select {
		case <-m.stop:
			return
		default:
		}
		m.wg.Add(1)
		go m.process(ev)
	}
}

// Retry resets the attempt count of a pending event and delivers it again
// now. It reports false for unknown, in-flight or already finished events.
func (m *Manager) Retry(id string) bool {
	select {
	case <-m.stop:
		return false
	default:
	}
	m.mu.Lock()
	ev, ok := m.pending[id]
	if !ok || ev.inFlight {
		m.mu.Unlock()
		return false
	}
	ev.AttemptCount = 0
	ev.Status = StatusPending
	ev.inFlight = true
	m.mu.Unlock()

	log.Info().Str("eventID", id).Msg("Manual retry triggered for event")
	m.wg.Add(1)
	go m.process(ev)
	return true
}

// RetryAll makes every pending event due immediately and returns how many
// were triggered.
func (m *Manager) RetryAll() int {
	m.mu.Lock()
	n := 0
	for _, ev := range m.pending {
		if !ev.inFlight {
			ev.nextAttempt = time.Time{}
			n++
		}
	}
	m.mu.Unlock()
	m.retryDue()
	return n
}

// Pending returns up to limit copies of pending events, oldest first,
// optionally restricted to one event type, and how many matched in total.
func (m *Manager) Pending(eventType string, limit int) (int, []Event) {
	m.mu.RLock()
	matched := make([]Event, 0, len(m.pending))
	for _, ev := range m.pending {
		if eventType == "" || ev.EventType == eventType {
			matched = append(matched, *ev)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	if limit > 0 && len(matched) > limit {
		return len(matched), matched[:limit]
	}
	return len(matched), matched
}

// PendingCount is the number of events not yet delivered or given up on.
func (m *Manager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

// Lookup returns a copy of a pending event.
func (m *Manager) Lookup(id string) (Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.pending[id]
	if !ok {
		return Event{}, false
	}
	return *ev, true
}

// Snapshot describes the manager for the status endpoint.
type Snapshot struct {
	Status         string   `json:"status"`
	Channels       []string `json:"channels"`
	PendingEvents  int      `json:"pending_events"`
	MaxRetries     int      `json:"max_retries"`
	TimeoutMs      int64    `json:"timeout_ms"`
	RetryBackoffMs int64    `json:"retry_backoff_ms"`
}

func (m *Manager) Snapshot() Snapshot {
	names := make([]string, len(m.channels))
	for i, ch := range m.channels {
		names[i] = ch.Name()
	}
	status := "running"
	if len(m.channels) == 0 {
		status = "disabled"
	}
	return Snapshot{
		Status:         status,
		Channels:       names,
		PendingEvents:  m.PendingCount(),
		MaxRetries:     m.opts.MaxRetries,
		TimeoutMs:      m.opts.Timeout.Milliseconds(),
		RetryBackoffMs: m.opts.RetryBackoff.Milliseconds(),
	}
}
