package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/splax/lovablebridge/internal/domain"
)

// DefaultRevert is how long the received status is shown before the relay
// returns to listening.
const DefaultRevert = 3 * time.Second

// Status is the displayed relay state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusListening Status = "listening"
	StatusReceived  Status = "received"
	StatusError     Status = "error"
)

// Relay follows one project's notifications from a Source.
type Relay struct {
	projectID string
	source    Source
	clock     clockwork.Clock
	revert    time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	status  Status
	last    *domain.WebhookPayload
	lastErr error
	subs    map[int]func(domain.WebhookPayload)
	nextSub int
	active  bool
	stop    func()
	timer   clockwork.Timer
	// gen invalidates revert callbacks that fired before being stopped.
	gen uint64
}

// Option customises a Relay.
type Option func(*Relay)

// WithClock overrides the clock used for the revert timer.
func WithClock(c clockwork.Clock) Option {
	return func(r *Relay) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithRevert overrides the revert delay.
func WithRevert(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.revert = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRelay returns an idle relay for projectID.
func NewRelay(projectID string, source Source, opts ...Option) *Relay {
	r := &Relay{
		projectID: projectID,
		source:    source,
		clock:     clockwork.NewRealClock(),
		revert:    DefaultRevert,
		logger:    slog.Default(),
		status:    StatusIdle,
		subs:      make(map[int]func(domain.WebhookPayload)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start registers the relay's single listener on the source.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return nil
	}
	r.active = true
	r.status = StatusListening
	r.mu.Unlock()

	stop, err := r.source.Listen(ctx, Listener{OnPayload: r.handle, OnError: r.fail})

	r.mu.Lock()
	if err != nil {
		r.active = false
		r.status = StatusError
		r.lastErr = err
		r.mu.Unlock()
		return err
	}
	if !r.active {
		// Closed while the listener was being registered.
		r.mu.Unlock()
		stop()
		return nil
	}
	r.stop = stop
	r.mu.Unlock()
	r.logger.Debug("webhook relay listening", "project_id", r.projectID)
	return nil
}

// Subscribe registers fn for matching payloads and returns a function
// removing it.
func (r *Relay) Subscribe(fn func(domain.WebhookPayload)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *Relay) handle(payload domain.WebhookPayload) {
	if payload.ProjectID != r.projectID {
		return
	}
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}
	p := payload
	r.last = &p
	r.status = StatusReceived
	r.lastErr = nil
	if r.timer != nil {
		r.timer.Stop()
	}
	r.gen++
	gen := r.gen
	r.timer = r.clock.AfterFunc(r.revert, func() { r.revertToListening(gen) })
	subs := make([]func(domain.WebhookPayload), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	r.logger.Info("webhook received", "project_id", payload.ProjectID, "event", payload.Event)
	for _, fn := range subs {
		fn(payload)
	}
}

func (r *Relay) revertToListening(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen {
		return
	}
	if r.status == StatusReceived {
		r.status = StatusListening
	}
	r.timer = nil
}

func (r *Relay) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return
	}
	r.status = StatusError
	r.lastErr = err
	r.logger.Warn("webhook source error", "project_id", r.projectID, "error", err)
}

// Close removes the listener, cancels a pending revert and resets the
// status to idle.
func (r *Relay) Close() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.active = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.gen++
	r.status = StatusIdle
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Status returns the displayed status.
func (r *Relay) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Last returns the most recent matching payload.
func (r *Relay) Last() (domain.WebhookPayload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return domain.WebhookPayload{}, false
	}
	return *r.last, true
}

// Err returns the last source error while the relay is in the error state.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// StatusText renders the status for display.
func (r *Relay) StatusText() string {
	switch r.Status() {
	case StatusListening:
		return "Listening for updates"
	case StatusReceived:
		return "Update received"
	case StatusError:
		return "Webhook error"
	default:
		return "Webhook inactive"
	}
}

// Describe renders a one-line summary of payload, using data.message when
// the sender supplied one.
func Describe(payload domain.WebhookPayload) string {
	var data struct {
		Message string `json:"message"`
	}
	if len(payload.Data) > 0 {
		_ = json.Unmarshal(payload.Data, &data)
	}
	if data.Message == "" {
		data.Message = "Project updated"
	}
	return string(payload.Event) + ": " + data.Message
}
