// Package syncmon polls the repository sync status of the selected project.
package syncmon

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/splax/lovablebridge/internal/domain"
)

const (
	// DefaultInterval is the polling cadence.
	DefaultInterval = 30 * time.Second

	// TimestampLayout renders sync times in the familiar month/day/year
	// form.
	TimestampLayout = "1/2/2006, 3:04:05 PM"

	msgLoadFailed = "Failed to load sync status"
	msgSyncFailed = "Sync failed. Please try again."
)

// ErrSyncInProgress rejects a manual sync while another one is running or
// the remote reports an ongoing sync.
var ErrSyncInProgress = errors.New("sync already in progress")

// State is the monitor lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
	StateError   State = "error"
)

// API is the subset of the remote client the monitor calls.
type API interface {
	GetSyncStatus(ctx context.Context, id string) (domain.SyncStatus, error)
	SyncProject(ctx context.Context, id string, force bool) (domain.SyncStatus, error)
}

// Snapshot is a consistent view of the monitor.
type Snapshot struct {
	ProjectID string
	State     State
	Status    *domain.SyncStatus
	Error     string
	Syncing   bool
}

// Monitor polls one project. Every request takes a sequence number when it
// is issued and its response is applied only if no newer response has been
// applied already.
type Monitor struct {
	projectID string
	api       API
	clock     clockwork.Clock
	interval  time.Duration
	location  *time.Location
	logger    *slog.Logger
	onUpdate  func(Snapshot)

	mu      sync.Mutex
	state   State
	status  *domain.SyncStatus
	errMsg  string
	syncing bool
	issued  uint64
	applied uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithClock overrides the clock driving the poll ticker.
func WithClock(c clockwork.Clock) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithInterval overrides the polling cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLocation sets the zone used by StatusText.
func WithLocation(loc *time.Location) Option {
	return func(m *Monitor) {
		if loc != nil {
			m.location = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// OnUpdate registers a callback invoked after every applied change.
func OnUpdate(fn func(Snapshot)) Option {
	return func(m *Monitor) { m.onUpdate = fn }
}

// New constructs an idle monitor for projectID.
func New(projectID string, api API, opts ...Option) *Monitor {
	m := &Monitor{
		projectID: projectID,
		api:       api,
		clock:     clockwork.NewRealClock(),
		interval:  DefaultInterval,
		location:  time.Local,
		logger:    slog.Default(),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start fetches the status immediately and then once per interval until
// Stop is called or ctx ends. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	ticker := m.clock.NewTicker(m.interval)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.state = StatePolling
	m.mu.Unlock()

	m.logger.Debug("sync monitor started", "project_id", m.projectID, "interval", m.interval)
	go m.loop(loopCtx, ticker, done)
}

func (m *Monitor) loop(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.poll(ctx)
		}
	}
}

// Stop halts polling and waits for the loop to exit. No fetches are issued
// afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.mu.Lock()
	m.state = StateIdle
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.logger.Debug("sync monitor stopped", "project_id", m.projectID)
	m.notify(snap)
}

func (m *Monitor) poll(ctx context.Context) {
	seq := m.nextSeq()
	status, err := m.api.GetSyncStatus(ctx, m.projectID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Error("failed to load sync status", "project_id", m.projectID, "error", err)
	}
	m.apply(seq, status, err, msgLoadFailed, true)
}

// Sync triggers a sync outside the polling cadence and replaces the cached
// status with the response.
func (m *Monitor) Sync(ctx context.Context, force bool) (domain.SyncStatus, error) {
	m.mu.Lock()
	if m.syncing || (m.status != nil && m.status.InProgress) {
		m.mu.Unlock()
		return domain.SyncStatus{}, ErrSyncInProgress
	}
	m.syncing = true
	m.errMsg = ""
	m.issued++
	seq := m.issued
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)

	status, err := m.api.SyncProject(ctx, m.projectID, force)

	m.mu.Lock()
	m.syncing = false
	m.mu.Unlock()
	if err != nil {
		m.logger.Error("sync error", "project_id", m.projectID, "error", err)
		m.apply(seq, status, err, msgSyncFailed, false)
		return domain.SyncStatus{}, err
	}
	m.apply(seq, status, nil, "", false)
	return status, nil
}

func (m *Monitor) nextSeq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issued++
	return m.issued
}

func (m *Monitor) apply(seq uint64, status domain.SyncStatus, err error, failMsg string, fromPoll bool) {
	m.mu.Lock()
	if seq <= m.applied {
		m.mu.Unlock()
		m.logger.Debug("dropping stale sync response", "project_id", m.projectID, "seq", seq)
		return
	}
	m.applied = seq
	running := m.cancel != nil
	if err != nil {
		m.errMsg = failMsg
		if fromPoll && running {
			m.state = StateError
		}
	} else {
		s := status
		m.status = &s
		m.errMsg = ""
		if running {
			m.state = StatePolling
		}
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.notify(snap)
}

// Snapshot returns the current view.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Snapshot {
	snap := Snapshot{ProjectID: m.projectID, State: m.state, Error: m.errMsg, Syncing: m.syncing}
	if m.status != nil {
		s := *m.status
		snap.Status = &s
	}
	return snap
}

func (m *Monitor) notify(snap Snapshot) {
	if m.onUpdate != nil {
		m.onUpdate(snap)
	}
}

// StatusText renders the cached status for display.
func (m *Monitor) StatusText() string {
	return StatusText(m.Snapshot().Status, m.location)
}

// StatusText renders status for display in loc.
func StatusText(status *domain.SyncStatus, loc *time.Location) string {
	switch {
	case status == nil:
		return "Unknown"
	case status.InProgress:
		return "Syncing..."
	case status.LastSync != nil:
		if loc == nil {
			loc = time.Local
		}
		return "Last synced: " + status.LastSync.In(loc).Format(TimestampLayout)
	default:
		return "Never synced"
	}
}
