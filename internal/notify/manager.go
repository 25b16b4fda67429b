// Package notify implements the notification subscription flow: permission,
// delivery worker readiness, token exchange and registration, and the alert
// threshold setting that depends on the cached token.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrPermissionDenied means notifications are blocked for this client.
	// It is terminal until the permission is changed out of band.
	ErrPermissionDenied = errors.New("notification permission denied")
	// ErrPermissionDismissed means the prompt was closed without a decision.
	ErrPermissionDismissed = errors.New("notification permission not granted")
	// ErrWorkerNotReady means the delivery worker never became active.
	ErrWorkerNotReady = errors.New("notification worker not ready")
	// ErrNoToken is returned by SaveThreshold before a token is cached.
	ErrNoToken = errors.New("no notification token")
	// ErrInvalidThreshold is returned for thresholds outside 0–100.
	ErrInvalidThreshold = errors.New("alert threshold out of range")
	// ErrUnsupported means the client has no delivery worker configured.
	ErrUnsupported = errors.New("notifications not supported")
)

// State is the subscription state. It only moves forward, except that
// StateDenied is terminal.
type State int

const (
	StateUnrequested State = iota
	StateGrantedNoToken
	StateTokenActive
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateGrantedNoToken:
		return "GRANTED_NO_TOKEN"
	case StateTokenActive:
		return "TOKEN_ACTIVE"
	case StateDenied:
		return "DENIED"
	default:
		return "UNREQUESTED"
	}
}

// Prompter reports and requests the notification permission.
type Prompter interface {
	Permission() Permission
	Request(ctx context.Context) (Permission, error)
}

// Registrar is the delivery worker registration. Ready blocks until the
// registration is active and returns its id.
type Registrar interface {
	Ready(ctx context.Context) (string, error)
}

// Backend is the server side of the subscription. feed.Client implements it.
type Backend interface {
	ExchangeToken(ctx context.Context, registration string) (string, error)
	RegisterToken(ctx context.Context, token string) error
	SetAlertThreshold(ctx context.Context, token string, threshold int) error
}

// Manager runs the subscription state machine.
type Manager struct {
	prompter     Prompter
	registrar    Registrar
	backend      Backend
	readyTimeout time.Duration
	log          *slog.Logger

	reqMu sync.Mutex // serializes RequestPermission

	mu        sync.Mutex
	state     State
	token     string
	threshold int
	hasSaved  bool
}

// NewManager creates a manager. A nil registrar makes every request fail
// with ErrUnsupported.
func NewManager(prompter Prompter, registrar Registrar, backend Backend, readyTimeout time.Duration, log *slog.Logger) *Manager {
	m := &Manager{
		prompter:     prompter,
		registrar:    registrar,
		backend:      backend,
		readyTimeout: readyTimeout,
		log:          log.With("component", "notify"),
	}
	if prompter != nil && prompter.Permission() == PermissionDenied {
		m.state = StateDenied
	}
	return m
}

// State returns the current subscription state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Token returns the cached token, if any.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.token != ""
}

// Threshold returns the last successfully saved threshold.
func (m *Manager) Threshold() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold, m.hasSaved
}

// RequestPermission obtains permission (prompting only if it has not been
// decided), waits for the delivery worker to become active, exchanges its
// registration for a token, caches the token and registers it with the
// server once. Calling it again re-acquires a token without prompting.
func (m *Manager) RequestPermission(ctx context.Context) error {
	m.reqMu.Lock()
	defer m.reqMu.Unlock()

	if m.prompter == nil || m.registrar == nil || m.backend == nil {
		return ErrUnsupported
	}
	if m.State() == StateDenied {
		return ErrPermissionDenied
	}

	switch m.prompter.Permission() {
	case PermissionDenied:
		m.advance(StateDenied)
		return ErrPermissionDenied
	case PermissionGranted:
		m.log.Debug("permission already granted")
	default:
		p, err := m.prompter.Request(ctx)
		if err != nil {
			return fmt.Errorf("requesting permission: %w", err)
		}
		switch p {
		case PermissionGranted:
		case PermissionDenied:
			m.advance(StateDenied)
			m.log.Info("notification permission denied")
			return ErrPermissionDenied
		default:
			return ErrPermissionDismissed
		}
	}
	m.advance(StateGrantedNoToken)

	rctx, cancel := context.WithTimeout(ctx, m.readyTimeout)
	registration, err := m.registrar.Ready(rctx)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWorkerNotReady, err)
	}

	token, err := m.backend.ExchangeToken(ctx, registration)
	if err != nil {
		return fmt.Errorf("exchanging token: %w", err)
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	m.advance(StateTokenActive)
	m.log.Info("notification token acquired", "registration", registration)

	if err := m.backend.RegisterToken(ctx, token); err != nil {
		return fmt.Errorf("registering token: %w", err)
	}
	return nil
}

// SaveThreshold stores the alert threshold for the cached token. It fails
// without any network call if the value is out of range or no token is
// cached yet.
func (m *Manager) SaveThreshold(ctx context.Context, threshold int) error {
	if threshold < 0 || threshold > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, threshold)
	}
	token, ok := m.Token()
	if !ok {
		return ErrNoToken
	}
	if err := m.backend.SetAlertThreshold(ctx, token, threshold); err != nil {
		return fmt.Errorf("saving threshold: %w", err)
	}
	m.mu.Lock()
	m.threshold = threshold
	m.hasSaved = true
	m.mu.Unlock()
	m.log.Info("alert threshold saved", "threshold", threshold)
	return nil
}

// advance moves the state forward. Backward moves and moves out of
// StateDenied are ignored.
func (m *Manager) advance(to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDenied {
		return
	}
	if to == StateDenied || to > m.state {
		m.state = to
	}
}
