package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrUnknownRegistration = errors.New("registration is not connected")
	ErrUnknownToken        = errors.New("unknown token")
	ErrThresholdRange      = errors.New("threshold must be between 0 and 100")
)

// DefaultAlertThreshold applies to subscribed tokens that never set one.
const DefaultAlertThreshold = 80

// PushBackend issues tokens for connected delivery workers, keeps the
// subscription set and per-token thresholds, and fans alerts out.
type PushBackend struct {
	hub *Hub
	log *slog.Logger

	mu         sync.Mutex
	tokens     map[string]string // token -> registration
	subscribed map[string]bool
	thresholds map[string]int
}

// NewPushBackend creates a backend delivering through hub.
func NewPushBackend(hub *Hub, log *slog.Logger) *PushBackend {
	return &PushBackend{
		hub:        hub,
		log:        log,
		tokens:     make(map[string]string),
		subscribed: make(map[string]bool),
		thresholds: make(map[string]int),
	}
}

// ExchangeToken issues a new token for an active registration.
func (p *PushBackend) ExchangeToken(registration string) (string, error) {
	if registration == "" || !p.hub.Connected(registration) {
		return "", fmt.Errorf("%w: %q", ErrUnknownRegistration, registration)
	}
	token := uuid.NewString()
	p.mu.Lock()
	p.tokens[token] = registration
	p.mu.Unlock()
	return token, nil
}

// Subscribe adds token to the alert set. Subscribing twice is a no-op.
func (p *PushBackend) Subscribe(token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tokens[token]; !ok {
		return ErrUnknownToken
	}
	p.subscribed[token] = true
	return nil
}

// SetThreshold stores the minimum score that alerts token.
func (p *PushBackend) SetThreshold(token string, threshold int) error {
	if threshold < 0 || threshold > 100 {
		return ErrThresholdRange
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tokens[token]; !ok {
		return ErrUnknownToken
	}
	p.thresholds[token] = threshold
	return nil
}

// Threshold returns the effective threshold for token.
func (p *PushBackend) Threshold(token string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n, ok := p.thresholds[token]; ok {
		return n
	}
	return DefaultAlertThreshold
}

// Subscriptions returns the number of subscribed tokens.
func (p *PushBackend) Subscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribed)
}

// Alert composes a notification for a fired signal and delivers it to
// every subscribed token whose threshold the score reaches. It returns the
// number of deliveries.
func (p *PushBackend) Alert(e LogEntry) int {
	score := e.Score
	if score <= 1 {
		score *= 100
	}
	score = math.Round(score)
	msg, err := json.Marshal(map[string]any{
		"type": "notification",
		"notification": map[string]string{
			"title": fmt.Sprintf("%s %s", e.Ticker, e.Action),
			"body":  fmt.Sprintf("Score %.0f @ $%.2f", score, e.Price),
		},
		"data": map[string]any{"ticker": e.Ticker, "action": e.Action, "score": score},
	})
	if err != nil {
		p.log.Error("encoding notification", "error", err)
		return 0
	}

	p.mu.Lock()
	var targets []string
	for token := range p.subscribed {
		limit, ok := p.thresholds[token]
		if !ok {
			limit = DefaultAlertThreshold
		}
		if score >= float64(limit) {
			targets = append(targets, p.tokens[token])
		}
	}
	p.mu.Unlock()

	sent := 0
	for _, reg := range targets {
		sent += p.hub.SendTo(reg, msg)
	}
	p.log.Info("alert delivered", "ticker", e.Ticker, "score", score, "deliveries", sent)
	return sent
}
