package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Permission is the process-level notification permission.
type Permission int

const (
	PermissionDefault Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "default"
	}
}

// ParsePermission parses "default", "granted" or "denied".
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return PermissionDefault, nil
	case "granted":
		return PermissionGranted, nil
	case "denied":
		return PermissionDenied, nil
	default:
		return PermissionDefault, fmt.Errorf("unknown notification permission %q", s)
	}
}

// AskFunc asks the user to decide. It returns false when the user declines.
type AskFunc func(ctx context.Context) (bool, error)

// ProcessPermission remembers the permission decision for the life of the
// process. Only an undecided permission prompts.
type ProcessPermission struct {
	mu      sync.Mutex
	current Permission
	ask     AskFunc
}

// NewProcessPermission starts from initial. ask may be nil, in which case an
// undecided permission is treated as dismissed.
func NewProcessPermission(initial Permission, ask AskFunc) *ProcessPermission {
	return &ProcessPermission{current: initial, ask: ask}
}

// Permission returns the current decision.
func (p *ProcessPermission) Permission() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Request prompts if the permission is undecided and records the answer.
func (p *ProcessPermission) Request(ctx context.Context) (Permission, error) {
	if cur := p.Permission(); cur != PermissionDefault || p.ask == nil {
		return cur, nil
	}
	ok, err := p.ask(ctx)
	if err != nil {
		// An abandoned prompt leaves the permission undecided.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return PermissionDefault, nil
		}
		return PermissionDefault, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == PermissionDefault {
		if ok {
			p.current = PermissionGranted
		} else {
			p.current = PermissionDenied
		}
	}
	return p.current, nil
}
