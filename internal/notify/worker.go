package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"danso/internal/util"
)

// Notification is a server-composed alert. Title and Body are shown exactly
// as received.
type Notification struct {
	Title    string
	Body     string
	Data     map[string]any
	Received time.Time
}

type workerMessage struct {
	Type         string `json:"type"`
	Notification struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
	Data map[string]any `json:"data"`
}

// Worker is the delivery worker: it holds the push backend connection for
// one registration id and hands every notification to show.
type Worker struct {
	url     string
	id      string
	show    func(Notification)
	dialer  *websocket.Dialer
	backoff util.Backoff
	log     *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// NewWorker creates a worker with a fresh registration id. baseURL is the
// push backend websocket endpoint, e.g. ws://host:5000/ws/push.
func NewWorker(baseURL string, show func(Notification), log *slog.Logger) *Worker {
	return &Worker{
		url:     baseURL,
		id:      uuid.NewString(),
		show:    show,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: util.Backoff{Base: time.Second, Max: 30 * time.Second},
		log:     log.With("component", "notify-worker"),
		ready:   make(chan struct{}),
	}
}

// Registration returns the worker's registration id.
func (w *Worker) Registration() string { return w.id }

// Ready blocks until the backend has acknowledged the registration at least
// once, then returns the registration id.
func (w *Worker) Ready(ctx context.Context) (string, error) {
	select {
	case <-w.ready:
		return w.id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Active reports whether the registration has been acknowledged.
func (w *Worker) Active() bool {
	select {
	case <-w.ready:
		return true
	default:
		return false
	}
}

// Run keeps the worker connected until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	err := util.Retry(ctx, 0, w.backoff, func(attempt int) error {
		err := w.Sync(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = fmt.Errorf("push backend closed the connection")
		}
		w.log.Warn("notification worker disconnected", "attempt", attempt, "error", err)
		return err
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Sync holds one connection until it fails or ctx is cancelled.
func (w *Worker) Sync(ctx context.Context) error {
	u, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("parsing worker url: %w", err)
	}
	q := u.Query()
	q.Set("registration", w.id)
	u.RawQuery = q.Encode()

	conn, _, err := w.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dialing push backend: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w.log.Info("notification worker connected", "registration", w.id)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading push message: %w", err)
		}

		var msg workerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.log.Warn("ignoring undecodable push message", "error", err)
			continue
		}
		switch msg.Type {
		case "ready":
			w.readyOnce.Do(func() { close(w.ready) })
			w.log.Info("notification worker active", "registration", w.id)
		case "notification":
			w.show(Notification{
				Title:    msg.Notification.Title,
				Body:     msg.Notification.Body,
				Data:     msg.Data,
				Received: time.Now(),
			})
		default:
			w.log.Debug("ignoring push message", "type", msg.Type)
		}
	}
}
