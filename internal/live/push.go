package live

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"danso/internal/util"
)

// Sink receives raw snapshot payloads from a push transport. A non-nil error
// means the payload was rejected; the transport logs it and keeps reading.
type Sink func(raw []byte) error

// Pusher is a long-lived push transport.
type Pusher interface {
	Run(ctx context.Context) error
}

var errStreamEnded = errors.New("stream ended")

// DefaultBackoff is the reconnect schedule for push transports.
var DefaultBackoff = util.Backoff{Base: time.Second, Max: 30 * time.Second}

// runWithReconnect calls sync until ctx is cancelled, backing off between
// connection losses. A clean end of stream still counts as a loss.
func runWithReconnect(ctx context.Context, log *slog.Logger, b util.Backoff, sync func(context.Context) error) error {
	err := util.Retry(ctx, 0, b, func(attempt int) error {
		err := sync(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errStreamEnded
		}
		log.Warn("push connection lost", "attempt", attempt, "error", err)
		return err
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
