package live

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"danso/internal/util"
)

const (
	wsReadWait   = 90 * time.Second
	wsPingPeriod = 45 * time.Second
	wsWriteWait  = 5 * time.Second
)

// WSClient receives snapshot payloads over a websocket and hands each text
// frame to a Sink.
type WSClient struct {
	url     string
	sink    Sink
	dialer  *websocket.Dialer
	backoff util.Backoff
	log     *slog.Logger
}

// NewWSClient creates a websocket push client for url.
func NewWSClient(url string, sink Sink, log *slog.Logger) *WSClient {
	return &WSClient{
		url:     url,
		sink:    sink,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: DefaultBackoff,
		log:     log.With("push", "websocket"),
	}
}

// Run keeps a connection open until ctx is cancelled, reconnecting with
// backoff.
func (c *WSClient) Run(ctx context.Context) error {
	return runWithReconnect(ctx, c.log, c.backoff, c.Sync)
}

// Sync reads one connection until it fails or ctx is cancelled.
func (c *WSClient) Sync(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	go pingLoop(ctx, conn)

	c.log.Info("connected to snapshot push", "url", c.url)

	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadWait))
	})
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading push frame: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
		if mt != websocket.TextMessage {
			continue
		}
		if err := c.sink(data); err != nil {
			c.log.Warn("discarding push payload", "error", err)
		}
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(wsPingPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
