package live

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"danso/internal/util"
)

// GRPCClient receives snapshot payloads from a SnapshotPush gRPC server. Each
// message is a google.protobuf.Struct carrying the same JSON document the
// HTTP endpoint serves; it is re-encoded to JSON before reaching the Sink.
type GRPCClient struct {
	addr     string
	sink     Sink
	dialOpts []grpc.DialOption
	backoff  util.Backoff
	log      *slog.Logger
}

// NewGRPCClient creates a client targeting the given gRPC address.
func NewGRPCClient(addr string, sink Sink, log *slog.Logger, opts ...grpc.DialOption) *GRPCClient {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &GRPCClient{
		addr:     addr,
		sink:     sink,
		dialOpts: opts,
		backoff:  DefaultBackoff,
		log:      log.With("push", "grpc"),
	}
}

// Run keeps the stream open until ctx is cancelled, reconnecting with backoff.
func (c *GRPCClient) Run(ctx context.Context) error {
	return runWithReconnect(ctx, c.log, c.backoff, c.Sync)
}

// Sync opens one stream and forwards payloads until it ends or ctx is
// cancelled.
func (c *GRPCClient) Sync(ctx context.Context) error {
	conn, err := grpc.NewClient(c.addr, c.dialOpts...)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", c.addr, err)
	}
	defer conn.Close()

	stream, err := conn.NewStream(ctx, &pushStreamDesc, pushStreamMethod)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("closing send: %w", err)
	}

	c.log.Info("connected to snapshot push stream", "addr", c.addr)

	for {
		msg := &structpb.Struct{}
		err := stream.RecvMsg(msg)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving snapshot: %w", err)
		}

		raw, err := protojson.Marshal(msg)
		if err != nil {
			c.log.Warn("discarding push payload", "error", err)
			continue
		}
		if err := c.sink(raw); err != nil {
			c.log.Warn("discarding push payload", "error", err)
		}
	}
}
