package live

import (
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const pushStreamMethod = "/danso.push.v1.SnapshotPush/Stream"

var pushStreamDesc = grpc.StreamDesc{
	StreamName:    "Stream",
	ServerStreams: true,
}

// PayloadSource publishes raw snapshot JSON documents.
type PayloadSource interface {
	// Payload returns the current document.
	Payload() []byte
	Subscribe(bufSize int) (id int, ch <-chan []byte)
	Unsubscribe(id int)
}

// snapshotPusher is the handler type registered with grpc.
type snapshotPusher interface {
	stream(grpc.ServerStream) error
}

var pushServiceDesc = grpc.ServiceDesc{
	ServiceName: "danso.push.v1.SnapshotPush",
	HandlerType: (*snapshotPusher)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    pushStreamDesc.StreamName,
		ServerStreams: true,
		Handler: func(srv any, ss grpc.ServerStream) error {
			return srv.(snapshotPusher).stream(ss)
		},
	}},
	Metadata: "danso/push/v1/push.proto",
}

// Server implements the SnapshotPush stream: the current document first,
// then every published document until the client disconnects.
type Server struct {
	source PayloadSource
	log    *slog.Logger
}

// NewServer creates a gRPC push server backed by source.
func NewServer(source PayloadSource, log *slog.Logger) *Server {
	return &Server{source: source, log: log}
}

// RegisterGRPC registers the server on the given gRPC server instance.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&pushServiceDesc, s)
}

func (s *Server) stream(ss grpc.ServerStream) error {
	if err := ss.RecvMsg(&emptypb.Empty{}); err != nil {
		return err
	}

	subID, ch := s.source.Subscribe(16)
	defer s.source.Unsubscribe(subID)

	if err := sendPayload(ss, s.source.Payload()); err != nil {
		return err
	}

	s.log.Info("grpc push client subscribed", "subID", subID)

	ctx := ss.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("grpc push client disconnected", "subID", subID)
			return nil
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			if err := sendPayload(ss, raw); err != nil {
				return err
			}
		}
	}
}

func sendPayload(ss grpc.ServerStream, raw []byte) error {
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, msg); err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	return ss.SendMsg(msg)
}
