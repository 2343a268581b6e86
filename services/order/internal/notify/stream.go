// Package notify pushes order and payment status changes to connected
// clients over a server-streaming gRPC method. Messages are structpb.Struct
// values, so no generated stubs are needed.
package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const ServiceName = "appetite.checkout.NotificationStream"

// Notifier is what the core calls after committing a change.
type Notifier interface {
	Notify(eventType string, tenantID uuid.UUID, fields map[string]any)
}

type Noop struct{}

func (Noop) Notify(string, uuid.UUID, map[string]any) {}

type subscribeService interface {
	Subscribe(req *structpb.Struct, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*subscribeService)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "checkout/notification.proto",
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(subscribeService).Subscribe(req, stream)
}

type subscriber struct {
	tenantID string
	orderID  string
	ch       chan *structpb.Struct
}

// Server fans notifications out to subscribers of the same tenant. Slow
// subscribers lose events rather than blocking the core.
type Server struct {
	logger apt.Logger
	buffer int

	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      atomic.Uint64
}

func NewServer(logger apt.Logger) *Server {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Server{
		logger:      logger.With("component", "NotificationStream"),
		buffer:      64,
		subscribers: make(map[uint64]*subscriber),
	}
}

// RegisterGRPCService registers the stream on server.
func (s *Server) RegisterGRPCService(server *grpc.Server) {
	server.RegisterService(&serviceDesc, s)
}

// Subscribe streams events for req.tenant_id, optionally narrowed to
// req.order_id, until the client goes away.
func (s *Server) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	fields := req.GetFields()
	tenantID := fields["tenant_id"].GetStringValue()
	if _, err := uuid.Parse(tenantID); err != nil {
		return status.Error(codes.InvalidArgument, "tenant_id is required")
	}
	orderID := fields["order_id"].GetStringValue()

	id, sub := s.add(tenantID, orderID)
	defer s.remove(id)

	s.logger.Info("notification subscriber connected", "subscriber_id", id, "tenant_id", tenantID, "order_id", orderID)
	return s.pump(stream.Context(), sub, stream.SendMsg)
}

func (s *Server) pump(ctx context.Context, sub *subscriber, send func(any) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-sub.ch:
			if err := send(evt); err != nil {
				return fmt.Errorf("send notification: %w", err)
			}
		}
	}
}

func (s *Server) add(tenantID, orderID string) (uint64, *subscriber) {
	id := s.nextID.Add(1)
	sub := &subscriber{
		tenantID: tenantID,
		orderID:  orderID,
		ch:       make(chan *structpb.Struct, s.buffer),
	}
	s.mu.Lock()
	s.subscribers[id] = sub
	s.mu.Unlock()
	return id, sub
}

func (s *Server) remove(id uint64) {
	s.mu.Lock()
	delete(s.subscribers, id)
	s.mu.Unlock()
	s.logger.Info("notification subscriber disconnected", "subscriber_id", id)
}

func (s *Server) Notify(eventType string, tenantID uuid.UUID, fields map[string]any) {
	values := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		values[k] = v
	}
	values["event_type"] = eventType
	values["tenant_id"] = tenantID.String()
	values["occurred_at"] = timestamppb.New(time.Now()).AsTime().Format(time.RFC3339Nano)

	msg, err := structpb.NewStruct(values)
	if err != nil {
		s.logger.Error("cannot encode notification", "event_type", eventType, "error", err)
		return
	}

	orderID, _ := fields["order_id"].(string)
	tenant := tenantID.String()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, sub := range s.subscribers {
		if sub.tenantID != tenant {
			continue
		}
		if sub.orderID != "" && sub.orderID != orderID {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			s.logger.Info("subscriber channel full, dropping notification", "subscriber_id", id, "event_type", eventType)
		}
	}
}
