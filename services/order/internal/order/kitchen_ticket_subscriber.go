package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/checkout/pkg/enums/orderstatus"
	"github.com/appetiteclub/checkout/pkg/event"
	"github.com/appetiteclub/checkout/services/order/internal/fault"
	"github.com/google/uuid"
)

const kitchenActor = "kitchen"

// KitchenTicketSubscriber moves an order to Ready when the kitchen marks its
// ticket ready. Late or out-of-order events are dropped.
type KitchenTicketSubscriber struct {
	subscriber events.Subscriber
	service    *Service
	logger     apt.Logger
}

func NewKitchenTicketSubscriber(sub events.Subscriber, service *Service, logger apt.Logger) *KitchenTicketSubscriber {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &KitchenTicketSubscriber{
		subscriber: sub,
		service:    service,
		logger:     logger,
	}
}

func (s *KitchenTicketSubscriber) Start(ctx context.Context) error {
	s.logger.Info("starting kitchen ticket subscriber", "topic", event.KitchenTicketsTopic)
	if s.subscriber == nil {
		return fmt.Errorf("kitchen ticket subscriber not configured")
	}
	return s.subscriber.Subscribe(ctx, event.KitchenTicketsTopic, s.handleEvent)
}

func (s *KitchenTicketSubscriber) handleEvent(ctx context.Context, msg []byte) error {
	var evt event.KitchenTicketStatusEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.logger.Info("invalid kitchen ticket event", "error", err)
		return nil
	}
	if evt.EventType != event.EventKitchenTicketStatusChange || evt.NewStatus != event.KitchenTicketReady {
		return nil
	}

	tenantID, err := uuid.Parse(evt.TenantID)
	if err != nil {
		s.logger.Info("invalid tenant_id in kitchen event", "ticket_id", evt.TicketID)
		return nil
	}
	orderID, err := uuid.Parse(evt.OrderID)
	if err != nil {
		s.logger.Info("invalid order_id in kitchen event", "ticket_id", evt.TicketID)
		return nil
	}

	_, err = s.service.UpdateStatus(ctx, tenantID, orderID, orderstatus.Statuses.Ready.Name, kitchenActor)
	switch {
	case err == nil:
		s.logger.Debug("order ready from kitchen", "order_id", orderID.String(), "ticket_id", evt.TicketID)
		return nil
	case errors.Is(err, fault.ErrTransient):
		return err
	default:
		s.logger.Debug("kitchen event ignored", "order_id", orderID.String(), "error", err)
		return nil
	}
}
