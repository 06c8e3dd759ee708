package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"sibostore/internal/models"
	"sibostore/internal/queue"
	"sibostore/internal/ws"
)

type NotificationStore interface {
	Create(*models.Notification) error
}

type paymentEvent struct {
	Type        string `json:"type"`
	OrderNumber string `json:"order_number"`
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Receipt     string `json:"receipt,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Title       string `json:"-"`
	Body        string `json:"-"`
}

// NotificationService records payment outcomes and fans them out to the
// Kafka topic and the WebSocket hub. Events are handed off to a worker so
// a slow broker or store never blocks the payment path.
type NotificationService struct {
	store  NotificationStore
	bus    *queue.Publisher
	hub    *ws.Hub
	events chan paymentEvent
	wg     sync.WaitGroup
	once   sync.Once
}

func NewNotificationService(store NotificationStore, bus *queue.Publisher, hub *ws.Hub) *NotificationService {
	s := &NotificationService{
		store:  store,
		bus:    bus,
		hub:    hub,
		events: make(chan paymentEvent, 64),
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *NotificationService) PaymentCompleted(orderNumber, reference string, amountCents int64, receipt string) {
	s.enqueue(paymentEvent{
		Type:        "PAYMENT_COMPLETED",
		OrderNumber: orderNumber,
		Reference:   reference,
		AmountCents: amountCents,
		Receipt:     receipt,
		Title:       "Payment received",
		Body:        "Your payment was successful. Receipt: " + receipt,
	})
}

func (s *NotificationService) PaymentFailed(orderNumber, reference, reason string) {
	if reason == "" {
		reason = "Payment failed"
	}
	s.enqueue(paymentEvent{
		Type:        "PAYMENT_FAILED",
		OrderNumber: orderNumber,
		Reference:   reference,
		Reason:      reason,
		Title:       "Payment failed",
		Body:        reason,
	})
}

func (s *NotificationService) enqueue(ev paymentEvent) {
	select {
	case s.events <- ev:
	default:
		log.Printf("[NOTIFY] queue full, dropping %s for reference=%s", ev.Type, ev.Reference)
	}
}

func (s *NotificationService) worker() {
	defer s.wg.Done()
	for ev := range s.events {
		s.deliver(ev)
	}
}

func (s *NotificationService) deliver(ev paymentEvent) {
	data, _ := json.Marshal(ev)
	if s.store != nil {
		err := s.store.Create(&models.Notification{
			OrderNumber: ev.OrderNumber,
			Type:        ev.Type,
			Title:       ev.Title,
			Body:        ev.Body,
			Data:        string(data),
		})
		if err != nil {
			log.Printf("[NOTIFY] store %s reference=%s: %v", ev.Type, ev.Reference, err)
		}
	}
	if s.bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.bus.Publish(ctx, []byte(ev.Reference), data); err != nil {
			log.Printf("[NOTIFY] publish %s reference=%s: %v", ev.Type, ev.Reference, err)
		}
		cancel()
	}
	if s.hub != nil {
		s.hub.BroadcastToReference(ev.Reference, map[string]interface{}{
			"type":         ev.Type,
			"order_number": ev.OrderNumber,
			"reference":    ev.Reference,
			"amount_cents": ev.AmountCents,
			"receipt":      ev.Receipt,
			"reason":       ev.Reason,
		})
	}
}

// Close drains pending events and stops the worker.
func (s *NotificationService) Close() {
	s.once.Do(func() {
		close(s.events)
	})
	s.wg.Wait()
}
