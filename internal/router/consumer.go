package router

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/smangukia/CommuneDrop-sub001/internal/models"
)

// Broker-message entry points. Both run under commit-after-handle
// consumption, so they are written idempotent and treat unparseable payloads
// as poison: logged and committed, never redelivered forever.

// HandleDeliveryRequestMessage routes one pending request from the order
// service to nearby drivers.
func (r *Router) HandleDeliveryRequestMessage(_ context.Context, value []byte) error {
	var req models.DeliveryRequest
	if err := json.Unmarshal(value, &req); err != nil {
		r.log.Error("unparseable delivery request message", "error", err)
		return nil
	}
	if req.OrderID == "" {
		r.log.Warn("delivery request message without orderId, dropping")
		return nil
	}
	r.DispatchDeliveryRequest(req)
	return nil
}

type paymentEvent struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId"`
	Status  string `json:"status"`
}

// HandlePaymentMessage reacts to payment outcomes from the payment service.
// Only successful payments produce a notification; everything else is noise
// to this subsystem.
func (r *Router) HandlePaymentMessage(ctx context.Context, value []byte) error {
	var ev paymentEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		r.log.Error("unparseable payment message", "error", err)
		return nil
	}
	switch strings.ToLower(ev.Status) {
	case "paid", "succeeded", "payment_received":
		r.HandlePaymentReceived(ctx, ev.OrderID, ev.UserID)
	default:
		r.log.Debug("ignoring payment event", "order_id", ev.OrderID, "status", ev.Status)
	}
	return nil
}
