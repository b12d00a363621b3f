package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Notifier delivers a human-facing message. Swappable for email/SMS/chat.
type Notifier interface {
	Notify(subject, message string) error
}

// LogNotifier writes notifications to the structured log. The default until
// a real channel is configured.
type LogNotifier struct {
	Log *logrus.Logger
}

// Notify logs the notification.
func (n *LogNotifier) Notify(subject, message string) error {
	n.Log.WithField("subject", subject).Info(message)
	return nil
}

// Worker consumes settlement side-effect events and dispatches
// notifications. A malformed event is acked and dropped; a notifier failure
// nacks for redelivery. Neither can touch booking state.
type Worker struct {
	consumer *Consumer
	notifier Notifier
	log      *logrus.Logger
}

// NewWorker constructs a Worker.
func NewWorker(consumer *Consumer, notifier Notifier, log *logrus.Logger) *Worker {
	return &Worker{consumer: consumer, notifier: notifier, log: log}
}

type sideEffectEvent struct {
	BookingID     string `json:"booking_id"`
	GuestID       string `json:"guest_id"`
	HostID        string `json:"host_id"`
	TransactionID string `json:"transaction_id"`
}

// Run consumes until the context is cancelled or the stream closes.
func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.consumer.Deliveries(ctx)
	if err != nil {
		return err
	}
	w.log.Info("notification worker started")
	for d := range msgs {
		var evt sideEffectEvent
		if err := json.Unmarshal(d.Body, &evt); err != nil {
			w.log.WithError(err).Warn("dropping malformed event")
			_ = d.Ack(false)
			continue
		}

		subject, message := render(d.RoutingKey, evt)
		if subject == "" {
			_ = d.Ack(false)
			continue
		}
		if err := w.notifier.Notify(subject, message); err != nil {
			w.log.WithError(err).WithField("topic", d.RoutingKey).Error("notify failed, requeueing")
			_ = d.Nack(false, true)
			continue
		}
		_ = d.Ack(false)
	}
	return nil
}

func render(topic string, evt sideEffectEvent) (subject, message string) {
	switch topic {
	case "booking.confirmed":
		return "Booking confirmed",
			fmt.Sprintf("Booking %s is confirmed for guest %s.", evt.BookingID, evt.GuestID)
	case "payment.failed":
		return "Payment failed",
			fmt.Sprintf("Payment for booking %s failed; guest %s can retry.", evt.BookingID, evt.GuestID)
	case "booking.expired":
		return "Booking expired",
			fmt.Sprintf("Booking %s expired before payment completed.", evt.BookingID)
	case "booking.cancelled":
		return "Booking cancelled",
			fmt.Sprintf("Booking %s was cancelled.", evt.BookingID)
	case "booking.late_settlement":
		return "ACTION REQUIRED: late settlement",
			fmt.Sprintf("Booking %s received payment %s after its hold expired; a forced refund is required.",
				evt.BookingID, evt.TransactionID)
	}
	return "", ""
}
