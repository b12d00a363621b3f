// Package gateway defines the contract with the external payment settlement
// provider and the Omise-backed adapter implementing it.
package gateway

import (
	"context"
	"errors"

	"github.com/stayhaven/booking-engine/internal/model"
)

// ErrUnavailable covers network failures and timeouts talking to the
// gateway. Booking state is never changed on this error; retrying is safe.
var ErrUnavailable = errors.New("payment gateway unavailable")

// ErrInvalidRequest is returned when the gateway rejects the request itself
// (bad amount, unknown order, malformed payload).
var ErrInvalidRequest = errors.New("payment gateway rejected request")

// Customer is the payer identity forwarded to the gateway.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Order is a payable order created at the gateway.
type Order struct {
	OrderID     string `json:"order_id"`
	CheckoutURL string `json:"checkout_url"`
}

// Settlement is the gateway's report of an order's state. PollStatus is an
// idempotent read: calling it repeatedly is always safe.
type Settlement struct {
	Status        model.SettlementStatus `json:"status"`
	Amount        model.Money            `json:"amount"`
	TransactionID string                 `json:"transaction_id"`
}

// PaymentGateway is the port to the external settlement provider.
type PaymentGateway interface {
	// CreateOrder creates a payable order for the booking amount.
	CreateOrder(ctx context.Context, bookingID string, amount model.Money, customer Customer) (Order, error)
	// PollStatus reports the order's settlement status by ID.
	PollStatus(ctx context.Context, orderID string) (Settlement, error)
	// VerifyWebhookSignature reports whether a webhook delivery is
	// authentic. Unverifiable payloads must not be trusted to mutate state.
	VerifyWebhookSignature(rawPayload []byte, signatureHeader string) bool
}
