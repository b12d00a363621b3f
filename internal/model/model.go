// Package model defines the core domain types for the booking engine:
// value objects (Money, DateRange), the cancellation policy, the Booking
// aggregate with its two-axis state machine, and the reconciliation types
// shared by the webhook and polling paths.
package model

// CreateBookingRequest is the payload for requesting a reservation.
type CreateBookingRequest struct {
	PropertyID string `json:"property_id"`
	GuestID    string `json:"guest_id"`
	CheckIn    string `json:"check_in"`  // YYYY-MM-DD
	CheckOut   string `json:"check_out"` // YYYY-MM-DD
	GuestCount int    `json:"guest_count"`
}

// ApproveBookingRequest identifies the approving host.
type ApproveBookingRequest struct {
	HostID string `json:"host_id"`
}

// RejectBookingRequest carries the host's rejection reason.
type RejectBookingRequest struct {
	HostID string `json:"host_id"`
	Reason string `json:"reason"`
}

// CancelBookingRequest carries the cancelling actor and reason.
type CancelBookingRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

// InitiatePaymentRequest identifies the paying guest.
type InitiatePaymentRequest struct {
	GuestID string `json:"guest_id"`
}

// InitiatePaymentResponse returns the gateway order to the client.
type InitiatePaymentResponse struct {
	OrderID     string `json:"order_id"`
	CheckoutURL string `json:"checkout_url"`
}

// VerifyPaymentRequest identifies the polling guest.
type VerifyPaymentRequest struct {
	GuestID string `json:"guest_id"`
}

// CompleteBookingRequest identifies the operator/host completing the stay.
type CompleteBookingRequest struct {
	HostID string `json:"host_id"`
}

// DeleteBookingRequest identifies the actor requesting deletion.
type DeleteBookingRequest struct {
	ActorID string `json:"actor_id"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
