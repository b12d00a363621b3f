// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/stayhaven/booking-engine/internal/gateway"
	"github.com/stayhaven/booking-engine/internal/model"
	"github.com/stayhaven/booking-engine/internal/repository"
	"github.com/stayhaven/booking-engine/internal/service"
)

// SignatureHeader carries the gateway's webhook HMAC.
const SignatureHeader = "X-Webhook-Signature"

// BookingHandler holds all HTTP handlers for the booking API.
type BookingHandler struct {
	svc    *service.BookingService
	engine *service.ReconciliationEngine
	log    *logrus.Logger
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(svc *service.BookingService, engine *service.ReconciliationEngine, log *logrus.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, engine: engine, log: log}
}

// Routes mounts every booking endpoint on the router.
func (h *BookingHandler) Routes(r chi.Router) {
	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", h.CreateBooking)
		r.Get("/", h.ListBookings)
		r.Get("/{id}", h.GetBooking)
		r.Post("/{id}/approve", h.ApproveBooking)
		r.Post("/{id}/reject", h.RejectBooking)
		r.Post("/{id}/payment", h.InitiatePayment)
		r.Post("/{id}/payment/verify", h.VerifyPayment)
		r.Post("/{id}/cancel", h.CancelBooking)
		r.Post("/{id}/complete", h.CompleteBooking)
		r.Delete("/{id}", h.DeleteBooking)
	})
	r.Post("/webhooks/payment", h.PaymentWebhook)
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// fail maps service/domain sentinels onto HTTP statuses without leaking
// internal gateway detail to clients.
func (h *BookingHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "booking not found")
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "not permitted")
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, model.ErrEmptyReason),
		errors.Is(err, model.ErrInvalidDateRange),
		errors.Is(err, model.ErrInvalidGuestCount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrOverpaymentRejected),
		errors.Is(err, service.ErrStayInProgress),
		errors.Is(err, service.ErrPaymentNotInitiated):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, gateway.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "payment request rejected")
	case errors.Is(err, gateway.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "payment provider unavailable, retry shortly")
	default:
		h.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Booking commands ─────────────────────────────────────────────────────────

// CreateBooking handles POST /bookings
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req model.CreateBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	b, err := h.svc.CreateBooking(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GetBooking handles GET /bookings/{id}?actor_id=
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetBooking(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("actor_id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListBookings handles GET /bookings?guest_id= or ?host_id=
func (h *BookingHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	var (
		views []service.BookingView
		err   error
	)
	switch {
	case r.URL.Query().Get("guest_id") != "":
		views, err = h.svc.ListBookingsByGuest(r.Context(), r.URL.Query().Get("guest_id"))
	case r.URL.Query().Get("host_id") != "":
		views, err = h.svc.ListBookingsByHost(r.Context(), r.URL.Query().Get("host_id"))
	default:
		writeError(w, http.StatusBadRequest, "guest_id or host_id query parameter is required")
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	if views == nil {
		views = []service.BookingView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// ApproveBooking handles POST /bookings/{id}/approve
func (h *BookingHandler) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	var req model.ApproveBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	b, err := h.svc.ApproveBooking(r.Context(), chi.URLParam(r, "id"), req.HostID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// RejectBooking handles POST /bookings/{id}/reject
func (h *BookingHandler) RejectBooking(w http.ResponseWriter, r *http.Request) {
	var req model.RejectBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	b, err := h.svc.RejectBooking(r.Context(), chi.URLParam(r, "id"), req.HostID, req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// InitiatePayment handles POST /bookings/{id}/payment
func (h *BookingHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req model.InitiatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	b, err := h.svc.InitiatePayment(r.Context(), chi.URLParam(r, "id"), req.GuestID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.InitiatePaymentResponse{
		OrderID:     b.PaymentOrderID,
		CheckoutURL: b.CheckoutURL,
	})
}

// VerifyPayment handles POST /bookings/{id}/payment/verify, the
// client-triggered polling path into reconciliation.
func (h *BookingHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := h.svc.PollPayment(r.Context(), chi.URLParam(r, "id"), req.GuestID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelBooking handles POST /bookings/{id}/cancel
func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var req model.CancelBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	b, err := h.svc.CancelBooking(r.Context(), chi.URLParam(r, "id"), req.ActorID, req.Reason)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CompleteBooking handles POST /bookings/{id}/complete
func (h *BookingHandler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	var req model.CompleteBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	b, err := h.svc.CompleteBooking(r.Context(), chi.URLParam(r, "id"), req.HostID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// DeleteBooking handles DELETE /bookings/{id}
func (h *BookingHandler) DeleteBooking(w http.ResponseWriter, r *http.Request) {
	var req model.DeleteBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.svc.DeleteBooking(r.Context(), chi.URLParam(r, "id"), req.ActorID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Webhook ──────────────────────────────────────────────────────────────────

// PaymentWebhook handles POST /webhooks/payment. Gateways retry on slow or
// failed acknowledgement, so this handler reconciles synchronously but
// quickly and relies on the engine's idempotency to make retries safe.
func (h *BookingHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}
	res, err := h.engine.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"outcome":  res.Outcome,
		"replayed": res.Replayed,
	})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
