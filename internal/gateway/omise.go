package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"

	"github.com/stayhaven/booking-engine/internal/model"
)

// OmiseGateway adapts the Omise payment API to the PaymentGateway port.
// Orders map to charges paid through a redirect source; the charge's
// authorize URI is the guest-facing checkout URL.
type OmiseGateway struct {
	client        *omise.Client
	webhookSecret []byte
	sourceType    string
	returnURI     string
	timeout       time.Duration
}

// OmiseConfig carries the adapter's credentials and tuning.
type OmiseConfig struct {
	PublicKey     string
	SecretKey     string
	WebhookSecret string
	// SourceType is the Omise payment source, e.g. "promptpay".
	SourceType string
	// ReturnURI is where redirect-based sources send the guest afterwards.
	ReturnURI string
	// Timeout bounds every gateway call; a timeout maps to ErrUnavailable.
	Timeout time.Duration
}

// NewOmiseGateway builds the adapter and bounds its HTTP client.
func NewOmiseGateway(cfg OmiseConfig) (*OmiseGateway, error) {
	client, err := omise.NewClient(cfg.PublicKey, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client.Timeout = cfg.Timeout
	if cfg.SourceType == "" {
		cfg.SourceType = "promptpay"
	}
	return &OmiseGateway{
		client:        client,
		webhookSecret: []byte(cfg.WebhookSecret),
		sourceType:    cfg.SourceType,
		returnURI:     cfg.ReturnURI,
		timeout:       cfg.Timeout,
	}, nil
}

// CreateOrder creates a payment source and a charge for the booking amount.
// The booking ID travels in charge metadata so webhook deliveries can be
// correlated back to the booking.
func (g *OmiseGateway) CreateOrder(ctx context.Context, bookingID string, amount model.Money, customer Customer) (Order, error) {
	src := &omise.Source{}
	err := g.do(ctx, func() error {
		return g.client.Do(src, &operations.CreateSource{
			Type:     g.sourceType,
			Amount:   amount.AmountMinor,
			Currency: strings.ToLower(amount.Currency),
		})
	})
	if err != nil {
		return Order{}, err
	}

	ch := &omise.Charge{}
	err = g.do(ctx, func() error {
		return g.client.Do(ch, &operations.CreateCharge{
			Amount:    amount.AmountMinor,
			Currency:  strings.ToLower(amount.Currency),
			Source:    src.ID,
			ReturnURI: g.returnURI,
			Metadata: map[string]interface{}{
				"booking_id":     bookingID,
				"customer_id":    customer.ID,
				"customer_email": customer.Email,
			},
		})
	})
	if err != nil {
		return Order{}, err
	}
	return Order{OrderID: ch.ID, CheckoutURL: ch.AuthorizeURI}, nil
}

// PollStatus retrieves the charge and maps its status. Safe to call
// repeatedly; it never mutates gateway state.
func (g *OmiseGateway) PollStatus(ctx context.Context, orderID string) (Settlement, error) {
	ch := &omise.Charge{}
	err := g.do(ctx, func() error {
		return g.client.Do(ch, &operations.RetrieveCharge{ChargeID: orderID})
	})
	if err != nil {
		return Settlement{}, err
	}
	txn := ch.Transaction
	if txn == "" {
		txn = ch.ID
	}
	return Settlement{
		Status:        mapChargeStatus(string(ch.Status)),
		Amount:        model.Money{AmountMinor: ch.Amount, Currency: strings.ToUpper(ch.Currency)},
		TransactionID: txn,
	}, nil
}

// VerifyWebhookSignature checks an HMAC-SHA256 hex signature over the raw
// payload. Constant-time comparison; an empty secret verifies nothing.
func (g *OmiseGateway) VerifyWebhookSignature(rawPayload []byte, signatureHeader string) bool {
	if len(g.webhookSecret) == 0 || signatureHeader == "" {
		return false
	}
	sig := strings.TrimPrefix(signatureHeader, "sha256=")
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, g.webhookSecret)
	mac.Write(rawPayload)
	return hmac.Equal(mac.Sum(nil), want)
}

// do runs one gateway call honoring context cancellation. The underlying
// client has its own timeout; ctx lets callers cancel earlier.
func (g *OmiseGateway) do(ctx context.Context, call func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- call()
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case err := <-done:
		if err != nil {
			return classify(err)
		}
		return nil
	}
}

func classify(err error) error {
	var apiErr *omise.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func mapChargeStatus(s string) model.SettlementStatus {
	switch s {
	case "successful":
		return model.SettlementCompleted
	case "failed", "expired", "reversed":
		return model.SettlementFailed
	default:
		// pending, awaiting_authorize and anything new count as in-flight.
		return model.SettlementPending
	}
}
