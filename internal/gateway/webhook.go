package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stayhaven/booking-engine/internal/model"
)

// WebhookDelivery is the decoded, provider-shaped webhook event. Deliveries
// are duplicated and re-ordered by gateways; the event ID is the dedup key.
type WebhookDelivery struct {
	EventID       string
	EventType     string
	OrderID       string
	TransactionID string
	BookingID     string
	AmountMinor   int64
	Currency      string
	ChargeStatus  string
}

type webhookEnvelope struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Data struct {
		Object      string `json:"object"`
		ID          string `json:"id"`
		Status      string `json:"status"`
		Amount      int64  `json:"amount"`
		Currency    string `json:"currency"`
		Transaction string `json:"transaction"`
		Metadata    struct {
			BookingID string `json:"booking_id"`
		} `json:"metadata"`
	} `json:"data"`
}

// ParseWebhookDelivery decodes an Omise-style event payload.
func ParseWebhookDelivery(raw []byte) (WebhookDelivery, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return WebhookDelivery{}, fmt.Errorf("%w: malformed webhook payload: %v", ErrInvalidRequest, err)
	}
	if env.ID == "" {
		return WebhookDelivery{}, fmt.Errorf("%w: webhook payload missing event id", ErrInvalidRequest)
	}
	txn := env.Data.Transaction
	if txn == "" {
		txn = env.Data.ID
	}
	return WebhookDelivery{
		EventID:       env.ID,
		EventType:     env.Key,
		OrderID:       env.Data.ID,
		TransactionID: txn,
		BookingID:     env.Data.Metadata.BookingID,
		AmountMinor:   env.Data.Amount,
		Currency:      strings.ToUpper(env.Data.Currency),
		ChargeStatus:  env.Data.Status,
	}, nil
}

// SettlementStatus maps the provider charge status string onto the engine's
// settlement status axis.
func (d WebhookDelivery) SettlementStatus() model.SettlementStatus {
	return mapChargeStatus(d.ChargeStatus)
}
