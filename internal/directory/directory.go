// Package directory provides HTTP clients for the external listing and
// identity services. Both are read-only collaborators: the booking engine
// only asks who owns what and who is paying.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/stayhaven/booking-engine/internal/gateway"
	"github.com/stayhaven/booking-engine/internal/model"
	"github.com/stayhaven/booking-engine/internal/repository"
	"github.com/stayhaven/booking-engine/internal/service"
)

// PropertyClient looks listings up from the listing service.
type PropertyClient struct {
	baseURL string
	client  *http.Client
}

// NewPropertyClient constructs a PropertyClient with a bounded timeout.
func NewPropertyClient(baseURL string, timeout time.Duration) *PropertyClient {
	return &PropertyClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type propertyPayload struct {
	ID               string `json:"id"`
	HostID           string `json:"host_id"`
	NightlyRateMinor int64  `json:"nightly_rate_minor"`
	Currency         string `json:"currency"`
	MaxGuests        int    `json:"max_guests"`
	InstantBook      bool   `json:"instant_book"`
	PolicyTier       string `json:"policy_tier"`
	PolicyWindow     int    `json:"policy_window"` // hours for FLEXIBLE, days otherwise
	PolicyFloorPct   int    `json:"policy_floor_pct"`
}

// Lookup fetches one listing snapshot.
func (c *PropertyClient) Lookup(ctx context.Context, propertyID string) (service.Property, error) {
	var p propertyPayload
	if err := c.getJSON(ctx, "/properties/"+url.PathEscape(propertyID), &p); err != nil {
		return service.Property{}, err
	}

	rate, err := model.NewMoney(p.NightlyRateMinor, p.Currency)
	if err != nil {
		return service.Property{}, fmt.Errorf("listing service returned bad rate: %w", err)
	}
	tier, err := model.ParsePolicyTier(p.PolicyTier)
	if err != nil {
		return service.Property{}, err
	}
	var policy model.CancellationPolicy
	switch tier {
	case model.PolicyFlexible:
		policy = model.NewFlexiblePolicy(p.PolicyWindow, p.PolicyFloorPct)
	case model.PolicyModerate:
		policy = model.NewModeratePolicy(p.PolicyWindow, p.PolicyFloorPct)
	default:
		policy = model.NewFixedPolicy(p.PolicyWindow, p.PolicyFloorPct)
	}

	return service.Property{
		ID:          p.ID,
		HostID:      p.HostID,
		NightlyRate: rate,
		MaxGuests:   p.MaxGuests,
		Policy:      policy,
		InstantBook: p.InstantBook,
	}, nil
}

// IdentityClient resolves user IDs to payer identities.
type IdentityClient struct {
	baseURL string
	client  *http.Client
}

// NewIdentityClient constructs an IdentityClient with a bounded timeout.
func NewIdentityClient(baseURL string, timeout time.Duration) *IdentityClient {
	return &IdentityClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// Lookup fetches the payer identity for a user.
func (c *IdentityClient) Lookup(ctx context.Context, userID string) (gateway.Customer, error) {
	var cust gateway.Customer
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(userID), &cust); err != nil {
		return gateway.Customer{}, err
	}
	return cust, nil
}

func (c *PropertyClient) getJSON(ctx context.Context, path string, dst any) error {
	return getJSON(ctx, c.client, c.baseURL+path, dst)
}

func (c *IdentityClient) getJSON(ctx context.Context, path string, dst any) error {
	return getJSON(ctx, c.client, c.baseURL+path, dst)
}

func getJSON(ctx context.Context, client *http.Client, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("directory lookup: %w", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return repository.ErrNotFound
	case res.StatusCode != http.StatusOK:
		return fmt.Errorf("directory lookup: unexpected status %d", res.StatusCode)
	}
	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		return fmt.Errorf("directory lookup: decode: %w", err)
	}
	return nil
}
