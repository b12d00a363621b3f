package service

import "github.com/stayhaven/booking-engine/internal/model"

// BookingView is what the API returns for a booking. Guests see a simple
// payment state; hosts additionally see their earnings and the
// late-settlement anomaly flag that queues manual refunds.
type BookingView struct {
	Booking model.Booking `json:"booking"`
	// PaymentState is the guest-facing summary: pending, confirmed, failed,
	// refunded or expired.
	PaymentState string `json:"payment_state"`
	// HostEarnings is the host's share of the total at the configured take
	// rate. Only present on host views.
	HostEarnings *model.Money `json:"host_earnings,omitempty"`
	// LateSettlement surfaces the forced-refund anomaly to hosts/operators.
	LateSettlement bool `json:"late_settlement,omitempty"`
}

func (s *BookingService) view(b *model.Booking, hostView bool) *BookingView {
	v := &BookingView{
		Booking:      *b,
		PaymentState: paymentState(b),
	}
	if hostView {
		earnings := b.TotalPrice.Scale(s.cfg.HostTakeRate)
		v.HostEarnings = &earnings
		v.LateSettlement = b.LateSettlement
	} else {
		// Guests never see the anomaly flag; it is an operator concern.
		v.Booking.LateSettlement = false
		v.Booking.LateSettlementTxnID = ""
		v.Booking.LateSettlementAmount = b.TotalPrice.Zero()
	}
	return v
}

func (s *BookingService) views(bs []model.Booking, hostView bool) []BookingView {
	out := make([]BookingView, 0, len(bs))
	for i := range bs {
		out = append(out, *s.view(&bs[i], hostView))
	}
	return out
}

// paymentState collapses the two status axes into the user-visible summary.
func paymentState(b *model.Booking) string {
	switch {
	case b.Status == model.StatusConfirmed:
		return "confirmed"
	case b.Status == model.StatusExpired:
		return "expired"
	case b.PaymentStatus == model.PaymentFailed:
		return "failed"
	case b.PaymentStatus == model.PaymentRefunded || b.PaymentStatus == model.PaymentPartiallyRefunded:
		return "refunded"
	default:
		return "pending"
	}
}
