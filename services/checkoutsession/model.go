package checkoutsession

import (
	"time"

	"github.com/MarcGrol/settlebackend/services/shopapi"
)

// CheckoutSession is a short-lived "intent to pay" record. The token is the
// gateway-visible correlation handle: it travels through the redirect
// round-trip because gateways do not preserve server-side session state.
// Price and address are snapshotted at creation and are authoritative for
// settlement: they are never recomputed at callback time.
type CheckoutSession struct {
	Token     string
	BasketUID string
	UserUID   string // empty for guest checkout
	Provider  string
	Currency  string
	TotalAmountInCents    int64
	DiscountCode          string
	DiscountAmountInCents int64
	Lines        []shopapi.Line
	Address      shopapi.Address
	ShopperEmail string
	ReturnURL    string
	ClientIP     string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	ConsumedAt   *time.Time
}

func (s CheckoutSession) isExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s CheckoutSession) isConsumed() bool {
	return s.ConsumedAt != nil
}
