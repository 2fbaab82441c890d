package checkoutsession

import (
	"context"
	"time"

	"github.com/MarcGrol/settlebackend/lib/mystore"
	"github.com/MarcGrol/settlebackend/lib/mytime"
	"github.com/MarcGrol/settlebackend/lib/myuuid"
)

const DefaultTTL = 15 * time.Minute

//go:generate mockgen -source=api.go -package checkoutsession -destination manager_mock.go Manager
type Manager interface {
	// Create stores the session and fills in token, creation time and expiry.
	Create(c context.Context, session CheckoutSession) (CheckoutSession, error)
	// Get reads a session without consuming it.
	Get(c context.Context, token string) (CheckoutSession, error)
	// Consume atomically marks the session consumed. It fails with a
	// not-found, business-rule or conflict error when the session is
	// absent, expired or already consumed.
	Consume(c context.Context, token string) (CheckoutSession, error)
	// Cleanup removes a session and its snapshotted guest artifacts after
	// a failed or abandoned checkout.
	Cleanup(c context.Context, token string) error
}

func NewManager(store mystore.Store[CheckoutSession], nower mytime.Nower, uuider myuuid.UUIDer, ttl time.Duration) Manager {
	return newService(store, nower, uuider, ttl)
}
