package discount

import (
	"context"

	"github.com/MarcGrol/settlebackend/lib/mystore"
	"github.com/MarcGrol/settlebackend/lib/mytime"
)

// Validator is the settlement-facing part of the discount service.
//
//go:generate mockgen -source=api.go -package discount -destination validator_mock.go Validator
type Validator interface {
	// Validate checks a code against a candidate line-item set without
	// side effects.
	Validate(c context.Context, code string, candidateVariantUIDs []string) (ValidationResult, error)
	// Redeem increments the uses counter. Call it inside the settlement
	// transaction.
	Redeem(c context.Context, code string) error
}

func NewValidator(store mystore.Store[DiscountCode], nower mytime.Nower) Validator {
	return newService(store, nower)
}
