package discount

import (
	"context"
	"fmt"

	"github.com/MarcGrol/settlebackend/lib/myerrors"
	"github.com/MarcGrol/settlebackend/lib/mylog"
	"github.com/MarcGrol/settlebackend/lib/mystore"
	"github.com/MarcGrol/settlebackend/lib/mytime"
)

type service struct {
	store  mystore.Store[DiscountCode]
	nower  mytime.Nower
	logger mylog.Logger
}

// Use dependency injection to isolate the infrastructure and easy testing
func newService(store mystore.Store[DiscountCode], nower mytime.Nower) *service {
	return &service{
		store:  store,
		nower:  nower,
		logger: mylog.New("discount"),
	}
}

// Validate checks a code against a candidate line-item set. Pure read: the
// uses counter is incremented at settlement, not here, so abandoned checkout
// attempts never burn a redemption.
func (s *service) Validate(c context.Context, code string, candidateVariantUIDs []string) (ValidationResult, error) {
	discountCode, found, err := s.store.Get(c, code)
	if err != nil {
		return ValidationResult{}, myerrors.NewInternalError(fmt.Errorf("error fetching discount code %s: %s", code, err))
	}
	if !found {
		return ValidationResult{Reason: "code does not exist"}, nil
	}
	if !discountCode.Active {
		return ValidationResult{Reason: "code is not active"}, nil
	}
	if discountCode.ExpiresAt != nil && !s.nower.Now().Before(*discountCode.ExpiresAt) {
		return ValidationResult{Reason: "code is expired"}, nil
	}
	if discountCode.TimesUsed >= discountCode.UsageLimit {
		return ValidationResult{Reason: "code is exhausted"}, nil
	}
	if !discountCode.appliesToAllVariants() {
		// any single non-covered item invalidates the whole cart application
		for _, variantUID := range candidateVariantUIDs {
			if !discountCode.covers(variantUID) {
				return ValidationResult{Reason: fmt.Sprintf("code does not apply to item %s", variantUID)}, nil
			}
		}
	}

	return ValidationResult{Valid: true, Code: discountCode}, nil
}

// Redeem increments the uses counter. It must be called inside the
// settlement transaction so the increment commits atomically with the order.
func (s *service) Redeem(c context.Context, code string) error {
	discountCode, found, err := s.store.Get(c, code)
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error fetching discount code %s: %s", code, err))
	}
	if !found {
		return myerrors.NewNotFoundError(fmt.Errorf("discount code %s not found", code))
	}
	if discountCode.TimesUsed >= discountCode.UsageLimit {
		return myerrors.NewBusinessRuleError(fmt.Errorf("discount code %s is exhausted", code))
	}

	now := s.nower.Now()
	discountCode.TimesUsed++
	discountCode.LastModified = &now

	err = s.store.Put(c, code, discountCode)
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error storing discount code %s: %s", code, err))
	}

	s.logger.Log(c, code, mylog.SeverityInfo, "Discount code %s redeemed (%d/%d)", code, discountCode.TimesUsed, discountCode.UsageLimit)

	return nil
}

func (s *service) upsert(c context.Context, discountCode DiscountCode) (DiscountCode, error) {
	now := s.nower.Now()

	err := s.store.RunInTransaction(c, func(c context.Context) error {
		existing, found, err := s.store.Get(c, discountCode.Code)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error fetching discount code %s: %s", discountCode.Code, err))
		}
		if found {
			// the running counter survives administrative edits
			discountCode.TimesUsed = existing.TimesUsed
			discountCode.CreatedAt = existing.CreatedAt
			discountCode.LastModified = &now
		} else {
			discountCode.CreatedAt = now
		}

		return s.store.Put(c, discountCode.Code, discountCode)
	})
	if err != nil {
		return DiscountCode{}, err
	}

	return discountCode, nil
}

func (s *service) get(c context.Context, code string) (DiscountCode, error) {
	discountCode, found, err := s.store.Get(c, code)
	if err != nil {
		return DiscountCode{}, myerrors.NewInternalError(fmt.Errorf("error fetching discount code %s: %s", code, err))
	}
	if !found {
		return DiscountCode{}, myerrors.NewNotFoundError(fmt.Errorf("discount code %s not found", code))
	}

	return discountCode, nil
}
