package discount

import (
	"time"
)

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

type DiscountCode struct {
	Code          string
	Type          DiscountType
	AmountInCents int64 // fixed discounts
	Percentage    int   // percentage discounts
	Active        bool
	ExpiresAt     *time.Time
	UsageLimit    int
	TimesUsed     int
	// empty means the code applies to all variants
	VariantUIDs  []string
	CreatedAt    time.Time
	LastModified *time.Time
}

// AmountFor computes the discount over a cart total.
func (d DiscountCode) AmountFor(totalInCents int64) int64 {
	switch d.Type {
	case DiscountTypePercentage:
		return totalInCents * int64(d.Percentage) / 100
	case DiscountTypeFixed:
		if d.AmountInCents > totalInCents {
			return totalInCents
		}
		return d.AmountInCents
	default:
		return 0
	}
}

func (d DiscountCode) appliesToAllVariants() bool {
	return len(d.VariantUIDs) == 0
}

func (d DiscountCode) covers(variantUID string) bool {
	for _, uid := range d.VariantUIDs {
		if uid == variantUID {
			return true
		}
	}
	return false
}

type ValidationResult struct {
	Valid  bool
	Reason string
	Code   DiscountCode
}
