package paycore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// SignatureFields are the fields that participate in the paycore signature,
// in the order prescribed by the gateway.
type SignatureFields struct {
	PaymentID           string
	Currency            string
	BasketUID           string
	ConversationUID     string
	PaidAmountInCents   int64
	BasketAmountInCents int64
}

// Signer computes and verifies paycore message authentication codes.
// It is stateless: all key material is injected at construction.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{
		secret: []byte(secret),
	}
}

func (s *Signer) Sign(fields SignatureFields) string {
	payload := fields.PaymentID +
		fields.Currency +
		fields.BasketUID +
		fields.ConversationUID +
		NormalizeAmount(fields.PaidAmountInCents) +
		NormalizeAmount(fields.BasketAmountInCents)

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))

	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches. A mismatch is an authentication
// failure, never a transient error.
func (s *Signer) Verify(fields SignatureFields, signature string) bool {
	expected := s.Sign(fields)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// NormalizeAmount renders cents as the canonical decimal string the gateway
// signs: trailing zeros and a trailing decimal point are stripped, so
// 1250 -> "12.5", 1200 -> "12" and 1234 -> "12.34".
func NormalizeAmount(amountInCents int64) string {
	sign := ""
	if amountInCents < 0 {
		sign = "-"
		amountInCents = -amountInCents
	}

	formatted := fmt.Sprintf("%d.%02d", amountInCents/100, amountInCents%100)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimSuffix(formatted, ".")

	return sign + formatted
}

// ParseAmount is the inverse of NormalizeAmount. It deliberately avoids
// floating point.
func ParseAmount(amount string) (int64, error) {
	whole, frac, _ := strings.Cut(amount, ".")

	negative := strings.HasPrefix(whole, "-")
	whole = strings.TrimPrefix(whole, "-")

	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %s has sub-cent precision", amount)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	wholeValue, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing amount %s: %s", amount, err)
	}
	fracValue, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing amount %s: %s", amount, err)
	}

	result := wholeValue*100 + fracValue
	if negative {
		result = -result
	}

	return result, nil
}
