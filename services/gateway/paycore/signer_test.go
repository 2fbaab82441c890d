package paycore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		amountInCents int64
		expected      string
	}{
		{1250, "12.5"},
		{1200, "12"},
		{1234, "12.34"},
		{5, "0.05"},
		{50, "0.5"},
		{0, "0"},
		{100050, "1000.5"},
		{-1250, "-12.5"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, NormalizeAmount(tc.amountInCents), "amount %d", tc.amountInCents)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		amount   string
		expected int64
	}{
		{"12.5", 1250},
		{"12.50", 1250},
		{"12", 1200},
		{"12.34", 1234},
		{"0.05", 5},
		{"-12.5", -1250},
	}
	for _, tc := range tests {
		got, err := ParseAmount(tc.amount)
		assert.NoError(t, err)
		assert.Equal(t, tc.expected, got, "amount %s", tc.amount)
	}

	_, err := ParseAmount("12.345")
	assert.Error(t, err)
	_, err = ParseAmount("abc")
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	signer := NewSigner("topsecret")
	fields := SignatureFields{
		PaymentID:           "pay_123",
		Currency:            "EUR",
		BasketUID:           "basket_456",
		ConversationUID:     "conv_789",
		PaidAmountInCents:   9000,
		BasketAmountInCents: 10000,
	}

	signature := signer.Sign(fields)
	assert.NotEmpty(t, signature)
	assert.True(t, signer.Verify(fields, signature))

	tampered := fields
	tampered.PaidAmountInCents = 9001
	assert.False(t, signer.Verify(tampered, signature))

	otherSigner := NewSigner("othersecret")
	assert.False(t, otherSigner.Verify(fields, signature))
}

func TestSignatureStableAcrossRepresentations(t *testing.T) {
	// 12.50 and 12.5 are the same amount and must sign identically.
	signer := NewSigner("topsecret")

	fromGateway, err := ParseAmount("12.50")
	assert.NoError(t, err)
	ours, err := ParseAmount("12.5")
	assert.NoError(t, err)

	left := signer.Sign(SignatureFields{PaymentID: "p", Currency: "EUR", PaidAmountInCents: fromGateway, BasketAmountInCents: fromGateway})
	right := signer.Sign(SignatureFields{PaymentID: "p", Currency: "EUR", PaidAmountInCents: ours, BasketAmountInCents: ours})
	assert.Equal(t, left, right)
}
