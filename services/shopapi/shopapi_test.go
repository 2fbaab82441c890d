package shopapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormRoundTrip(t *testing.T) {
	checkout := validCheckout()

	values, err := checkout.ToForm()
	assert.NoError(t, err)

	decoded, err := NewFromValues(values)
	assert.NoError(t, err)
	assert.Equal(t, checkout, decoded)
}

func TestValidate(t *testing.T) {
	checkout := validCheckout()
	assert.NoError(t, checkout.Validate())

	noLines := validCheckout()
	noLines.Lines = nil
	assert.Error(t, noLines.Validate())

	badProvider := validCheckout()
	badProvider.Provider = "unknownpay"
	assert.Error(t, badProvider.Validate())

	zeroQuantity := validCheckout()
	zeroQuantity.Lines[0].Quantity = 0
	assert.Error(t, zeroQuantity.Validate())
}

func TestTotalInCents(t *testing.T) {
	checkout := validCheckout()
	assert.Equal(t, int64(2*1250+4000), checkout.TotalInCents())
	assert.Equal(t, []string{"variant-1", "variant-2"}, checkout.VariantUIDs())
}

func validCheckout() Checkout {
	return Checkout{
		Provider:     "paycore",
		BasketUID:    "basket-123",
		UserUID:      "user-1",
		Currency:     "EUR",
		ReturnURL:    "https://shop.example.com/basket/basket-123",
		DiscountCode: "SAVE10",
		ShopperEmail: "shopper@example.com",
		Lines: []Line{
			{
				VariantUID:       "variant-1",
				Description:      "Beans",
				VariantKind:      "weight",
				VariantValue:     "500",
				Quantity:         2,
				UnitPriceInCents: 1250,
			},
			{
				VariantUID:       "variant-2",
				Description:      "Shirt",
				VariantKind:      "size",
				VariantValue:     "m",
				Quantity:         1,
				UnitPriceInCents: 4000,
			},
		},
		Address: Address{
			Street:      "Main street",
			HouseNumber: "1",
			PostalCode:  "1234AB",
			City:        "Amsterdam",
			Country:     "NL",
		},
	}
}
