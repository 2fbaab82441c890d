package shopapi

import (
	"fmt"
	"net/http"
	"net/url"

	formcodec "github.com/go-playground/form/v4"
	"github.com/go-playground/validator/v10"

	"github.com/MarcGrol/settlebackend/lib/myerrors"
)

// Checkout is the form-encoded payload submitted by the shop frontend to
// start a payment.
type Checkout struct {
	Provider     string  `form:"provider" validate:"required,oneof=paycore trustpay"`
	BasketUID    string  `form:"basketUid" validate:"required"`
	UserUID      string  `form:"userUid"` // empty for guest checkout
	Currency     string  `form:"currency" validate:"required,len=3"`
	ReturnURL    string  `form:"returnUrl" validate:"required,url"`
	DiscountCode string  `form:"discountCode"`
	ShopperEmail string  `form:"shopperEmail" validate:"omitempty,email"`
	Lines        []Line  `form:"lines" validate:"required,min=1,dive"`
	Address      Address `form:"address"`
}

type Line struct {
	VariantUID       string `form:"variantUid" validate:"required"`
	Description      string `form:"description"`
	VariantKind      string `form:"kind" validate:"required,oneof=weight size color"`
	VariantValue     string `form:"value"`
	Quantity         int    `form:"quantity" validate:"required,gt=0"`
	UnitPriceInCents int64  `form:"unitPriceInCents" validate:"required,gt=0"`
}

type Address struct {
	Street      string `form:"street"`
	HouseNumber string `form:"houseNumber"`
	PostalCode  string `form:"postalCode"`
	City        string `form:"city"`
	Country     string `form:"country"`
}

func NewFromRequest(r *http.Request) (Checkout, error) {
	err := r.ParseForm()
	if err != nil {
		return Checkout{}, myerrors.NewInvalidInputError(err)
	}
	return NewFromValues(r.Form)
}

func NewFromValues(values url.Values) (Checkout, error) {
	checkout := Checkout{}
	err := formcodec.NewDecoder().Decode(&checkout, values)
	if err != nil {
		return checkout, myerrors.NewInvalidInputError(fmt.Errorf("error decoding form: %s", err))
	}

	return checkout, nil
}

func (c Checkout) ToForm() (url.Values, error) {
	values, err := formcodec.NewEncoder().Encode(c)
	if err != nil {
		return nil, fmt.Errorf("error encoding form: %s", err)
	}

	return values, nil
}

var validate = validator.New()

func (c Checkout) Validate() error {
	err := validate.Struct(c)
	if err != nil {
		return myerrors.NewInvalidInputError(fmt.Errorf("invalid checkout: %s", err))
	}

	return nil
}

// TotalInCents is the cart total before discount.
func (c Checkout) TotalInCents() int64 {
	var total int64
	for _, line := range c.Lines {
		total += line.UnitPriceInCents * int64(line.Quantity)
	}
	return total
}

func (c Checkout) VariantUIDs() []string {
	uids := make([]string, 0, len(c.Lines))
	for _, line := range c.Lines {
		uids = append(uids, line.VariantUID)
	}
	return uids
}
