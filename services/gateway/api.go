package gateway

import (
	"context"
)

// PaymentRequest instructs a payment gateway to start a hosted payment.
// ConversationUID is echoed back by the gateway on retrieval and is used
// to tie the gateway's answer to our checkout session.
type PaymentRequest struct {
	ConversationUID string
	BasketUID       string
	AmountInCents   int64
	Currency        string
	CallbackURL     string
	ShopperUID      string
	ShopperEmail    string
	ClientIP        string
	Items           []ItemRequest
}

type ItemRequest struct {
	VariantUID   string
	Description  string
	Quantity     int
	PriceInCents int64
}

// PaymentDetails is the gateway's authoritative view on a payment,
// fetched server-to-server after a callback or webhook.
type PaymentDetails struct {
	PaymentID        string
	ConversationUID  string
	Status           PaymentResultStatus
	AmountInCents    int64
	Currency         string
	MaskedCardNumber string
	ItemTransactions []ItemTransaction
}

type PaymentResultStatus string

const (
	PaymentResultSuccess PaymentResultStatus = "success"
	PaymentResultFailure PaymentResultStatus = "failure"
)

// ItemTransaction is a single gateway-side transaction. Gateways split a
// payment into one transaction per purchased unit.
type ItemTransaction struct {
	TransactionUID string
	VariantUID     string
	PriceInCents   int64
}

//go:generate mockgen -source=api.go -package gateway -destination client_mock.go Client
type Client interface {
	// CreatePayment initializes a hosted payment and returns the url to
	// redirect the shopper to.
	CreatePayment(c context.Context, request PaymentRequest) (string, error)
	// RetrievePayment fetches payment details server-to-server and verifies
	// the gateway's signature on the response.
	RetrievePayment(c context.Context, paymentID string) (PaymentDetails, error)
	// RefundTransaction refunds a single item transaction.
	RefundTransaction(c context.Context, transactionUID string, amountInCents int64, currency string) error
}
