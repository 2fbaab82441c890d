package trustpay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"encoding/json"

	"github.com/MarcGrol/settlebackend/lib/myerrors"
	"github.com/MarcGrol/settlebackend/services/gateway"
)

type Config struct {
	BaseURL     string
	Secret      string
	MerchantUID string
	TerminalUID string
	Timeout     time.Duration
}

type client struct {
	config     Config
	signer     *Signer
	httpClient *http.Client
}

// NewClient returns a gateway.Client speaking the trustpay wire protocol.
// All request and response bodies travel as signed tokens.
func NewClient(config Config) gateway.Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &client{
		config: config,
		signer: NewSigner(config.Secret, config.MerchantUID, config.TerminalUID),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type createPaymentRequest struct {
	ConversationID string              `json:"conversationId"`
	BasketID       string              `json:"basketId"`
	AmountInCents  int64               `json:"amount"`
	Currency       string              `json:"currency"`
	CallbackURL    string              `json:"callbackUrl"`
	ShopperID      string              `json:"shopperId,omitempty"`
	ShopperEmail   string              `json:"shopperEmail,omitempty"`
	Items          []createPaymentItem `json:"items"`
}

type createPaymentItem struct {
	ItemID        string `json:"itemId"`
	Description   string `json:"description"`
	Quantity      int    `json:"quantity"`
	AmountInCents int64  `json:"amount"`
}

type createPaymentResponse struct {
	Result      string `json:"result"`
	Reason      string `json:"reason"`
	RedirectURL string `json:"redirectUrl"`
}

func (cl *client) CreatePayment(c context.Context, request gateway.PaymentRequest) (string, error) {
	req := createPaymentRequest{
		ConversationID: request.ConversationUID,
		BasketID:       request.BasketUID,
		AmountInCents:  request.AmountInCents,
		Currency:       request.Currency,
		CallbackURL:    request.CallbackURL,
		ShopperID:      request.ShopperUID,
		ShopperEmail:   request.ShopperEmail,
	}
	for _, item := range request.Items {
		req.Items = append(req.Items, createPaymentItem{
			ItemID:        item.VariantUID,
			Description:   item.Description,
			Quantity:      item.Quantity,
			AmountInCents: item.PriceInCents,
		})
	}

	resp := createPaymentResponse{}
	err := cl.call(c, "/api/v1/payment", req, &resp)
	if err != nil {
		return "", err
	}
	if resp.Result != "OK" {
		return "", myerrors.NewInvalidInputError(fmt.Errorf("trustpay rejected payment creation: %s", resp.Reason))
	}

	return resp.RedirectURL, nil
}

type retrievePaymentRequest struct {
	PaymentID string `json:"paymentId"`
}

type retrievePaymentResponse struct {
	Result           string                    `json:"result"`
	Reason           string                    `json:"reason"`
	PaymentID        string                    `json:"paymentId"`
	ConversationID   string                    `json:"conversationId"`
	PaymentStatus    string                    `json:"paymentStatus"`
	AmountInCents    int64                     `json:"amount"`
	Currency         string                    `json:"currency"`
	MaskedCardNumber string                    `json:"maskedCardNumber"`
	Transactions     []retrieveItemTransaction `json:"transactions"`
}

type retrieveItemTransaction struct {
	TransactionID string `json:"transactionId"`
	ItemID        string `json:"itemId"`
	AmountInCents int64  `json:"amount"`
}

func (cl *client) RetrievePayment(c context.Context, paymentID string) (gateway.PaymentDetails, error) {
	resp := retrievePaymentResponse{}
	err := cl.call(c, "/api/v1/payment/detail", retrievePaymentRequest{PaymentID: paymentID}, &resp)
	if err != nil {
		return gateway.PaymentDetails{}, err
	}
	if resp.Result != "OK" {
		return gateway.PaymentDetails{}, myerrors.NewInvalidInputError(fmt.Errorf("trustpay could not retrieve payment %s: %s", paymentID, resp.Reason))
	}

	details := gateway.PaymentDetails{
		PaymentID:        resp.PaymentID,
		ConversationUID:  resp.ConversationID,
		Status:           classifyStatus(resp.PaymentStatus),
		AmountInCents:    resp.AmountInCents,
		Currency:         resp.Currency,
		MaskedCardNumber: resp.MaskedCardNumber,
	}
	for _, trans := range resp.Transactions {
		details.ItemTransactions = append(details.ItemTransactions, gateway.ItemTransaction{
			TransactionUID: trans.TransactionID,
			VariantUID:     trans.ItemID,
			PriceInCents:   trans.AmountInCents,
		})
	}

	return details, nil
}

type refundRequest struct {
	TransactionID string `json:"transactionId"`
	AmountInCents int64  `json:"amount"`
	Currency      string `json:"currency"`
}

type refundResponse struct {
	Result string `json:"result"`
	Reason string `json:"reason"`
}

func (cl *client) RefundTransaction(c context.Context, transactionUID string, amountInCents int64, currency string) error {
	resp := refundResponse{}
	err := cl.call(c, "/api/v1/refund", refundRequest{
		TransactionID: transactionUID,
		AmountInCents: amountInCents,
		Currency:      currency,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Result != "OK" {
		return myerrors.NewInvalidInputError(fmt.Errorf("trustpay rejected refund of transaction %s: %s", transactionUID, resp.Reason))
	}

	return nil
}

// call sends a signed token and expects a signed token back. Transport
// errors and gateway 5xx are unknown outcomes and surface as unavailable.
func (cl *client) call(c context.Context, path string, requestBody any, responseBody any) error {
	payload, err := json.Marshal(requestBody)
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error marshalling trustpay request: %s", err))
	}
	token, err := cl.signer.Sign(payload)
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error signing trustpay request: %s", err))
	}

	httpReq, err := http.NewRequestWithContext(c, http.MethodPost, cl.config.BaseURL+path, strings.NewReader(token))
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error creating trustpay request: %s", err))
	}
	httpReq.Header.Set("Content-Type", "application/jose")
	httpReq.Header.Set("X-Merchant-Id", cl.config.MerchantUID)
	httpReq.Header.Set("X-Terminal-Id", cl.config.TerminalUID)

	httpResp, err := cl.httpClient.Do(httpReq)
	if err != nil {
		return myerrors.NewUnavailableError(fmt.Errorf("error calling trustpay %s: %s", path, err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusInternalServerError {
		return myerrors.NewUnavailableError(fmt.Errorf("trustpay %s returned status %d", path, httpResp.StatusCode))
	}
	if httpResp.StatusCode >= http.StatusMultipleChoices {
		return myerrors.NewInternalError(fmt.Errorf("trustpay %s returned status %d", path, httpResp.StatusCode))
	}

	responseToken, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error reading trustpay %s response: %s", path, err))
	}

	responsePayload, authentic := cl.signer.Verify(strings.TrimSpace(string(responseToken)))
	if !authentic {
		return myerrors.NewAuthenticationError(fmt.Errorf("signature mismatch on trustpay %s response", path))
	}

	err = json.Unmarshal(responsePayload, responseBody)
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error parsing trustpay %s response: %s", path, err))
	}

	return nil
}

func classifyStatus(paymentStatus string) gateway.PaymentResultStatus {
	if paymentStatus == "SUCCESS" {
		return gateway.PaymentResultSuccess
	}
	return gateway.PaymentResultFailure
}
