package paycore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MarcGrol/settlebackend/lib/myerrors"
	"github.com/MarcGrol/settlebackend/services/gateway"
)

type Config struct {
	BaseURL     string
	APIKey      string
	SecretKey   string
	MerchantUID string
	Timeout     time.Duration
}

type client struct {
	config     Config
	signer     *Signer
	httpClient *http.Client
}

// NewClient returns a gateway.Client speaking the paycore wire protocol.
func NewClient(config Config) gateway.Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &client{
		config: config,
		signer: NewSigner(config.SecretKey),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type createPaymentRequest struct {
	ConversationID string              `json:"conversationId"`
	BasketID       string              `json:"basketId"`
	Price          string              `json:"price"`
	PaidPrice      string              `json:"paidPrice"`
	Currency       string              `json:"currency"`
	CallbackURL    string              `json:"callbackUrl"`
	BuyerID        string              `json:"buyerId,omitempty"`
	BuyerEmail     string              `json:"buyerEmail,omitempty"`
	BuyerIP        string              `json:"buyerIp,omitempty"`
	Items          []createPaymentItem `json:"basketItems"`
	Signature      string              `json:"signature"`
}

type createPaymentItem struct {
	ItemID   string `json:"itemId"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

type createPaymentResponse struct {
	Status         string `json:"status"`
	PaymentPageURL string `json:"paymentPageUrl"`
	ErrorMessage   string `json:"errorMessage"`
}

func (cl *client) CreatePayment(c context.Context, request gateway.PaymentRequest) (string, error) {
	req := createPaymentRequest{
		ConversationID: request.ConversationUID,
		BasketID:       request.BasketUID,
		Price:          NormalizeAmount(request.AmountInCents),
		PaidPrice:      NormalizeAmount(request.AmountInCents),
		Currency:       request.Currency,
		CallbackURL:    request.CallbackURL,
		BuyerID:        request.ShopperUID,
		BuyerEmail:     request.ShopperEmail,
		BuyerIP:        request.ClientIP,
	}
	for _, item := range request.Items {
		req.Items = append(req.Items, createPaymentItem{
			ItemID:   item.VariantUID,
			Name:     item.Description,
			Quantity: item.Quantity,
			Price:    NormalizeAmount(item.PriceInCents),
		})
	}
	req.Signature = cl.signer.Sign(SignatureFields{
		Currency:            request.Currency,
		BasketUID:           request.BasketUID,
		ConversationUID:     request.ConversationUID,
		PaidAmountInCents:   request.AmountInCents,
		BasketAmountInCents: request.AmountInCents,
	})

	resp := createPaymentResponse{}
	err := cl.call(c, "/v1/payments", req, &resp)
	if err != nil {
		return "", err
	}
	if resp.Status != "success" {
		return "", myerrors.NewInvalidInputError(fmt.Errorf("paycore rejected payment creation: %s", resp.ErrorMessage))
	}

	return resp.PaymentPageURL, nil
}

type retrievePaymentRequest struct {
	PaymentID string `json:"paymentId"`
}

type retrievePaymentResponse struct {
	Status           string                    `json:"status"`
	ErrorMessage     string                    `json:"errorMessage"`
	PaymentID        string                    `json:"paymentId"`
	ConversationID   string                    `json:"conversationId"`
	BasketID         string                    `json:"basketId"`
	PaymentStatus    string                    `json:"paymentStatus"`
	Price            string                    `json:"price"`
	PaidPrice        string                    `json:"paidPrice"`
	Currency         string                    `json:"currency"`
	MaskedCardNumber string                    `json:"maskedCardNumber"`
	Signature        string                    `json:"signature"`
	ItemTransactions []retrieveItemTransaction `json:"itemTransactions"`
}

type retrieveItemTransaction struct {
	PaymentTransactionID string `json:"paymentTransactionId"`
	ItemID               string `json:"itemId"`
	PaidPrice            string `json:"paidPrice"`
}

func (cl *client) RetrievePayment(c context.Context, paymentID string) (gateway.PaymentDetails, error) {
	resp := retrievePaymentResponse{}
	err := cl.call(c, "/v1/payments/detail", retrievePaymentRequest{PaymentID: paymentID}, &resp)
	if err != nil {
		return gateway.PaymentDetails{}, err
	}
	if resp.Status != "success" {
		return gateway.PaymentDetails{}, myerrors.NewInvalidInputError(fmt.Errorf("paycore could not retrieve payment %s: %s", paymentID, resp.ErrorMessage))
	}

	paidAmount, err := ParseAmount(resp.PaidPrice)
	if err != nil {
		return gateway.PaymentDetails{}, myerrors.NewInternalError(fmt.Errorf("error parsing paid price of payment %s: %s", paymentID, err))
	}
	basketAmount, err := ParseAmount(resp.Price)
	if err != nil {
		return gateway.PaymentDetails{}, myerrors.NewInternalError(fmt.Errorf("error parsing price of payment %s: %s", paymentID, err))
	}

	// The response carries its own mac so a spoofed or tampered detail
	// response can never settle an order.
	authentic := cl.signer.Verify(SignatureFields{
		PaymentID:           resp.PaymentID,
		Currency:            resp.Currency,
		BasketUID:           resp.BasketID,
		ConversationUID:     resp.ConversationID,
		PaidAmountInCents:   paidAmount,
		BasketAmountInCents: basketAmount,
	}, resp.Signature)
	if !authentic {
		return gateway.PaymentDetails{}, myerrors.NewAuthenticationError(fmt.Errorf("signature mismatch on payment %s", paymentID))
	}

	details := gateway.PaymentDetails{
		PaymentID:        resp.PaymentID,
		ConversationUID:  resp.ConversationID,
		Status:           classifyStatus(resp.PaymentStatus),
		AmountInCents:    paidAmount,
		Currency:         resp.Currency,
		MaskedCardNumber: resp.MaskedCardNumber,
	}
	for _, trans := range resp.ItemTransactions {
		transAmount, err := ParseAmount(trans.PaidPrice)
		if err != nil {
			return gateway.PaymentDetails{}, myerrors.NewInternalError(fmt.Errorf("error parsing transaction %s of payment %s: %s", trans.PaymentTransactionID, paymentID, err))
		}
		details.ItemTransactions = append(details.ItemTransactions, gateway.ItemTransaction{
			TransactionUID: trans.PaymentTransactionID,
			VariantUID:     trans.ItemID,
			PriceInCents:   transAmount,
		})
	}

	return details, nil
}

type refundRequest struct {
	PaymentTransactionID string `json:"paymentTransactionId"`
	Price                string `json:"price"`
	Currency             string `json:"currency"`
}

type refundResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}

func (cl *client) RefundTransaction(c context.Context, transactionUID string, amountInCents int64, currency string) error {
	resp := refundResponse{}
	err := cl.call(c, "/v1/refunds", refundRequest{
		PaymentTransactionID: transactionUID,
		Price:                NormalizeAmount(amountInCents),
		Currency:             currency,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.Status != "success" {
		return myerrors.NewInvalidInputError(fmt.Errorf("paycore rejected refund of transaction %s: %s", transactionUID, resp.ErrorMessage))
	}

	return nil
}

// call posts a json request and decodes the json response. Transport errors
// and gateway 5xx are unknown outcomes and surface as unavailable.
func (cl *client) call(c context.Context, path string, requestBody any, responseBody any) error {
	body, err := json.Marshal(requestBody)
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error marshalling paycore request: %s", err))
	}

	httpReq, err := http.NewRequestWithContext(c, http.MethodPost, cl.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error creating paycore request: %s", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", cl.config.APIKey)
	httpReq.Header.Set("X-Merchant-Id", cl.config.MerchantUID)

	httpResp, err := cl.httpClient.Do(httpReq)
	if err != nil {
		return myerrors.NewUnavailableError(fmt.Errorf("error calling paycore %s: %s", path, err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusInternalServerError {
		return myerrors.NewUnavailableError(fmt.Errorf("paycore %s returned status %d", path, httpResp.StatusCode))
	}
	if httpResp.StatusCode >= http.StatusMultipleChoices {
		return myerrors.NewInternalError(fmt.Errorf("paycore %s returned status %d", path, httpResp.StatusCode))
	}

	err = json.NewDecoder(httpResp.Body).Decode(responseBody)
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error parsing paycore %s response: %s", path, err))
	}

	return nil
}

func classifyStatus(paymentStatus string) gateway.PaymentResultStatus {
	if paymentStatus == "SUCCESS" {
		return gateway.PaymentResultSuccess
	}
	return gateway.PaymentResultFailure
}
