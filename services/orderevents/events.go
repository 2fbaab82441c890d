package orderevents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/MarcGrol/settlebackend/lib/myerrors"
	"github.com/MarcGrol/settlebackend/lib/myevents"
)

const (
	TopicName                = "order"
	orderSettledName         = TopicName + ".settled"
	paymentStatusChangedName = TopicName + ".paymentStatusChanged"
	refundRequestedName      = TopicName + ".refundRequested"
	refundExecutedName       = TopicName + ".refundExecuted"
)

type OrderEventService interface {
	Subscribe(c context.Context) error
	OnOrderSettled(c context.Context, topic string, event OrderSettled) error
	OnPaymentStatusChanged(c context.Context, topic string, event PaymentStatusChanged) error
	OnRefundRequested(c context.Context, topic string, event RefundRequested) error
	OnRefundExecuted(c context.Context, topic string, event RefundExecuted) error
}

func DispatchEvent(c context.Context, reader io.Reader, service OrderEventService) error {
	envelope, err := myevents.ParseEventEnvelope(reader)
	if err != nil {
		return myerrors.NewInvalidInputError(err)
	}

	switch envelope.EventTypeName {
	case orderSettledName:
		{
			event := OrderSettled{}
			err := json.Unmarshal([]byte(envelope.EventPayload), &event)
			if err != nil {
				return myerrors.NewInvalidInputError(err)
			}
			return service.OnOrderSettled(c, envelope.Topic, event)
		}
	case paymentStatusChangedName:
		{
			event := PaymentStatusChanged{}
			err := json.Unmarshal([]byte(envelope.EventPayload), &event)
			if err != nil {
				return myerrors.NewInvalidInputError(err)
			}
			return service.OnPaymentStatusChanged(c, envelope.Topic, event)
		}
	case refundRequestedName:
		{
			event := RefundRequested{}
			err := json.Unmarshal([]byte(envelope.EventPayload), &event)
			if err != nil {
				return myerrors.NewInvalidInputError(err)
			}
			return service.OnRefundRequested(c, envelope.Topic, event)
		}
	case refundExecutedName:
		{
			event := RefundExecuted{}
			err := json.Unmarshal([]byte(envelope.EventPayload), &event)
			if err != nil {
				return myerrors.NewInvalidInputError(err)
			}
			return service.OnRefundExecuted(c, envelope.Topic, event)
		}
	default:
		return myerrors.NewNotImplementedError(fmt.Errorf("%s", envelope.EventTypeName))
	}
}

type OrderSettled struct {
	PaymentID     string
	OrderNumber   string
	ProviderName  string
	UserUID       string
	AmountInCents int64
	Currency      string
	DiscountCode  string
	Channel       string // "callback" or "webhook"
}

func (e OrderSettled) GetEventTypeName() string {
	return orderSettledName
}

func (e OrderSettled) GetAggregateName() string {
	return e.PaymentID
}

type PaymentStatusChanged struct {
	PaymentID string
	OldStatus string
	NewStatus string
}

func (e PaymentStatusChanged) GetEventTypeName() string {
	return paymentStatusChangedName
}

func (e PaymentStatusChanged) GetAggregateName() string {
	return e.PaymentID
}

type RefundRequested struct {
	PaymentID    string
	OrderItemUID string
	Reason       string
}

func (e RefundRequested) GetEventTypeName() string {
	return refundRequestedName
}

func (e RefundRequested) GetAggregateName() string {
	return e.PaymentID
}

type RefundExecuted struct {
	PaymentID     string
	OrderItemUID  string
	AmountInCents int64
	Currency      string
}

func (e RefundExecuted) GetEventTypeName() string {
	return refundExecutedName
}

func (e RefundExecuted) GetAggregateName() string {
	return e.PaymentID
}
