package orderapi

import (
	"fmt"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusAwaitingApproval OrderStatus = "AWAITING_APPROVAL"
	OrderStatusPending          OrderStatus = "PENDING"
	OrderStatusProcessing       OrderStatus = "PROCESSING"
	OrderStatusShipped          OrderStatus = "SHIPPED"
	OrderStatusDelivered        OrderStatus = "DELIVERED"
	OrderStatusCancelled        OrderStatus = "CANCELLED"
	OrderStatusCompleted        OrderStatus = "COMPLETED"
)

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusAwaitingApproval, OrderStatusPending, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusCompleted:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

type RefundStatus string

const (
	RefundStatusNone       RefundStatus = "NONE"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusApproved   RefundStatus = "APPROVED"
	RefundStatusRejected   RefundStatus = "REJECTED"
	RefundStatusCancelled  RefundStatus = "CANCELLED"
)

// VariantKind is the closed set of product-variant dimensions.
type VariantKind string

const (
	VariantKindWeight VariantKind = "weight"
	VariantKindSize   VariantKind = "size"
	VariantKindColor  VariantKind = "color"
)

// DisplayValue renders the variant value the way the shop presents it.
func (k VariantKind) DisplayValue(value string) string {
	switch k {
	case VariantKindWeight:
		return value + " gram"
	case VariantKindSize:
		return "size " + strings.ToUpper(value)
	case VariantKindColor:
		return value
	default:
		return value
	}
}

// Order is the durable result of a settled payment. It is stored keyed by
// PaymentID: that key is the uniqueness constraint that makes dual-channel
// settlement idempotent.
type Order struct {
	UID                   string
	OrderNumber           string // human-shareable, not the primary key
	UserUID               string // empty for guest checkout
	Status                OrderStatus
	PaymentStatus         PaymentStatus
	IsCancelled           bool
	Provider              string // gateway that settled this order
	PaymentID             string
	PaymentDate           time.Time
	MaskedCardNumber      string
	ClientIP              string
	Currency              string
	TotalAmountInCents    int64
	DiscountCode          string
	DiscountAmountInCents int64
	CreatedAt             time.Time
	LastModified          *time.Time
	Items                 []OrderItem
}

type OrderItem struct {
	UID               string
	VariantUID        string
	Description       string
	VariantKind       VariantKind
	VariantValue      string
	Quantity          int
	UnitPriceInCents  int64
	TotalPriceInCents int64

	// one gateway transaction per purchased unit, in gateway order
	PaymentTransactionUIDs []string

	RefundStatus      RefundStatus
	IsRefunded        bool
	RefundReason      string
	RefundRequestedAt *time.Time

	// per-unit refund progress, so an interrupted execution never
	// refunds the same transaction twice
	RefundedTransactionUIDs  []string
	RefundExecutionStartedAt *time.Time
}

func (i OrderItem) HasRefundedTransaction(transactionUID string) bool {
	for _, uid := range i.RefundedTransactionUIDs {
		if uid == transactionUID {
			return true
		}
	}
	return false
}

func (o Order) ItemByUID(itemUID string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.UID == itemUID {
			return item, true
		}
	}
	return OrderItem{}, false
}

func (o *Order) ReplaceItem(replacement OrderItem) {
	for i, item := range o.Items {
		if item.UID == replacement.UID {
			o.Items[i] = replacement
			return
		}
	}
}

// ComposeOrderNumber produces the externally visible order number:
// time-based prefix plus a short random suffix.
func ComposeOrderNumber(now time.Time, uid string) string {
	suffix := strings.ReplaceAll(uid, "-", "")
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return fmt.Sprintf("%s-%s", now.Format("20060102-150405"), suffix)
}
