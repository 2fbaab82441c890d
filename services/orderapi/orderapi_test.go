package orderapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComposeOrderNumber(t *testing.T) {
	now, _ := time.Parse("2006-01-02T15:04:05Z", "2023-02-27T23:58:59Z")

	assert.Equal(t, "20230227-235859-d8a3d0", ComposeOrderNumber(now, "d8a3d093-72f5-4a26-9e17-a16f8ee4c2a1"))
	assert.Equal(t, "20230227-235859-abc", ComposeOrderNumber(now, "abc"))
}

func TestDisplayValue(t *testing.T) {
	assert.Equal(t, "500 gram", VariantKindWeight.DisplayValue("500"))
	assert.Equal(t, "size XL", VariantKindSize.DisplayValue("xl"))
	assert.Equal(t, "red", VariantKindColor.DisplayValue("red"))
}

func TestReplaceItem(t *testing.T) {
	order := Order{Items: []OrderItem{
		{UID: "item-1", RefundStatus: RefundStatusNone},
		{UID: "item-2", RefundStatus: RefundStatusNone},
	}}

	order.ReplaceItem(OrderItem{UID: "item-2", RefundStatus: RefundStatusProcessing})

	item, found := order.ItemByUID("item-2")
	assert.True(t, found)
	assert.Equal(t, RefundStatusProcessing, item.RefundStatus)

	other, _ := order.ItemByUID("item-1")
	assert.Equal(t, RefundStatusNone, other.RefundStatus)
}

func TestOrderStatusIsValid(t *testing.T) {
	assert.True(t, OrderStatusCompleted.IsValid())
	assert.True(t, OrderStatusCancelled.IsValid())
	assert.False(t, OrderStatus("DONE").IsValid())
}
