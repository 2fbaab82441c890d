package refund

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcGrol/settlebackend/lib/myerrors"
	"github.com/MarcGrol/settlebackend/lib/mylog"
	"github.com/MarcGrol/settlebackend/lib/mypublisher"
	"github.com/MarcGrol/settlebackend/lib/mystore"
	"github.com/MarcGrol/settlebackend/lib/mytime"
	"github.com/MarcGrol/settlebackend/services/gateway"
	"github.com/MarcGrol/settlebackend/services/orderapi"
	"github.com/MarcGrol/settlebackend/services/orderevents"
)

type service struct {
	config     Config
	orderStore mystore.Store[orderapi.Order]
	gateways   map[string]gateway.Client
	publisher  mypublisher.Publisher
	nower      mytime.Nower
	logger     mylog.Logger
}

// Use dependency injection to isolate the infrastructure and easy testing
func newService(config Config, orderStore mystore.Store[orderapi.Order], gateways map[string]gateway.Client,
	publisher mypublisher.Publisher, nower mytime.Nower) *service {
	if config.WindowDays == 0 {
		config.WindowDays = DefaultWindowDays
	}

	return &service{
		config:     config,
		orderStore: orderStore,
		gateways:   gateways,
		publisher:  publisher,
		nower:      nower,
		logger:     mylog.New("refund"),
	}
}

// requestRefund records a user's wish to refund an item. Money movement is
// deliberately deferred to operator-driven execution.
func (s *service) requestRefund(c context.Context, request RefundRequest) error {
	now := s.nower.Now()

	order, err := s.findOrderByItem(c, request.OrderItemUID)
	if err != nil {
		return err
	}

	err = s.orderStore.RunInTransaction(c, func(c context.Context) error {
		order, _, err := s.orderStore.Get(c, order.PaymentID)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error fetching order for payment %s: %s", order.PaymentID, err))
		}

		item, found := order.ItemByUID(request.OrderItemUID)
		if !found {
			return myerrors.NewNotFoundError(fmt.Errorf("order item %s not found", request.OrderItemUID))
		}

		err = s.checkEligibility(order, item, now)
		if err != nil {
			return err
		}
		if item.RefundStatus != orderapi.RefundStatusNone {
			return myerrors.NewConflictError(fmt.Errorf("refund for item %s already requested", item.UID))
		}

		item.RefundStatus = orderapi.RefundStatusProcessing
		item.RefundReason = request.Reason
		item.RefundRequestedAt = &now
		order.ReplaceItem(item)
		order.LastModified = &now

		err = s.orderStore.Put(c, order.PaymentID, order)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error storing order for payment %s: %s", order.PaymentID, err))
		}

		err = s.publisher.Publish(c, orderevents.TopicName, orderevents.RefundRequested{
			PaymentID:    order.PaymentID,
			OrderItemUID: item.UID,
			Reason:       request.Reason,
		})
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error publishing event: %s", err))
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Log(c, request.OrderItemUID, mylog.SeverityInfo, "Refund requested for item %s of payment %s", request.OrderItemUID, order.PaymentID)

	return nil
}

// executeRefund re-validates eligibility, moves the money at the gateway and
// only then marks the item refunded. The execution is claimed atomically so
// two concurrent executes cannot both move money, and progress is persisted
// per transaction so a retry after a failed gateway call never refunds the
// same transaction twice.
func (s *service) executeRefund(c context.Context, request RefundExecuteRequest) error {
	now := s.nower.Now()

	order, found, err := s.orderStore.Get(c, request.PaymentID)
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error fetching order for payment %s: %s", request.PaymentID, err))
	}
	if !found {
		return myerrors.NewNotFoundError(fmt.Errorf("no order for payment %s", request.PaymentID))
	}

	client, found := s.gateways[order.Provider]
	if !found {
		return myerrors.NewInternalError(fmt.Errorf("unknown payment provider %s on payment %s", order.Provider, request.PaymentID))
	}

	item, err := s.claimExecution(c, request, now)
	if err != nil {
		return err
	}

	err = s.refundOutstandingTransactions(c, client, request, item, order.Currency)
	if err != nil {
		// the item stays in processing with its progress recorded, so an
		// operator can retry
		s.releaseExecution(c, request)
		return err
	}

	err = s.finalizeExecution(c, request, order.Currency, now)
	if err != nil {
		return err
	}

	s.logger.Log(c, request.OrderItemUID, mylog.SeverityInfo, "Refunded item %s of payment %s: %d cents",
		request.OrderItemUID, request.PaymentID, item.TotalPriceInCents)

	return nil
}

// claimExecution marks the item as being executed in a single transaction. A
// stale claim left behind by a crashed execution expires after the lease.
func (s *service) claimExecution(c context.Context, request RefundExecuteRequest, now time.Time) (orderapi.OrderItem, error) {
	claimed := orderapi.OrderItem{}
	err := s.orderStore.RunInTransaction(c, func(c context.Context) error {
		order, _, err := s.orderStore.Get(c, request.PaymentID)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error fetching order for payment %s: %s", request.PaymentID, err))
		}

		item, found := order.ItemByUID(request.OrderItemUID)
		if !found {
			return myerrors.NewNotFoundError(fmt.Errorf("order item %s not found on payment %s", request.OrderItemUID, request.PaymentID))
		}

		err = s.checkEligibility(order, item, now)
		if err != nil {
			return err
		}
		if item.RefundStatus != orderapi.RefundStatusProcessing {
			return myerrors.NewBusinessRuleError(fmt.Errorf("no pending refund request for item %s", item.UID))
		}
		if item.RefundExecutionStartedAt != nil && now.Sub(*item.RefundExecutionStartedAt) < executionLease {
			return myerrors.NewConflictError(fmt.Errorf("refund for item %s is already being executed", item.UID))
		}

		item.RefundExecutionStartedAt = &now
		order.ReplaceItem(item)

		err = s.orderStore.Put(c, request.PaymentID, order)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error storing order for payment %s: %s", request.PaymentID, err))
		}

		claimed = item
		return nil
	})

	return claimed, err
}

// refundOutstandingTransactions refunds every per-unit transaction of the
// item that is not recorded as refunded yet. The item total is spread
// evenly, remainder on the last transaction, the same split on every retry.
func (s *service) refundOutstandingTransactions(c context.Context, client gateway.Client, request RefundExecuteRequest,
	item orderapi.OrderItem, currency string) error {
	count := len(item.PaymentTransactionUIDs)
	if count == 0 {
		return myerrors.NewInternalError(fmt.Errorf("item %s has no gateway transactions", item.UID))
	}

	amounts := splitAmount(item.TotalPriceInCents, count)
	for i, transactionUID := range item.PaymentTransactionUIDs {
		if item.HasRefundedTransaction(transactionUID) {
			continue
		}

		err := client.RefundTransaction(c, transactionUID, amounts[i], currency)
		if err != nil {
			return err
		}

		err = s.recordRefundedTransaction(c, request, transactionUID)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *service) recordRefundedTransaction(c context.Context, request RefundExecuteRequest, transactionUID string) error {
	return s.orderStore.RunInTransaction(c, func(c context.Context) error {
		order, _, err := s.orderStore.Get(c, request.PaymentID)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error fetching order for payment %s: %s", request.PaymentID, err))
		}

		item, found := order.ItemByUID(request.OrderItemUID)
		if !found {
			return myerrors.NewNotFoundError(fmt.Errorf("order item %s not found", request.OrderItemUID))
		}
		if item.HasRefundedTransaction(transactionUID) {
			return nil
		}

		item.RefundedTransactionUIDs = append(item.RefundedTransactionUIDs, transactionUID)
		order.ReplaceItem(item)

		err = s.orderStore.Put(c, request.PaymentID, order)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error storing order for payment %s: %s", request.PaymentID, err))
		}

		return nil
	})
}

func (s *service) releaseExecution(c context.Context, request RefundExecuteRequest) {
	err := s.orderStore.RunInTransaction(c, func(c context.Context) error {
		order, _, err := s.orderStore.Get(c, request.PaymentID)
		if err != nil {
			return err
		}

		item, found := order.ItemByUID(request.OrderItemUID)
		if !found {
			return nil
		}

		item.RefundExecutionStartedAt = nil
		order.ReplaceItem(item)

		return s.orderStore.Put(c, request.PaymentID, order)
	})
	if err != nil {
		// the lease expires anyway, the next execute just waits longer
		s.logger.Log(c, request.OrderItemUID, mylog.SeverityWarn, "Error releasing refund execution for item %s: %s", request.OrderItemUID, err)
	}
}

func (s *service) finalizeExecution(c context.Context, request RefundExecuteRequest, currency string, now time.Time) error {
	return s.orderStore.RunInTransaction(c, func(c context.Context) error {
		order, _, err := s.orderStore.Get(c, request.PaymentID)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error fetching order for payment %s: %s", request.PaymentID, err))
		}

		item, found := order.ItemByUID(request.OrderItemUID)
		if !found {
			return myerrors.NewNotFoundError(fmt.Errorf("order item %s not found", request.OrderItemUID))
		}

		item.RefundStatus = orderapi.RefundStatusApproved
		item.IsRefunded = true
		item.RefundExecutionStartedAt = nil
		if request.Reason != "" {
			item.RefundReason = request.Reason
		}
		order.ReplaceItem(item)
		order.LastModified = &now

		err = s.orderStore.Put(c, request.PaymentID, order)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error storing order for payment %s: %s", request.PaymentID, err))
		}

		err = s.publisher.Publish(c, orderevents.TopicName, orderevents.RefundExecuted{
			PaymentID:     request.PaymentID,
			OrderItemUID:  item.UID,
			AmountInCents: item.TotalPriceInCents,
			Currency:      currency,
		})
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error publishing event: %s", err))
		}

		return nil
	})
}

func splitAmount(totalInCents int64, count int) []int64 {
	amounts := make([]int64, count)
	perTransaction := totalInCents / int64(count)
	for i := range amounts {
		amounts[i] = perTransaction
	}
	amounts[count-1] += totalInCents - perTransaction*int64(count)

	return amounts
}

func (s *service) checkEligibility(order orderapi.Order, item orderapi.OrderItem, now time.Time) error {
	if order.IsCancelled {
		return myerrors.NewBusinessRuleError(fmt.Errorf("order %s is cancelled", order.OrderNumber))
	}
	if order.Status != orderapi.OrderStatusCompleted {
		return myerrors.NewBusinessRuleError(fmt.Errorf("order %s is not completed", order.OrderNumber))
	}
	if order.PaymentStatus != orderapi.PaymentStatusSuccess {
		return myerrors.NewBusinessRuleError(fmt.Errorf("order %s has no successful payment", order.OrderNumber))
	}
	if sameCalendarDay(order.PaymentDate, now) {
		return myerrors.NewBusinessRuleError(fmt.Errorf("order %s was paid today, refunds open tomorrow", order.OrderNumber))
	}
	if now.Sub(order.PaymentDate) > time.Duration(s.config.WindowDays)*24*time.Hour {
		return myerrors.NewBusinessRuleError(fmt.Errorf("refund window of %d days for order %s has closed", s.config.WindowDays, order.OrderNumber))
	}
	if item.IsRefunded {
		return myerrors.NewConflictError(fmt.Errorf("item %s is already refunded", item.UID))
	}

	return nil
}

// findOrderByItem scans: item uids are not a store key and refund volume
// does not justify a secondary index.
func (s *service) findOrderByItem(c context.Context, itemUID string) (orderapi.Order, error) {
	orders, err := s.orderStore.List(c)
	if err != nil {
		return orderapi.Order{}, myerrors.NewInternalError(fmt.Errorf("error fetching orders: %s", err))
	}

	for _, order := range orders {
		if _, found := order.ItemByUID(itemUID); found {
			return order, nil
		}
	}

	return orderapi.Order{}, myerrors.NewNotFoundError(fmt.Errorf("order item %s not found", itemUID))
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
