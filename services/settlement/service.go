package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/MarcGrol/settlebackend/lib/myerrors"
	"github.com/MarcGrol/settlebackend/lib/mylog"
	"github.com/MarcGrol/settlebackend/lib/mypublisher"
	"github.com/MarcGrol/settlebackend/lib/myqueue"
	"github.com/MarcGrol/settlebackend/lib/mystore"
	"github.com/MarcGrol/settlebackend/lib/mytime"
	"github.com/MarcGrol/settlebackend/lib/myuuid"
	"github.com/MarcGrol/settlebackend/services/checkoutsession"
	"github.com/MarcGrol/settlebackend/services/discount"
	"github.com/MarcGrol/settlebackend/services/gateway"
	"github.com/MarcGrol/settlebackend/services/orderapi"
	"github.com/MarcGrol/settlebackend/services/orderevents"
	"github.com/MarcGrol/settlebackend/services/shopapi"
)

type service struct {
	orderStore mystore.Store[orderapi.Order]
	sessions   checkoutsession.Manager
	discounts  discount.Validator
	gateways   map[string]gateway.Client
	queue      myqueue.TaskQueuer
	publisher  mypublisher.Publisher
	nower      mytime.Nower
	uuider     myuuid.UUIDer
	logger     mylog.Logger
}

// Use dependency injection to isolate the infrastructure and easy testing
func newService(orderStore mystore.Store[orderapi.Order], sessions checkoutsession.Manager, discounts discount.Validator,
	gateways map[string]gateway.Client, queue myqueue.TaskQueuer, publisher mypublisher.Publisher,
	nower mytime.Nower, uuider myuuid.UUIDer) *service {
	return &service{
		orderStore: orderStore,
		sessions:   sessions,
		discounts:  discounts,
		gateways:   gateways,
		queue:      queue,
		publisher:  publisher,
		nower:      nower,
		uuider:     uuider,
		logger:     mylog.New("settlement"),
	}
}

func (s *service) CreateTopics(c context.Context) error {
	err := s.publisher.CreateTopic(c, orderevents.TopicName)
	if err != nil {
		return fmt.Errorf("error creating topic %s: %s", orderevents.TopicName, err)
	}

	return nil
}

// startCheckout validates the cart, snapshots the price (including the
// discount decision) into a session and initializes the hosted payment.
func (s *service) startCheckout(c context.Context, co shopapi.Checkout, clientIP string, hostname string) (string, error) {
	err := co.Validate()
	if err != nil {
		return "", err
	}

	client, err := s.gatewayFor(co.Provider)
	if err != nil {
		return "", err
	}

	total := co.TotalInCents()

	var discountAmount int64
	if co.DiscountCode != "" {
		result, err := s.discounts.Validate(c, co.DiscountCode, co.VariantUIDs())
		if err != nil {
			return "", err
		}
		if !result.Valid {
			return "", myerrors.NewBusinessRuleError(fmt.Errorf("discount code %s rejected: %s", co.DiscountCode, result.Reason))
		}
		discountAmount = result.Code.AmountFor(total)
	}
	payable := total - discountAmount

	session, err := s.sessions.Create(c, checkoutsession.CheckoutSession{
		BasketUID:             co.BasketUID,
		UserUID:               co.UserUID,
		Provider:              co.Provider,
		Currency:              co.Currency,
		TotalAmountInCents:    payable,
		DiscountCode:          co.DiscountCode,
		DiscountAmountInCents: discountAmount,
		Lines:                 co.Lines,
		Address:               co.Address,
		ShopperEmail:          co.ShopperEmail,
		ReturnURL:             co.ReturnURL,
		ClientIP:              clientIP,
	})
	if err != nil {
		return "", err
	}

	s.logger.Log(c, session.Token, mylog.SeverityInfo, "Start checkout for basket %s: %d cents (discount %d) via %s",
		co.BasketUID, payable, discountAmount, co.Provider)

	redirectURL, err := client.CreatePayment(c, gateway.PaymentRequest{
		ConversationUID: session.Token,
		BasketUID:       co.BasketUID,
		AmountInCents:   payable,
		Currency:        co.Currency,
		CallbackURL:     fmt.Sprintf("%s/checkout/%s/callback", hostname, session.Token),
		ShopperUID:      co.UserUID,
		ShopperEmail:    co.ShopperEmail,
		ClientIP:        clientIP,
		Items:           composeItemRequests(co.Lines),
	})
	if err != nil {
		// the payment never started, the session has no future
		if cleanupErr := s.sessions.Cleanup(c, session.Token); cleanupErr != nil {
			s.logger.Log(c, session.Token, mylog.SeverityWarn, "Error cleaning up session: %s", cleanupErr)
		}
		return "", err
	}

	return redirectURL, nil
}

// finalizeCheckout handles the browser redirect back from the gateway. It is
// the only path that creates an order.
func (s *service) finalizeCheckout(c context.Context, token string, callbackStatus string, paymentID string) (string, error) {
	s.logger.Log(c, token, mylog.SeverityInfo, "Callback (start): status %s, payment %s", callbackStatus, paymentID)

	session, err := s.sessions.Get(c, token)
	if err != nil {
		return "", err
	}

	if callbackStatus != "success" {
		return s.abortCheckout(c, session, "payment not authorized")
	}

	client, err := s.gatewayFor(session.Provider)
	if err != nil {
		return "", err
	}

	// Server-to-server lookup: the redirect itself is never trusted.
	// A timeout here is an unknown outcome and propagates as such.
	details, err := client.RetrievePayment(c, paymentID)
	if err != nil {
		return "", err
	}

	if details.ConversationUID != token {
		s.logger.Log(c, token, mylog.SeverityError, "Conversation mismatch on payment %s: got %s", paymentID, details.ConversationUID)
		return "", myerrors.NewAuthenticationError(fmt.Errorf("payment %s does not belong to this checkout", paymentID))
	}

	if details.Status != gateway.PaymentResultSuccess {
		return s.abortCheckout(c, session, "payment failed")
	}

	if details.AmountInCents != session.TotalAmountInCents || details.Currency != session.Currency {
		s.logger.Log(c, token, mylog.SeverityError, "Amount mismatch on payment %s: authorized %d %s, session %d %s",
			paymentID, details.AmountInCents, details.Currency, session.TotalAmountInCents, session.Currency)
		return "", myerrors.NewAuthenticationError(fmt.Errorf("payment %s does not match the session price", paymentID))
	}

	// First idempotency guard: the session is consumed at most once.
	_, err = s.sessions.Consume(c, token)
	if err != nil {
		if !myerrors.IsConflict(err) {
			return "", err
		}

		// The consume commits separately from the order. An earlier attempt
		// may have consumed the session and then died before the order
		// landed, so "already consumed" only means "already settled" when
		// the order is really there. Otherwise finish the settlement now;
		// the paymentID key below still prevents double creation.
		_, found, getErr := s.orderStore.Get(c, paymentID)
		if getErr != nil {
			return "", myerrors.NewInternalError(fmt.Errorf("error fetching order for payment %s: %s", paymentID, getErr))
		}
		if found {
			s.logger.Log(c, token, mylog.SeverityInfo, "Session already consumed, payment %s already settled", paymentID)
			return addQueryParams(session.ReturnURL, map[string]string{"status": "success"}), nil
		}

		s.logger.Log(c, token, mylog.SeverityWarn, "Session consumed but no order for payment %s, completing settlement", paymentID)
	}

	order, err := s.composeOrder(session, details)
	if err != nil {
		return "", err
	}

	err = s.createOrder(c, order, session.DiscountCode)
	if err != nil {
		if myerrors.IsConflict(err) {
			// Second idempotency guard: an order with this paymentID
			// already exists, treat as settled.
			s.logger.Log(c, token, mylog.SeverityInfo, "Order for payment %s already exists", paymentID)
			return addQueryParams(session.ReturnURL, map[string]string{"status": "success"}), nil
		}
		return "", err
	}

	s.logger.Log(c, token, mylog.SeverityInfo, "Callback (done): created order %s for payment %s", order.OrderNumber, paymentID)

	return addQueryParams(session.ReturnURL, map[string]string{
		"status":      "success",
		"orderNumber": order.OrderNumber,
	}), nil
}

// abortCheckout drops the session with its guest artifacts and routes the
// shopper back to the shop. No order is created.
func (s *service) abortCheckout(c context.Context, session checkoutsession.CheckoutSession, reason string) (string, error) {
	s.logger.Log(c, session.Token, mylog.SeverityInfo, "Aborting checkout for basket %s: %s", session.BasketUID, reason)

	err := s.sessions.Cleanup(c, session.Token)
	if err != nil {
		return "", err
	}

	return addQueryParams(session.ReturnURL, map[string]string{"status": "failed"}), nil
}

// createOrder commits the order, its items and the discount-usage increment
// in one transaction, guarded by the paymentID key.
func (s *service) createOrder(c context.Context, order orderapi.Order, discountCode string) error {
	return s.orderStore.RunInTransaction(c, func(c context.Context) error {
		_, exists, err := s.orderStore.Get(c, order.PaymentID)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error fetching order for payment %s: %s", order.PaymentID, err))
		}
		if exists {
			return myerrors.NewConflictError(fmt.Errorf("order for payment %s already exists", order.PaymentID))
		}

		err = s.orderStore.Put(c, order.PaymentID, order)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error storing order for payment %s: %s", order.PaymentID, err))
		}

		if discountCode != "" {
			err = s.discounts.Redeem(c, discountCode)
			if err != nil {
				return err
			}
		}

		err = s.publisher.Publish(c, orderevents.TopicName, orderevents.OrderSettled{
			PaymentID:     order.PaymentID,
			OrderNumber:   order.OrderNumber,
			ProviderName:  order.Provider,
			UserUID:       order.UserUID,
			AmountInCents: order.TotalAmountInCents,
			Currency:      order.Currency,
			DiscountCode:  order.DiscountCode,
			Channel:       "callback",
		})
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error publishing event: %s", err))
		}

		return nil
	})
}

func (s *service) composeOrder(session checkoutsession.CheckoutSession, details gateway.PaymentDetails) (orderapi.Order, error) {
	now := s.nower.Now()
	orderUID := s.uuider.Create()

	items, err := composeOrderItems(session, details, s.uuider)
	if err != nil {
		return orderapi.Order{}, err
	}

	return orderapi.Order{
		UID:                   orderUID,
		OrderNumber:           orderapi.ComposeOrderNumber(now, orderUID),
		UserUID:               session.UserUID,
		Provider:              session.Provider,
		Status:                orderapi.OrderStatusCompleted,
		PaymentStatus:         orderapi.PaymentStatusSuccess,
		PaymentID:             details.PaymentID,
		PaymentDate:           now,
		MaskedCardNumber:      details.MaskedCardNumber,
		ClientIP:              session.ClientIP,
		Currency:              session.Currency,
		TotalAmountInCents:    session.TotalAmountInCents,
		DiscountCode:          session.DiscountCode,
		DiscountAmountInCents: session.DiscountAmountInCents,
		CreatedAt:             now,
		Items:                 items,
	}, nil
}

// composeOrderItems reconstructs order items from the gateway's flat list of
// per-unit transactions: grouped by variant, summing quantity and price,
// keeping every transaction id in gateway order.
func composeOrderItems(session checkoutsession.CheckoutSession, details gateway.PaymentDetails, uuider myuuid.UUIDer) ([]orderapi.OrderItem, error) {
	linesByVariant := map[string]shopapi.Line{}
	for _, line := range session.Lines {
		linesByVariant[line.VariantUID] = line
	}

	items := []orderapi.OrderItem{}
	indexByVariant := map[string]int{}
	for _, trans := range details.ItemTransactions {
		line, found := linesByVariant[trans.VariantUID]
		if !found {
			return nil, myerrors.NewAuthenticationError(fmt.Errorf("payment %s contains transaction for unknown item %s", details.PaymentID, trans.VariantUID))
		}

		index, found := indexByVariant[trans.VariantUID]
		if !found {
			items = append(items, orderapi.OrderItem{
				UID:              uuider.Create(),
				VariantUID:       trans.VariantUID,
				Description:      line.Description,
				VariantKind:      orderapi.VariantKind(line.VariantKind),
				VariantValue:     line.VariantValue,
				UnitPriceInCents: line.UnitPriceInCents,
				RefundStatus:     orderapi.RefundStatusNone,
			})
			index = len(items) - 1
			indexByVariant[trans.VariantUID] = index
		}

		items[index].Quantity++
		items[index].TotalPriceInCents += trans.PriceInCents
		items[index].PaymentTransactionUIDs = append(items[index].PaymentTransactionUIDs, trans.TransactionUID)
	}

	return items, nil
}

// webhookNotification is the durability backstop: the browser may never
// complete the callback. It only ever updates payment status.
func (s *service) webhookNotification(c context.Context, provider string, notification WebhookNotification) error {
	s.logger.Log(c, notification.PaymentID, mylog.SeverityInfo, "Webhook from %s: payment %s -> %s",
		provider, notification.PaymentID, notification.Status)

	if notification.PaymentID == "" {
		return myerrors.NewInvalidInputError(fmt.Errorf("missing paymentId"))
	}

	if notification.Status != webhookStatusSuccess {
		s.logger.Log(c, notification.PaymentID, mylog.SeverityInfo, "Ignoring non-success webhook status %s", notification.Status)
		return nil
	}

	err := s.markOrderPaid(c, notification.PaymentID)
	if myerrors.IsNotFound(err) {
		// Webhook won the race with the callback. Re-enqueue until the
		// order appears, within the queue's retry budget.
		return s.enqueueWebhookRetry(c, notification)
	}

	return err
}

func (s *service) enqueueWebhookRetry(c context.Context, notification WebhookNotification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error marshalling webhook payload: %s", err))
	}

	err = s.queue.Enqueue(c, myqueue.Task{
		UID:            composeRetryTaskUID(notification.PaymentID),
		WebhookURLPath: "/api/settlement/webhook-retry/" + notification.PaymentID,
		Payload:        payload,
		Delay:          webhookRetryDelaySeconds * time.Second,
	})
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error enqueuing webhook retry for payment %s: %s", notification.PaymentID, err))
	}

	s.logger.Log(c, notification.PaymentID, mylog.SeverityInfo, "Order for payment %s not found yet, webhook queued for retry", notification.PaymentID)

	return nil
}

// retryWebhook runs on the task queue. A non-nil error makes the queue
// retry; on the final attempt the failure is logged for manual
// reconciliation and the task is acked.
func (s *service) retryWebhook(c context.Context, paymentID string) error {
	err := s.markOrderPaid(c, paymentID)
	if !myerrors.IsNotFound(err) {
		return err
	}

	retryCount, maxRetries := s.queue.IsLastAttempt(c, composeRetryTaskUID(paymentID))
	if maxRetries >= 0 && retryCount >= maxRetries {
		s.logger.Log(c, paymentID, mylog.SeverityError, "Giving up on webhook for payment %s after %d attempts: order never appeared", paymentID, retryCount)
		return nil
	}

	return err
}

func (s *service) markOrderPaid(c context.Context, paymentID string) error {
	now := s.nower.Now()

	return s.orderStore.RunInTransaction(c, func(c context.Context) error {
		order, found, err := s.orderStore.Get(c, paymentID)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error fetching order for payment %s: %s", paymentID, err))
		}
		if !found {
			return myerrors.NewNotFoundError(fmt.Errorf("no order for payment %s", paymentID))
		}
		if order.PaymentStatus == orderapi.PaymentStatusSuccess {
			// re-applying success is a no-op, not an error
			return nil
		}

		oldStatus := order.PaymentStatus
		order.PaymentStatus = orderapi.PaymentStatusSuccess
		order.PaymentDate = now
		order.LastModified = &now

		err = s.orderStore.Put(c, paymentID, order)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error storing order for payment %s: %s", paymentID, err))
		}

		err = s.publisher.Publish(c, orderevents.TopicName, orderevents.PaymentStatusChanged{
			PaymentID: paymentID,
			OldStatus: string(oldStatus),
			NewStatus: string(orderapi.PaymentStatusSuccess),
		})
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error publishing event: %s", err))
		}

		return nil
	})
}

func (s *service) listOrders(c context.Context) ([]orderapi.Order, error) {
	orders, err := s.orderStore.Query(c, []mystore.Filter{}, "CreatedAt")
	if err != nil {
		return nil, myerrors.NewInternalError(fmt.Errorf("error fetching orders: %s", err))
	}

	return orders, nil
}

func (s *service) getOrder(c context.Context, paymentID string) (orderapi.Order, error) {
	order, found, err := s.orderStore.Get(c, paymentID)
	if err != nil {
		return orderapi.Order{}, myerrors.NewInternalError(fmt.Errorf("error fetching order for payment %s: %s", paymentID, err))
	}
	if !found {
		return orderapi.Order{}, myerrors.NewNotFoundError(fmt.Errorf("no order for payment %s", paymentID))
	}

	return order, nil
}

// updateOrderStatus advances the fulfillment lifecycle. Completion requires
// a successful payment.
func (s *service) updateOrderStatus(c context.Context, paymentID string, newStatus orderapi.OrderStatus) (orderapi.Order, error) {
	if !newStatus.IsValid() {
		return orderapi.Order{}, myerrors.NewInvalidInputError(fmt.Errorf("unknown order status %s", newStatus))
	}

	now := s.nower.Now()

	order := orderapi.Order{}
	err := s.orderStore.RunInTransaction(c, func(c context.Context) error {
		var found bool
		var err error
		order, found, err = s.orderStore.Get(c, paymentID)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error fetching order for payment %s: %s", paymentID, err))
		}
		if !found {
			return myerrors.NewNotFoundError(fmt.Errorf("no order for payment %s", paymentID))
		}
		if newStatus == orderapi.OrderStatusCompleted && order.PaymentStatus != orderapi.PaymentStatusSuccess {
			return myerrors.NewBusinessRuleError(fmt.Errorf("order for payment %s cannot complete without successful payment", paymentID))
		}

		order.Status = newStatus
		if newStatus == orderapi.OrderStatusCancelled {
			order.IsCancelled = true
		}
		order.LastModified = &now

		return s.orderStore.Put(c, paymentID, order)
	})
	if err != nil {
		return orderapi.Order{}, err
	}

	return order, nil
}

func (s *service) gatewayFor(provider string) (gateway.Client, error) {
	client, found := s.gateways[provider]
	if !found {
		return nil, myerrors.NewInvalidInputError(fmt.Errorf("unknown payment provider %s", provider))
	}

	return client, nil
}

func composeItemRequests(lines []shopapi.Line) []gateway.ItemRequest {
	items := make([]gateway.ItemRequest, 0, len(lines))
	for _, line := range lines {
		items = append(items, gateway.ItemRequest{
			VariantUID:   line.VariantUID,
			Description:  line.Description,
			Quantity:     line.Quantity,
			PriceInCents: line.UnitPriceInCents * int64(line.Quantity),
		})
	}
	return items
}

func composeRetryTaskUID(paymentID string) string {
	return "webhook-" + paymentID
}

func addQueryParams(orgURL string, params map[string]string) string {
	u, err := url.Parse(orgURL)
	if err != nil {
		return orgURL
	}
	values := u.Query()
	for key, value := range params {
		values.Set(key, value)
	}
	u.RawQuery = values.Encode()
	return u.String()
}
