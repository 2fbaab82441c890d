package settlement

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/MarcGrol/settlebackend/lib/mycache"
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
	"github.com/MarcGrol/settlebackend/services/ratelimit"
	"github.com/MarcGrol/settlebackend/services/shopapi"
)

type fixture struct {
	ctx           context.Context
	router        *mux.Router
	orderStore    mystore.Store[orderapi.Order]
	discountStore mystore.Store[discount.DiscountCode]
	sessions      checkoutsession.Manager
	client        *gateway.MockClient
	queue         *myqueue.MockTaskQueuer
	publisher     *mypublisher.MockPublisher
}

func TestSettlement(t *testing.T) {

	t.Run("Start checkout redirects to the gateway", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		f := setup(t, ctrl)

		// given
		seedDiscount(f, discount.DiscountCode{Code: "SAVE10", Type: discount.DiscountTypeFixed, AmountInCents: 1000, Active: true, UsageLimit: 5})
		f.client.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).DoAndReturn(
			func(c context.Context, request gateway.PaymentRequest) (string, error) {
				assert.Equal(t, "abcdef", request.ConversationUID)
				assert.Equal(t, int64(9000), request.AmountInCents)
				assert.Contains(t, request.CallbackURL, "/checkout/abcdef/callback")
				return "https://paycore.example.com/pay/abcdef", nil
			})

		// when
		response := startCheckout(t, f)

		// then
		assert.Equal(t, 303, response.Code)
		assert.Equal(t, "https://paycore.example.com/pay/abcdef", response.Header().Get("Location"))

		session, err := f.sessions.Get(f.ctx, "abcdef")
		assert.NoError(t, err)
		assert.Equal(t, int64(9000), session.TotalAmountInCents)
		assert.Equal(t, int64(1000), session.DiscountAmountInCents)
	})

	t.Run("Start checkout with invalid discount code is rejected", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		f := setup(t, ctrl)

		// given: code exists but is exhausted
		seedDiscount(f, discount.DiscountCode{Code: "SAVE10", Type: discount.DiscountTypeFixed, AmountInCents: 1000, Active: true, UsageLimit: 5, TimesUsed: 5})

		// when
		response := startCheckout(t, f)

		// then
		assert.Equal(t, 422, response.Code)
	})

	t.Run("Successful callback creates the order exactly once", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		f := setup(t, ctrl)

		// given: a checkout was started
		seedDiscount(f, discount.DiscountCode{Code: "SAVE10", Type: discount.DiscountTypeFixed, AmountInCents: 1000, Active: true, UsageLimit: 5})
		f.client.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).Return("https://paycore.example.com/pay/abcdef", nil)
		startCheckout(t, f)

		f.client.EXPECT().RetrievePayment(gomock.Any(), "pay_123").Return(paymentDetails(), nil).Times(2)
		f.publisher.EXPECT().Publish(gomock.Any(), orderevents.TopicName, orderevents.OrderSettled{
			PaymentID:     "pay_123",
			OrderNumber:   "20230227-235859-abcdef",
			ProviderName:  "paycore",
			UserUID:       "user-1",
			AmountInCents: 9000,
			Currency:      "EUR",
			DiscountCode:  "SAVE10",
			Channel:       "callback",
		}).Return(nil)

		// when
		response := doCallback(t, f, "abcdef", "success", "pay_123")

		// then
		assert.Equal(t, 303, response.Code)
		assert.Contains(t, response.Header().Get("Location"), "status=success")
		assert.Contains(t, response.Header().Get("Location"), "orderNumber=20230227-235859-abcdef")

		order, exists, _ := f.orderStore.Get(f.ctx, "pay_123")
		assert.True(t, exists)
		assert.Equal(t, orderapi.PaymentStatusSuccess, order.PaymentStatus)
		assert.Equal(t, int64(9000), order.TotalAmountInCents)
		assert.Equal(t, 1, len(order.Items))
		assert.Equal(t, int64(9000), order.Items[0].TotalPriceInCents)
		assert.Equal(t, 1, order.Items[0].Quantity)
		assert.Equal(t, []string{"trans-1"}, order.Items[0].PaymentTransactionUIDs)

		code, _, _ := f.discountStore.Get(f.ctx, "SAVE10")
		assert.Equal(t, 1, code.TimesUsed)

		// when: the gateway retries the same callback
		retried := doCallback(t, f, "abcdef", "success", "pay_123")

		// then: still a success redirect, still exactly one order, uses still 1
		assert.Equal(t, 303, retried.Code)
		assert.Contains(t, retried.Header().Get("Location"), "status=success")

		orders, _ := f.orderStore.List(f.ctx)
		assert.Equal(t, 1, len(orders))
		code, _, _ = f.discountStore.Get(f.ctx, "SAVE10")
		assert.Equal(t, 1, code.TimesUsed)
	})

	t.Run("Callback retry completes settlement when session was consumed without an order", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		f := setup(t, ctrl)

		// given: an earlier callback consumed the session and then died
		// before the order transaction committed
		seedDiscount(f, discount.DiscountCode{Code: "SAVE10", Type: discount.DiscountTypeFixed, AmountInCents: 1000, Active: true, UsageLimit: 5})
		f.client.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).Return("https://paycore.example.com/pay/abcdef", nil)
		startCheckout(t, f)
		_, err := f.sessions.Consume(f.ctx, "abcdef")
		assert.NoError(t, err)

		f.client.EXPECT().RetrievePayment(gomock.Any(), "pay_123").Return(paymentDetails(), nil)
		f.publisher.EXPECT().Publish(gomock.Any(), orderevents.TopicName, gomock.Any()).Return(nil)

		// when
		response := doCallback(t, f, "abcdef", "success", "pay_123")

		// then: the order is created now, not reported as already settled
		assert.Equal(t, 303, response.Code)
		assert.Contains(t, response.Header().Get("Location"), "status=success")
		assert.Contains(t, response.Header().Get("Location"), "orderNumber=20230227-235859-abcdef")

		order, exists, _ := f.orderStore.Get(f.ctx, "pay_123")
		assert.True(t, exists)
		assert.Equal(t, orderapi.PaymentStatusSuccess, order.PaymentStatus)

		code, _, _ := f.discountStore.Get(f.ctx, "SAVE10")
		assert.Equal(t, 1, code.TimesUsed)
	})

	t.Run("Failed callback cleans up and never creates an order", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		f := setup(t, ctrl)

		// given
		f.client.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).Return("https://paycore.example.com/pay/abcdef", nil)
		startCheckoutWithoutDiscount(t, f)

		// when
		response := doCallback(t, f, "abcdef", "failure", "pay_123")

		// then
		assert.Equal(t, 303, response.Code)
		assert.Contains(t, response.Header().Get("Location"), "status=failed")

		orders, _ := f.orderStore.List(f.ctx)
		assert.Equal(t, 0, len(orders))

		_, err := f.sessions.Get(f.ctx, "abcdef")
		assert.Error(t, err)
	})

	t.Run("Callback with mismatching amount is treated as fraud", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		f := setup(t, ctrl)

		// given
		f.client.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).Return("https://paycore.example.com/pay/abcdef", nil)
		startCheckoutWithoutDiscount(t, f)

		details := paymentDetails()
		details.AmountInCents = 8999
		f.client.EXPECT().RetrievePayment(gomock.Any(), "pay_123").Return(details, nil)

		// when
		response := doCallback(t, f, "abcdef", "success", "pay_123")

		// then
		assert.Equal(t, 403, response.Code)
		orders, _ := f.orderStore.List(f.ctx)
		assert.Equal(t, 0, len(orders))
	})

	t.Run("Webhook on settled order is a no-op", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		f := setup(t, ctrl)

		// given
		seedOrder(f, "pay_123", orderapi.PaymentStatusSuccess)

		// when
		response := doWebhook(t, f, `{"status":"SUCCESS","paymentId":"pay_123"}`)

		// then
		assert.Equal(t, 200, response.Code)
		assert.Contains(t, response.Body.String(), "ok")
	})

	t.Run("Webhook transitions a pending payment to success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		f := setup(t, ctrl)

		// given
		seedOrder(f, "pay_123", orderapi.PaymentStatusPending)
		f.publisher.EXPECT().Publish(gomock.Any(), orderevents.TopicName, orderevents.PaymentStatusChanged{
			PaymentID: "pay_123",
			OldStatus: "PENDING",
			NewStatus: "SUCCESS",
		}).Return(nil)

		// when
		response := doWebhook(t, f, `{"status":"SUCCESS","paymentId":"pay_123"}`)

		// then
		assert.Equal(t, 200, response.Code)
		order, _, _ := f.orderStore.Get(f.ctx, "pay_123")
		assert.Equal(t, orderapi.PaymentStatusSuccess, order.PaymentStatus)
	})

	t.Run("Webhook for unknown payment is queued for retry", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		f := setup(t, ctrl)

		// given
		f.queue.EXPECT().Enqueue(gomock.Any(), gomock.Any()).DoAndReturn(
			func(c context.Context, task myqueue.Task) error {
				assert.Equal(t, "webhook-pay_999", task.UID)
				assert.Equal(t, "/api/settlement/webhook-retry/pay_999", task.WebhookURLPath)
				return nil
			})

		// when
		response := doWebhook(t, f, `{"status":"SUCCESS","paymentId":"pay_999"}`)

		// then: 200 regardless, the queue owns the retry
		assert.Equal(t, 200, response.Code)
	})

	t.Run("Non-success webhook is ignored", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		f := setup(t, ctrl)

		// when
		response := doWebhook(t, f, `{"status":"FAILED","paymentId":"pay_123"}`)

		// then
		assert.Equal(t, 200, response.Code)
	})

	t.Run("Webhook retry keeps failing until order appears", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		f := setup(t, ctrl)

		// given: not the last attempt
		f.queue.EXPECT().IsLastAttempt(gomock.Any(), "webhook-pay_404").Return(int32(1), int32(5))

		// when
		request, _ := http.NewRequest(http.MethodPut, "/api/settlement/webhook-retry/pay_404", nil)
		response := httptest.NewRecorder()
		f.router.ServeHTTP(response, request)

		// then: non-2xx makes the queue deliver again
		assert.Equal(t, 404, response.Code)
	})

	t.Run("Webhook retry gives up on the last attempt", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		f := setup(t, ctrl)

		// given
		f.queue.EXPECT().IsLastAttempt(gomock.Any(), "webhook-pay_404").Return(int32(5), int32(5))

		// when
		request, _ := http.NewRequest(http.MethodPut, "/api/settlement/webhook-retry/pay_404", nil)
		response := httptest.NewRecorder()
		f.router.ServeHTTP(response, request)

		// then: acked so the task is dropped, failure was logged
		assert.Equal(t, 200, response.Code)
	})

	t.Run("Order cannot complete without successful payment", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		f := setup(t, ctrl)

		// given
		seedOrder(f, "pay_123", orderapi.PaymentStatusPending)

		// when
		request, _ := http.NewRequest(http.MethodPut, "/api/order/pay_123/status/COMPLETED", nil)
		response := httptest.NewRecorder()
		f.router.ServeHTTP(response, request)

		// then
		assert.Equal(t, 422, response.Code)

		// and once payment succeeded completion is allowed
		f.publisher.EXPECT().Publish(gomock.Any(), orderevents.TopicName, gomock.Any()).Return(nil)
		doWebhook(t, f, `{"status":"SUCCESS","paymentId":"pay_123"}`)

		response = httptest.NewRecorder()
		f.router.ServeHTTP(response, request)
		assert.Equal(t, 200, response.Code)
	})
}

func setup(t *testing.T, ctrl *gomock.Controller) fixture {
	c := context.TODO()

	orderStore, _, _ := mystore.NewInMemoryStore[orderapi.Order](c)
	sessionStore, _, _ := mystore.NewInMemoryStore[checkoutsession.CheckoutSession](c)
	discountStore, _, _ := mystore.NewInMemoryStore[discount.DiscountCode](c)
	cache, _, _ := mycache.NewInMemoryCache(c)

	nower := mytime.NewMockNower(ctrl)
	nower.EXPECT().Now().Return(mytime.ExampleTime).AnyTimes()

	uuider := myuuid.NewMockUUIDer(ctrl)
	uuider.EXPECT().Create().Return("abcdef").AnyTimes()

	client := gateway.NewMockClient(ctrl)
	queue := myqueue.NewMockTaskQueuer(ctrl)
	publisher := mypublisher.NewMockPublisher(ctrl)

	sessions := checkoutsession.NewManager(sessionStore, nower, uuider, 0)
	discounts := discount.NewValidator(discountStore, nower)
	limiter := ratelimit.New(cache, ratelimit.Config{Limit: 100, Window: time.Minute})

	sut := NewWebService(orderStore, sessions, discounts,
		map[string]gateway.Client{"paycore": client}, queue, publisher, nower, uuider)
	router := mux.NewRouter()

	publisher.EXPECT().CreateTopic(gomock.Any(), orderevents.TopicName).Return(nil)
	err := sut.RegisterEndpoints(c, router, limiter)
	assert.NoError(t, err)

	return fixture{
		ctx:           c,
		router:        router,
		orderStore:    orderStore,
		discountStore: discountStore,
		sessions:      sessions,
		client:        client,
		queue:         queue,
		publisher:     publisher,
	}
}

func startCheckout(t *testing.T, f fixture) *httptest.ResponseRecorder {
	return postCheckoutForm(t, f, exampleCheckout())
}

func startCheckoutWithoutDiscount(t *testing.T, f fixture) *httptest.ResponseRecorder {
	co := exampleCheckout()
	co.DiscountCode = ""
	co.Lines[0].UnitPriceInCents = 9000
	return postCheckoutForm(t, f, co)
}

func postCheckoutForm(t *testing.T, f fixture, co shopapi.Checkout) *httptest.ResponseRecorder {
	values, err := co.ToForm()
	assert.NoError(t, err)

	request, err := http.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(values.Encode()))
	assert.NoError(t, err)
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Host = "localhost:8888"

	response := httptest.NewRecorder()
	f.router.ServeHTTP(response, request)
	return response
}

func doCallback(t *testing.T, f fixture, token string, status string, paymentID string) *httptest.ResponseRecorder {
	request, err := http.NewRequest(http.MethodGet, "/checkout/"+token+"/callback?status="+status+"&paymentId="+paymentID, nil)
	assert.NoError(t, err)
	request.Host = "localhost:8888"

	response := httptest.NewRecorder()
	f.router.ServeHTTP(response, request)
	return response
}

func doWebhook(t *testing.T, f fixture, body string) *httptest.ResponseRecorder {
	request, err := http.NewRequest(http.MethodPost, "/api/settlement/webhook/paycore", strings.NewReader(body))
	assert.NoError(t, err)

	response := httptest.NewRecorder()
	f.router.ServeHTTP(response, request)
	return response
}

func seedDiscount(f fixture, code discount.DiscountCode) {
	_ = f.discountStore.Put(f.ctx, code.Code, code)
}

func seedOrder(f fixture, paymentID string, paymentStatus orderapi.PaymentStatus) {
	_ = f.orderStore.Put(f.ctx, paymentID, orderapi.Order{
		UID:                "order-1",
		OrderNumber:        "20230227-235859-abcdef",
		Provider:           "paycore",
		Status:             orderapi.OrderStatusProcessing,
		PaymentStatus:      paymentStatus,
		PaymentID:          paymentID,
		PaymentDate:        mytime.ExampleTime,
		Currency:           "EUR",
		TotalAmountInCents: 9000,
		CreatedAt:          mytime.ExampleTime,
	})
}

func exampleCheckout() shopapi.Checkout {
	return shopapi.Checkout{
		Provider:     "paycore",
		BasketUID:    "basket-123",
		UserUID:      "user-1",
		Currency:     "EUR",
		ReturnURL:    "https://shop.example.com/basket/basket-123",
		DiscountCode: "SAVE10",
		Lines: []shopapi.Line{
			{
				VariantUID:       "variant-1",
				Description:      "Beans",
				VariantKind:      "weight",
				VariantValue:     "500",
				Quantity:         1,
				UnitPriceInCents: 10000,
			},
		},
	}
}

func paymentDetails() gateway.PaymentDetails {
	return gateway.PaymentDetails{
		PaymentID:        "pay_123",
		ConversationUID:  "abcdef",
		Status:           gateway.PaymentResultSuccess,
		AmountInCents:    9000,
		Currency:         "EUR",
		MaskedCardNumber: "4111 11** **** 1111",
		ItemTransactions: []gateway.ItemTransaction{
			{TransactionUID: "trans-1", VariantUID: "variant-1", PriceInCents: 9000},
		},
	}
}
