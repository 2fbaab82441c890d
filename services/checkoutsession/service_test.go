package checkoutsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/MarcGrol/settlebackend/lib/myerrors"
	"github.com/MarcGrol/settlebackend/lib/mystore"
	"github.com/MarcGrol/settlebackend/lib/mytime"
	"github.com/MarcGrol/settlebackend/lib/myuuid"
	"github.com/MarcGrol/settlebackend/services/shopapi"
)

func TestCreateAndConsume(t *testing.T) {
	c := context.TODO()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	manager, _ := setup(c, t, ctrl, mytime.ExampleTime)

	session, err := manager.Create(c, exampleSession())
	assert.NoError(t, err)
	assert.Equal(t, "abcdef", session.Token)
	assert.Equal(t, mytime.ExampleTime.Add(DefaultTTL), session.ExpiresAt)

	fetched, err := manager.Get(c, session.Token)
	assert.NoError(t, err)
	assert.Equal(t, int64(9000), fetched.TotalAmountInCents)

	consumed, err := manager.Consume(c, session.Token)
	assert.NoError(t, err)
	assert.Equal(t, "basket-123", consumed.BasketUID)
	assert.NotNil(t, consumed.ConsumedAt)
}

func TestConsumeIsSingleUse(t *testing.T) {
	c := context.TODO()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	manager, _ := setup(c, t, ctrl, mytime.ExampleTime)

	session, err := manager.Create(c, exampleSession())
	assert.NoError(t, err)

	_, err = manager.Consume(c, session.Token)
	assert.NoError(t, err)

	_, err = manager.Consume(c, session.Token)
	assert.True(t, myerrors.IsConflict(err))
}

func TestConsumeConcurrentlyHasOneWinner(t *testing.T) {
	c := context.TODO()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	manager, _ := setup(c, t, ctrl, mytime.ExampleTime)

	session, err := manager.Create(c, exampleSession())
	assert.NoError(t, err)

	const attempts = 10
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.Consume(c, session.Token)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	winners := 0
	for err := range errs {
		if err == nil {
			winners++
		} else {
			assert.True(t, myerrors.IsConflict(err))
		}
	}
	assert.Equal(t, 1, winners)
}

func TestConsumeExpired(t *testing.T) {
	c := context.TODO()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	nower := mytime.NewMockNower(ctrl)
	nower.EXPECT().Now().Return(mytime.ExampleTime)
	nower.EXPECT().Now().Return(mytime.ExampleTime.Add(DefaultTTL + time.Second))

	manager := newManagerWithNower(c, t, ctrl, nower)

	session, err := manager.Create(c, exampleSession())
	assert.NoError(t, err)

	// a late callback must never settle against an expired session
	_, err = manager.Consume(c, session.Token)
	assert.Error(t, err)
	assert.Equal(t, 422, myerrors.GetHTTPStatus(err))
}

func TestConsumeUnknownToken(t *testing.T) {
	c := context.TODO()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	manager, _ := setup(c, t, ctrl, mytime.ExampleTime)

	_, err := manager.Consume(c, "nosuchtoken")
	assert.True(t, myerrors.IsNotFound(err))
}

func TestCleanup(t *testing.T) {
	c := context.TODO()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	manager, _ := setup(c, t, ctrl, mytime.ExampleTime)

	session, err := manager.Create(c, exampleSession())
	assert.NoError(t, err)

	err = manager.Cleanup(c, session.Token)
	assert.NoError(t, err)

	_, err = manager.Get(c, session.Token)
	assert.True(t, myerrors.IsNotFound(err))
}

func setup(c context.Context, t *testing.T, ctrl *gomock.Controller, now time.Time) (Manager, mystore.Store[CheckoutSession]) {
	store, _, err := mystore.NewInMemoryStore[CheckoutSession](c)
	assert.NoError(t, err)

	nower := mytime.NewMockNower(ctrl)
	nower.EXPECT().Now().Return(now).AnyTimes()

	uuider := myuuid.NewMockUUIDer(ctrl)
	uuider.EXPECT().Create().Return("abcdef").AnyTimes()

	return NewManager(store, nower, uuider, 0), store
}

func newManagerWithNower(c context.Context, t *testing.T, ctrl *gomock.Controller, nower mytime.Nower) Manager {
	store, _, err := mystore.NewInMemoryStore[CheckoutSession](c)
	assert.NoError(t, err)

	uuider := myuuid.NewMockUUIDer(ctrl)
	uuider.EXPECT().Create().Return("abcdef").AnyTimes()

	return NewManager(store, nower, uuider, 0)
}

func exampleSession() CheckoutSession {
	return CheckoutSession{
		BasketUID:             "basket-123",
		UserUID:               "user-1",
		Provider:              "paycore",
		Currency:              "EUR",
		TotalAmountInCents:    9000,
		DiscountCode:          "SAVE10",
		DiscountAmountInCents: 1000,
		Lines: []shopapi.Line{
			{VariantUID: "variant-1", Description: "Beans", VariantKind: "weight", VariantValue: "500", Quantity: 2, UnitPriceInCents: 5000},
		},
		ReturnURL: "https://shop.example.com/basket/basket-123",
		ClientIP:  "1.2.3.4",
	}
}
