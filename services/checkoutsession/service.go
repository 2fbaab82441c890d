package checkoutsession

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcGrol/settlebackend/lib/myerrors"
	"github.com/MarcGrol/settlebackend/lib/mylog"
	"github.com/MarcGrol/settlebackend/lib/mystore"
	"github.com/MarcGrol/settlebackend/lib/mytime"
	"github.com/MarcGrol/settlebackend/lib/myuuid"
)

type service struct {
	store  mystore.Store[CheckoutSession]
	nower  mytime.Nower
	uuider myuuid.UUIDer
	ttl    time.Duration
	logger mylog.Logger
}

// Use dependency injection to isolate the infrastructure and easy testing
func newService(store mystore.Store[CheckoutSession], nower mytime.Nower, uuider myuuid.UUIDer, ttl time.Duration) *service {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return &service{
		store:  store,
		nower:  nower,
		uuider: uuider,
		ttl:    ttl,
		logger: mylog.New("checkoutsession"),
	}
}

func (s *service) Create(c context.Context, session CheckoutSession) (CheckoutSession, error) {
	now := s.nower.Now()

	session.Token = s.uuider.Create()
	session.CreatedAt = now
	session.ExpiresAt = now.Add(s.ttl)
	session.ConsumedAt = nil

	err := s.store.Put(c, session.Token, session)
	if err != nil {
		return CheckoutSession{}, myerrors.NewInternalError(fmt.Errorf("error storing session for basket %s: %s", session.BasketUID, err))
	}

	s.logger.Log(c, session.Token, mylog.SeverityInfo, "Created checkout session for basket %s, expires at %s", session.BasketUID, session.ExpiresAt)

	return session, nil
}

func (s *service) Get(c context.Context, token string) (CheckoutSession, error) {
	session, found, err := s.store.Get(c, token)
	if err != nil {
		return CheckoutSession{}, myerrors.NewInternalError(fmt.Errorf("error fetching session %s: %s", token, err))
	}
	if !found {
		return CheckoutSession{}, myerrors.NewNotFoundError(fmt.Errorf("session %s not found", token))
	}

	return session, nil
}

func (s *service) Consume(c context.Context, token string) (CheckoutSession, error) {
	now := s.nower.Now()

	session := CheckoutSession{}
	err := s.store.RunInTransaction(c, func(c context.Context) error {
		var found bool
		var err error
		session, found, err = s.store.Get(c, token)
		if err != nil {
			return myerrors.NewInternalError(fmt.Errorf("error fetching session %s: %s", token, err))
		}
		if !found {
			return myerrors.NewNotFoundError(fmt.Errorf("session %s not found", token))
		}
		if session.isConsumed() {
			return myerrors.NewConflictError(fmt.Errorf("session %s already consumed at %s", token, session.ConsumedAt))
		}
		if session.isExpired(now) {
			return myerrors.NewBusinessRuleError(fmt.Errorf("session %s expired at %s", token, session.ExpiresAt))
		}

		session.ConsumedAt = &now

		return s.store.Put(c, token, session)
	})
	if err != nil {
		return CheckoutSession{}, err
	}

	s.logger.Log(c, token, mylog.SeverityInfo, "Consumed checkout session for basket %s", session.BasketUID)

	return session, nil
}

func (s *service) Cleanup(c context.Context, token string) error {
	// The address snapshot lives inside the session, so dropping the
	// session also drops the guest address artifacts.
	err := s.store.Delete(c, token)
	if err != nil {
		return myerrors.NewInternalError(fmt.Errorf("error deleting session %s: %s", token, err))
	}

	s.logger.Log(c, token, mylog.SeverityInfo, "Cleaned up checkout session %s", token)

	return nil
}
