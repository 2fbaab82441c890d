package refund

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/MarcGrol/settlebackend/lib/mycontext"
	"github.com/MarcGrol/settlebackend/lib/myerrors"
	"github.com/MarcGrol/settlebackend/lib/myhttp"
	"github.com/MarcGrol/settlebackend/lib/mylog"
	"github.com/MarcGrol/settlebackend/lib/mypublisher"
	"github.com/MarcGrol/settlebackend/lib/mystore"
	"github.com/MarcGrol/settlebackend/lib/mytime"
	"github.com/MarcGrol/settlebackend/services/gateway"
	"github.com/MarcGrol/settlebackend/services/orderapi"
	"github.com/MarcGrol/settlebackend/services/ratelimit"
)

type webService struct {
	logger  mylog.Logger
	service *service
}

// Use dependency injection to isolate the infrastructure and easy testing
func NewWebService(config Config, orderStore mystore.Store[orderapi.Order], gateways map[string]gateway.Client,
	publisher mypublisher.Publisher, nower mytime.Nower) *webService {
	return &webService{
		logger:  mylog.New("refund"),
		service: newService(config, orderStore, gateways, publisher, nower),
	}
}

func (s *webService) RegisterEndpoints(c context.Context, router *mux.Router, limiter *ratelimit.Limiter) error {
	router.HandleFunc("/api/refund", limiter.Guard(s.requestRefund())).Methods("POST")
	router.HandleFunc("/api/refund/execute", s.executeRefund()).Methods("POST")

	return nil
}

func (s *webService) requestRefund() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		errorWriter := myhttp.NewWriter(s.logger)

		request := RefundRequest{}
		err := json.NewDecoder(r.Body).Decode(&request)
		if err != nil {
			errorWriter.WriteError(c, w, 1, myerrors.NewInvalidInputError(fmt.Errorf("error parsing request: %s", err)))
			return
		}
		if request.OrderItemUID == "" {
			errorWriter.WriteError(c, w, 2, myerrors.NewInvalidInputErrorf("missing orderItemUid"))
			return
		}

		err = s.service.requestRefund(c, request)
		if err != nil {
			errorWriter.WriteError(c, w, 3, err)
			return
		}

		errorWriter.Write(c, w, http.StatusOK, myhttp.SuccessResponse{Message: "refund requested"})
	}
}

func (s *webService) executeRefund() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		errorWriter := myhttp.NewWriter(s.logger)

		request := RefundExecuteRequest{}
		err := json.NewDecoder(r.Body).Decode(&request)
		if err != nil {
			errorWriter.WriteError(c, w, 1, myerrors.NewInvalidInputError(fmt.Errorf("error parsing request: %s", err)))
			return
		}
		if request.PaymentID == "" || request.OrderItemUID == "" {
			errorWriter.WriteError(c, w, 2, myerrors.NewInvalidInputErrorf("missing paymentId or orderItemUid"))
			return
		}

		err = s.service.executeRefund(c, request)
		if err != nil {
			errorWriter.WriteError(c, w, 3, err)
			return
		}

		errorWriter.Write(c, w, http.StatusOK, myhttp.SuccessResponse{Message: "refund executed"})
	}
}
