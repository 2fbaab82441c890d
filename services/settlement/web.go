package settlement

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
	"github.com/MarcGrol/settlebackend/lib/myqueue"
	"github.com/MarcGrol/settlebackend/lib/mystore"
	"github.com/MarcGrol/settlebackend/lib/mytime"
	"github.com/MarcGrol/settlebackend/lib/myuuid"
	"github.com/MarcGrol/settlebackend/services/checkoutsession"
	"github.com/MarcGrol/settlebackend/services/discount"
	"github.com/MarcGrol/settlebackend/services/gateway"
	"github.com/MarcGrol/settlebackend/services/orderapi"
	"github.com/MarcGrol/settlebackend/services/ratelimit"
	"github.com/MarcGrol/settlebackend/services/shopapi"
)

type webService struct {
	logger  mylog.Logger
	service *service
}

// Use dependency injection to isolate the infrastructure and easy testing
func NewWebService(orderStore mystore.Store[orderapi.Order], sessions checkoutsession.Manager, discounts discount.Validator,
	gateways map[string]gateway.Client, queue myqueue.TaskQueuer, publisher mypublisher.Publisher,
	nower mytime.Nower, uuider myuuid.UUIDer) *webService {
	return &webService{
		logger:  mylog.New("settlement"),
		service: newService(orderStore, sessions, discounts, gateways, queue, publisher, nower, uuider),
	}
}

func (s *webService) RegisterEndpoints(c context.Context, router *mux.Router, limiter *ratelimit.Limiter) error {
	// gateway-facing endpoints sit behind the rate limiter
	router.HandleFunc("/api/checkout", limiter.Guard(s.startCheckoutPage())).Methods("POST")
	router.HandleFunc("/checkout/{token}/callback", limiter.Guard(s.checkoutCallbackPage())).Methods("GET")
	router.HandleFunc("/api/settlement/webhook/{provider}", limiter.Guard(s.webhookNotification())).Methods("POST")

	// triggered by the task queue
	router.HandleFunc("/api/settlement/webhook-retry/{paymentID}", s.webhookRetry()).Methods("PUT")

	// operator surface
	router.HandleFunc("/api/order", s.listOrders()).Methods("GET")
	router.HandleFunc("/api/order/{paymentID}", s.getOrder()).Methods("GET")
	router.HandleFunc("/api/order/{paymentID}/status/{status}", s.updateOrderStatus()).Methods("PUT")

	return s.service.CreateTopics(c)
}

func (s *webService) startCheckoutPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		errorWriter := myhttp.NewWriter(s.logger)

		co, err := shopapi.NewFromRequest(r)
		if err != nil {
			errorWriter.WriteError(c, w, 1, myerrors.NewInvalidInputError(fmt.Errorf("error parsing request: %s", err)))
			return
		}

		redirectURL, err := s.service.startCheckout(c, co, myhttp.ClientIP(r), myhttp.HostnameWithScheme(r))
		if err != nil {
			errorWriter.WriteError(c, w, 2, err)
			return
		}

		http.Redirect(w, r, redirectURL, http.StatusSeeOther)
	}
}

func (s *webService) checkoutCallbackPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		errorWriter := myhttp.NewWriter(s.logger)

		token := mux.Vars(r)["token"]
		callbackStatus := r.URL.Query().Get("status")
		paymentID := r.URL.Query().Get("paymentId")

		redirectURL, err := s.service.finalizeCheckout(c, token, callbackStatus, paymentID)
		if err != nil {
			errorWriter.WriteError(c, w, 1, err)
			return
		}

		http.Redirect(w, r, redirectURL, http.StatusSeeOther)
	}
}

// webhookNotification always answers 200 with a structured body so the
// gateway does not storm us with retries. Failures are logged.
func (s *webService) webhookNotification() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		responseWriter := myhttp.NewWriter(s.logger)

		provider := mux.Vars(r)["provider"]

		notification := WebhookNotification{}
		err := json.NewDecoder(r.Body).Decode(&notification)
		if err != nil {
			s.logger.Log(c, "", mylog.SeverityWarn, "Error parsing webhook from %s: %s", provider, err)
			responseWriter.Write(c, w, http.StatusOK, WebhookResponse{Status: "error", Message: "malformed notification"})
			return
		}

		err = s.service.webhookNotification(c, provider, notification)
		if err != nil {
			s.logger.Log(c, notification.PaymentID, mylog.SeverityError, "Error handling webhook from %s: %s", provider, err)
			responseWriter.Write(c, w, http.StatusOK, WebhookResponse{Status: "error", Message: "notification not processed"})
			return
		}

		responseWriter.Write(c, w, http.StatusOK, WebhookResponse{Status: "ok", Message: "notification processed"})
	}
}

func (s *webService) webhookRetry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		errorWriter := myhttp.NewWriter(s.logger)

		paymentID := mux.Vars(r)["paymentID"]

		err := s.service.retryWebhook(c, paymentID)
		if err != nil {
			// non-2xx makes the queue deliver again
			errorWriter.WriteError(c, w, 1, err)
			return
		}

		errorWriter.Write(c, w, http.StatusOK, myhttp.SuccessResponse{Message: "processed"})
	}
}

func (s *webService) listOrders() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		errorWriter := myhttp.NewWriter(s.logger)

		orders, err := s.service.listOrders(c)
		if err != nil {
			errorWriter.WriteError(c, w, 1, err)
			return
		}

		errorWriter.Write(c, w, http.StatusOK, orders)
	}
}

func (s *webService) getOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		errorWriter := myhttp.NewWriter(s.logger)

		paymentID := mux.Vars(r)["paymentID"]

		order, err := s.service.getOrder(c, paymentID)
		if err != nil {
			errorWriter.WriteError(c, w, 1, err)
			return
		}

		errorWriter.Write(c, w, http.StatusOK, order)
	}
}

func (s *webService) updateOrderStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		errorWriter := myhttp.NewWriter(s.logger)

		paymentID := mux.Vars(r)["paymentID"]
		status := orderapi.OrderStatus(mux.Vars(r)["status"])

		order, err := s.service.updateOrderStatus(c, paymentID, status)
		if err != nil {
			errorWriter.WriteError(c, w, 1, err)
			return
		}

		errorWriter.Write(c, w, http.StatusOK, order)
	}
}
