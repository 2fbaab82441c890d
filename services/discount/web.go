package discount

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
	"github.com/MarcGrol/settlebackend/lib/mystore"
	"github.com/MarcGrol/settlebackend/lib/mytime"
)

type webService struct {
	logger  mylog.Logger
	service *service
}

// Use dependency injection to isolate the infrastructure and easy testing
func NewWebService(store mystore.Store[DiscountCode], nower mytime.Nower) *webService {
	return &webService{
		logger:  mylog.New("discount"),
		service: newService(store, nower),
	}
}

// RegisterEndpoints exposes the administrative surface for discount codes.
func (s *webService) RegisterEndpoints(c context.Context, router *mux.Router) error {
	router.HandleFunc("/api/discount/{code}", s.upsertDiscountCode()).Methods("PUT")
	router.HandleFunc("/api/discount/{code}", s.getDiscountCode()).Methods("GET")

	return nil
}

func (s *webService) upsertDiscountCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		errorWriter := myhttp.NewWriter(s.logger)

		code := mux.Vars(r)["code"]

		discountCode := DiscountCode{}
		err := json.NewDecoder(r.Body).Decode(&discountCode)
		if err != nil {
			errorWriter.WriteError(c, w, 1, myerrors.NewInvalidInputError(fmt.Errorf("error parsing request: %s", err)))
			return
		}
		discountCode.Code = code

		stored, err := s.service.upsert(c, discountCode)
		if err != nil {
			errorWriter.WriteError(c, w, 2, err)
			return
		}

		errorWriter.Write(c, w, http.StatusOK, stored)
	}
}

func (s *webService) getDiscountCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := mycontext.ContextFromHTTPRequest(r)
		errorWriter := myhttp.NewWriter(s.logger)

		code := mux.Vars(r)["code"]

		discountCode, err := s.service.get(c, code)
		if err != nil {
			errorWriter.WriteError(c, w, 1, err)
			return
		}

		errorWriter.Write(c, w, http.StatusOK, discountCode)
	}
}
