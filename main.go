package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/MarcGrol/settlebackend/lib/mycache"
	"github.com/MarcGrol/settlebackend/lib/mypublisher"
	"github.com/MarcGrol/settlebackend/lib/mypubsub"
	"github.com/MarcGrol/settlebackend/lib/myqueue"
	"github.com/MarcGrol/settlebackend/lib/mystore"
	"github.com/MarcGrol/settlebackend/lib/mytime"
	"github.com/MarcGrol/settlebackend/lib/myuuid"
	"github.com/MarcGrol/settlebackend/services/checkoutsession"
	"github.com/MarcGrol/settlebackend/services/discount"
	"github.com/MarcGrol/settlebackend/services/gateway"
	"github.com/MarcGrol/settlebackend/services/gateway/paycore"
	"github.com/MarcGrol/settlebackend/services/gateway/trustpay"
	"github.com/MarcGrol/settlebackend/services/orderapi"
	"github.com/MarcGrol/settlebackend/services/ratelimit"
	"github.com/MarcGrol/settlebackend/services/refund"
	"github.com/MarcGrol/settlebackend/services/settlement"
)

func main() {
	c := context.Background()

	router := mux.NewRouter()

	nower := mytime.RealNower{}
	uuider := myuuid.RealUUIDer{}

	orderStore, orderStoreCleanup, err := mystore.New[orderapi.Order](c)
	if err != nil {
		log.Fatalf("Error creating order store: %s", err)
	}
	defer orderStoreCleanup()

	sessionStore, sessionStoreCleanup, err := mystore.New[checkoutsession.CheckoutSession](c)
	if err != nil {
		log.Fatalf("Error creating session store: %s", err)
	}
	defer sessionStoreCleanup()

	discountStore, discountStoreCleanup, err := mystore.New[discount.DiscountCode](c)
	if err != nil {
		log.Fatalf("Error creating discount store: %s", err)
	}
	defer discountStoreCleanup()

	cache, cacheCleanup, err := mycache.New(c)
	if err != nil {
		log.Fatalf("Error creating cache: %s", err)
	}
	defer cacheCleanup()

	queue, queueCleanup, err := myqueue.New(c)
	if err != nil {
		log.Fatalf("Error creating queue: %s", err)
	}
	defer queueCleanup()

	pubsub, pubsubCleanup, err := mypubsub.New(c)
	if err != nil {
		log.Fatalf("Error creating pubsub: %s", err)
	}
	defer pubsubCleanup()

	publisher, publisherCleanup, err := mypublisher.New(c, pubsub, queue, nower)
	if err != nil {
		log.Fatalf("Error creating publisher: %s", err)
	}
	defer publisherCleanup()
	publisher.RegisterEndpoints(c, router)

	gateways := map[string]gateway.Client{
		"paycore": paycore.NewClient(paycore.Config{
			BaseURL:     os.Getenv("PAYCORE_BASE_URL"),
			APIKey:      os.Getenv("PAYCORE_API_KEY"),
			SecretKey:   os.Getenv("PAYCORE_SECRET_KEY"),
			MerchantUID: os.Getenv("PAYCORE_MERCHANT_UID"),
		}),
		"trustpay": trustpay.NewClient(trustpay.Config{
			BaseURL:     os.Getenv("TRUSTPAY_BASE_URL"),
			Secret:      os.Getenv("TRUSTPAY_SECRET"),
			MerchantUID: os.Getenv("TRUSTPAY_MERCHANT_UID"),
			TerminalUID: os.Getenv("TRUSTPAY_TERMINAL_UID"),
		}),
	}

	limiter := ratelimit.New(cache, ratelimit.Config{
		Limit:  60,
		Window: time.Minute,
	})

	sessions := checkoutsession.NewManager(sessionStore, nower, uuider, checkoutsession.DefaultTTL)
	discounts := discount.NewValidator(discountStore, nower)

	discountService := discount.NewWebService(discountStore, nower)
	err = discountService.RegisterEndpoints(c, router)
	if err != nil {
		log.Fatalf("Error registering discount endpoints: %s", err)
	}

	settlementService := settlement.NewWebService(orderStore, sessions, discounts, gateways, queue, publisher, nower, uuider)
	err = settlementService.RegisterEndpoints(c, router, limiter)
	if err != nil {
		log.Fatalf("Error registering settlement endpoints: %s", err)
	}

	refundService := refund.NewWebService(refund.Config{WindowDays: refund.DefaultWindowDays}, orderStore, gateways, publisher, nower)
	err = refundService.RegisterEndpoints(c, router, limiter)
	if err != nil {
		log.Fatalf("Error registering refund endpoints: %s", err)
	}

	startWebServerBlocking(router)
}

func startWebServerBlocking(router *mux.Router) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting webserver on port %s (try http://localhost:%s)", port, port)
	err := http.ListenAndServe(fmt.Sprintf(":%s", port), router)
	if err != nil {
		log.Fatalf("Error starting webserver on port %s: %s", port, err)
	}
}
