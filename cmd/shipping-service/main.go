// The shipping-service binary consumes PAYMENT_PROCESSED, books shipments,
// and relays its SHIPPING_CREATED outbox records.
package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/shopflow/shopflow/consumer"
	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/internal/app"
	"github.com/shopflow/shopflow/internal/config"
	"github.com/shopflow/shopflow/internal/shipping"
)

func main() {
	config.LoadEnv()
	cfg, err := config.LoadShipping()
	if err != nil {
		logrus.WithError(err).Fatal("load configuration")
	}

	ctx := context.Background()
	rt, err := app.New(ctx, "shipping-service", cfg.Service)
	if err != nil {
		logrus.WithError(err).Fatal("start shipping-service")
	}
	defer rt.Close()

	partner := shipping.NewHTTPPartner(cfg.PartnerURL, cfg.PartnerKey)
	svc := shipping.NewService(rt.Saga, partner, shipping.WithLogger(rt.Logger))

	loop, err := rt.Consumer(consumer.WithFailureClassifier(app.PermanentFailures))
	if err != nil {
		rt.Log.WithError(err).Fatal("build consumer")
	}
	loop.Handle(event.TypePaymentProcessed, svc.HandlePaymentProcessed)

	relay, err := rt.Relay()
	if err != nil {
		rt.Log.WithError(err).Fatal("build relay")
	}

	rt.Log.Info("shipping-service running")
	if err := rt.Run(ctx, loop.Run, relay.Run); err != nil {
		rt.Log.WithError(err).Fatal("shipping-service exited")
	}
}
