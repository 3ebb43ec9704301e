// The billing-service binary consumes INVOICE_GENERATED, charges customers,
// and relays its PAYMENT_PROCESSED outbox records.
package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/shopflow/shopflow/consumer"
	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/internal/app"
	"github.com/shopflow/shopflow/internal/billing"
	"github.com/shopflow/shopflow/internal/config"
)

func main() {
	config.LoadEnv()
	cfg, err := config.LoadBilling()
	if err != nil {
		logrus.WithError(err).Fatal("load configuration")
	}

	ctx := context.Background()
	rt, err := app.New(ctx, "billing-service", cfg.Service)
	if err != nil {
		logrus.WithError(err).Fatal("start billing-service")
	}
	defer rt.Close()

	charger := billing.NewHTTPCharger(cfg.PaymentURL, cfg.PaymentKey)
	svc := billing.NewService(rt.Saga, charger, billing.WithLogger(rt.Logger))

	loop, err := rt.Consumer(consumer.WithFailureClassifier(app.PermanentFailures))
	if err != nil {
		rt.Log.WithError(err).Fatal("build consumer")
	}
	loop.Handle(event.TypeInvoiceGenerated, svc.HandleInvoiceGenerated)

	relay, err := rt.Relay()
	if err != nil {
		rt.Log.WithError(err).Fatal("build relay")
	}

	rt.Log.Info("billing-service running")
	if err := rt.Run(ctx, loop.Run, relay.Run); err != nil {
		rt.Log.WithError(err).Fatal("billing-service exited")
	}
}
