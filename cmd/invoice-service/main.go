// The invoice-service binary consumes REQUEST_CREATED, renders invoices, and
// relays its INVOICE_GENERATED outbox records.
package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/shopflow/shopflow/consumer"
	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/internal/app"
	"github.com/shopflow/shopflow/internal/config"
	"github.com/shopflow/shopflow/internal/invoicing"
)

func main() {
	config.LoadEnv()
	cfg, err := config.LoadInvoicing()
	if err != nil {
		logrus.WithError(err).Fatal("load configuration")
	}

	ctx := context.Background()
	rt, err := app.New(ctx, "invoice-service", cfg.Service)
	if err != nil {
		logrus.WithError(err).Fatal("start invoice-service")
	}
	defer rt.Close()

	renderer, err := invoicing.NewFileRenderer(cfg.ArtifactDir, cfg.BaseURL)
	if err != nil {
		rt.Log.WithError(err).Fatal("build renderer")
	}
	svc := invoicing.NewService(rt.Saga, renderer, invoicing.WithLogger(rt.Logger))

	loop, err := rt.Consumer(consumer.WithFailureClassifier(app.PermanentFailures))
	if err != nil {
		rt.Log.WithError(err).Fatal("build consumer")
	}
	loop.Handle(event.TypeRequestCreated, svc.HandleRequestCreated)

	relay, err := rt.Relay()
	if err != nil {
		rt.Log.WithError(err).Fatal("build relay")
	}

	rt.Log.Info("invoice-service running")
	if err := rt.Run(ctx, loop.Run, relay.Run); err != nil {
		rt.Log.WithError(err).Fatal("invoice-service exited")
	}
}
