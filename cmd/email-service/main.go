// The email-service binary emails the customer for every saga event. It also
// closes the saga: SHIPPING_CREATED moves the request to completed and the
// resulting ORDER_COMPLETED record goes out through its relay.
package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/shopflow/shopflow/consumer"
	"github.com/shopflow/shopflow/internal/app"
	"github.com/shopflow/shopflow/internal/config"
	"github.com/shopflow/shopflow/internal/notification"
)

func main() {
	config.LoadEnv()
	cfg, err := config.LoadNotification()
	if err != nil {
		logrus.WithError(err).Fatal("load configuration")
	}

	ctx := context.Background()
	rt, err := app.New(ctx, "email-service", cfg.Service)
	if err != nil {
		logrus.WithError(err).Fatal("start email-service")
	}
	defer rt.Close()

	mailer := notification.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPFrom)
	svc := notification.NewService(rt.Saga, mailer, notification.WithLogger(rt.Logger))

	loop, err := rt.Consumer(consumer.WithFailureClassifier(app.PermanentFailures))
	if err != nil {
		rt.Log.WithError(err).Fatal("build consumer")
	}
	svc.Register(loop)

	relay, err := rt.Relay()
	if err != nil {
		rt.Log.WithError(err).Fatal("build relay")
	}

	rt.Log.Info("email-service running")
	if err := rt.Run(ctx, loop.Run, relay.Run); err != nil {
		rt.Log.WithError(err).Fatal("email-service exited")
	}
}
