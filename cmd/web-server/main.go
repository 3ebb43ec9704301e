// The web-server binary runs the intake service: the HTTP API that creates
// fulfillment requests, plus the relay that publishes its outbox.
package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shopflow/shopflow/internal/app"
	"github.com/shopflow/shopflow/internal/config"
	"github.com/shopflow/shopflow/internal/intake"
)

func main() {
	config.LoadEnv()
	cfg, err := config.LoadWeb()
	if err != nil {
		logrus.WithError(err).Fatal("load configuration")
	}

	ctx := context.Background()
	rt, err := app.New(ctx, "web-server", cfg.Service)
	if err != nil {
		logrus.WithError(err).Fatal("start web-server")
	}
	defer rt.Close()

	opts := []intake.Option{intake.WithLogger(rt.Logger)}
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			rt.Log.WithError(err).Fatal("parse redis url")
		}
		cache := intake.NewProductCache(redis.NewClient(redisOpts), cfg.ProductCacheTTL, rt.Logger)
		opts = append(opts, intake.WithCache(cache))
	}

	svc := intake.NewService(rt.Saga, opts...)
	router := intake.NewRouter(svc, rt.Logger)

	relay, err := rt.Relay()
	if err != nil {
		rt.Log.WithError(err).Fatal("build relay")
	}

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	rt.Log.WithField("addr", cfg.HTTPAddr).Info("web-server listening")
	err = rt.Run(ctx,
		relay.Run,
		func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		},
	)
	if err != nil {
		rt.Log.WithError(err).Fatal("web-server exited")
	}
}
