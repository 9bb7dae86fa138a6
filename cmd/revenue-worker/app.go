package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/ParkDeck/internal/services/revenue"
	"github.com/go-chi/chi/v5"
)

type revenueWorkerOpts struct {
	httpAddr      string
	topic         string
	consumerGroup string

	onListen func(httpAddr string)
}

type eventConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runRevenueWorker(ctx context.Context, opts revenueWorkerOpts, svc *revenue.Service, consumer eventConsumer) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{Handler: r}
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- srv.Serve(lis)
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	consumeErr := make(chan error, 1)
	go func() {
		slog.Info("revenue worker consuming", "topic", opts.topic, "group", opts.consumerGroup)
		consumeErr <- consumer.Consume(ctx, func(_key, value []byte) error {
			return svc.ApplyEvent(ctx, value)
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-consumeErr:
		return err
	case err := <-httpErr:
		return err
	}
}
