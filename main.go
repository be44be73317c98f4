package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"modelmon/internal/config"
	"modelmon/internal/http/handlers"
	"modelmon/internal/notify"
	"modelmon/internal/store"
	"modelmon/internal/stream"
	"modelmon/internal/writer"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connector, err := store.NewTimeSeriesConnector(cfg)
	if err != nil {
		log.Fatalf("failed to open time-series backend: %v", err)
	}
	if err := connector.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure time-series schema: %v", err)
	}

	metadata, err := store.NewMetadataStore(cfg, connector)
	if err != nil {
		log.Fatalf("failed to open metadata store: %v", err)
	}

	notifier := notify.New(notify.LogPusher{})
	w := writer.New(metadata, connector, notifier)

	consumer := stream.NewConsumer(
		redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
		cfg.ResultStream, w)
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("stream consumer stopped: %v", err)
		}
	}()

	r := router.New()
	handler := handlers.RequestLogger(r.Handler)

	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	})
	r.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))

	r.POST("/v1/events", handlers.IngestHandler(w))

	r.POST("/v1/endpoints", handlers.CreateEndpoint(metadata))
	r.GET("/v1/endpoints", handlers.ListEndpoints(metadata))
	r.GET("/v1/endpoints/{id}", handlers.GetEndpoint(metadata))
	r.POST("/v1/endpoints/{id}", handlers.UpdateEndpoint(metadata))
	r.DELETE("/v1/endpoints/{id}", handlers.DeleteEndpoint(metadata))

	r.GET("/v1/endpoints/{id}/values", handlers.EndpointValues(connector))
	r.GET("/v1/endpoints/{id}/invocations", handlers.EndpointInvocations(connector))

	r.DELETE("/v1/project", handlers.DeleteProject(metadata, connector))

	server := &fasthttp.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		log.Printf("shutting down")
		if err := server.Shutdown(); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("modelmon listening on %s (project %s)", cfg.ListenAddr, cfg.Project)
	if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
