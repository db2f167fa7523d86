// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server wires the gateway components and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/AleutianRelay/services/gateway/breaker"
	"github.com/AleutianAI/AleutianRelay/services/gateway/cache"
	"github.com/AleutianAI/AleutianRelay/services/gateway/config"
	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/gateway/handlers"
	"github.com/AleutianAI/AleutianRelay/services/gateway/observability"
	"github.com/AleutianAI/AleutianRelay/services/gateway/routes"
	"github.com/AleutianAI/AleutianRelay/services/gateway/routing"
	"github.com/AleutianAI/AleutianRelay/services/gateway/stream"
)

// InitTracer configures the global OTLP tracer.
//
// Tracing is skipped entirely when OTEL_EXPORTER_OTLP_ENDPOINT is not
// set; the returned cleanup is then a no-op.
func InitTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		return func(context.Context) {}, nil
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("relay-gateway")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// Run wires every gateway component from cfg and serves until ctx is
// cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.GatewayConfig) error {
	registry := prometheus.NewRegistry()
	metrics := observability.NewGatewayMetrics(registry)

	breakerCfg := cfg.ToBreakerConfig()
	breakerCfg.OnStateChange = func(model datatypes.ModelKey, from, to breaker.State) {
		metrics.RecordBreakerTransition(string(model), from.String(), to.String())
	}
	breakers := breaker.NewRegistry(breakerCfg)

	manager := routing.NewManager(breakers, cfg.ToModelInfos(), cfg.ToRoutingPolicy())

	if cfg.Routing.ExclusionFile != "" {
		watcher, err := routing.NewExclusionWatcher(cfg.Routing.ExclusionFile, manager)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	streamClient := stream.NewClient(cfg.ToStreamConfig(), manager)

	store, err := cfg.OpenCacheStore()
	if err != nil {
		return err
	}
	layer := cache.NewLayer(store, cache.Options{
		TTLByCategory: cfg.ToCacheTTLs(),
		Observer:      metrics,
	})
	defer layer.Close()
	invalidator := cache.NewInvalidator(layer)

	backend := handlers.NewMemorySessionBackend()

	chatHandler := handlers.NewChatHandler(streamClient, manager, metrics)
	statusHandler := handlers.NewStatusHandler(manager, layer)
	sessionHandler := handlers.NewSessionHandler(backend, layer, invalidator)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("relay-gateway"))
	routes.SetupRoutes(router, chatHandler, statusHandler, sessionHandler, registry)

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
