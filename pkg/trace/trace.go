/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package trace wires request identity and optional OTLP span export.
package trace

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/config"
)

// RequestIDHeader carries the per-request identifier in both directions.
const RequestIDHeader = "X-Request-Id"

// ContextKey is the gin context key the trace id is stored under.
const ContextKey = "traceId"

// Init installs the global tracer provider when tracing is enabled and
// returns its shutdown hook. With tracing disabled the hook is a no-op and
// span calls go to the default no-op provider.
func Init(ctx context.Context) (func(context.Context) error, error) {
	if !config.IsTraceEnabled() {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(config.GetTraceEndpoint()),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName("miniflow"))))
	otel.SetTracerProvider(provider)
	klog.InfoS("trace export enabled", "endpoint", config.GetTraceEndpoint())
	return provider.Shutdown, nil
}

// Middleware assigns every request its trace id, echoes it in the response
// header and opens one span around the handler chain. An incoming
// X-Request-Id is honored; otherwise a fresh uuid is generated.
func Middleware() gin.HandlerFunc {
	tracer := otel.Tracer("miniflow/http")
	return func(c *gin.Context) {
		traceID := c.GetHeader(RequestIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(ContextKey, traceID)
		c.Header(RequestIDHeader, traceID)

		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath(),
			oteltrace.WithAttributes(
				attribute.String("http.request_id", traceID),
				attribute.String("http.route", c.FullPath())))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		span.End()
	}
}

// IDOf returns the request's trace id.
func IDOf(c *gin.Context) string {
	return c.GetString(ContextKey)
}
