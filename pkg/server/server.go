/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/auth"
	"github.com/miniflowhq/miniflow/pkg/config"
	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/handlers"
	"github.com/miniflowhq/miniflow/pkg/ratelimit"
	"github.com/miniflowhq/miniflow/pkg/trace"
	"github.com/miniflowhq/miniflow/pkg/types"
)

const shutdownGrace = 10 * time.Second

// PlanStore resolves the plan thresholds an API key is accounted against.
type PlanStore interface {
	GetWorkspacePlan(ctx context.Context, workspaceID string) (types.PlanLimits, error)
}

// Server owns the gin engine and the listener.
type Server struct {
	engine  *gin.Engine
	authn   *auth.Authenticator
	limiter ratelimit.Limiter
	plans   PlanStore
}

// New assembles the engine: request log, recovery, tracing, then the route
// groups behind authentication.
func New(h *handlers.Handlers, authn *auth.Authenticator, limiter ratelimit.Limiter, plans PlanStore) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:  gin.New(),
		authn:   authn,
		limiter: limiter,
		plans:   plans,
	}

	s.engine.MaxMultipartMemory = config.GetMaxUploadBytes()
	s.engine.Use(requestLogger(), gin.Recovery(), trace.Middleware())
	s.engine.NoRoute(func(c *gin.Context) {
		handlers.AbortWithApiError(c, apierrors.NewNotFoundWithMessage("no such route"))
	})

	s.engine.GET("/healthz", func(c *gin.Context) {
		handlers.OK(c, gin.H{"status": "ok"})
	})
	if config.IsDocsExposed() {
		s.engine.GET("/docs", s.listRoutes)
	}

	authed := s.engine.Group("/", s.authenticate(), s.rateLimit())
	authed.POST("/webhooks/:triggerId", h.Webhook)
	authed.POST("/internal/v1/results", h.IngestResult)

	ws := authed.Group("/api/v1/workspaces/:workspaceId", s.authorizeWorkspace())
	ws.GET("/executions", h.ListExecutions)
	ws.GET("/executions/:executionId", h.GetExecution)
	ws.POST("/executions/:executionId/cancel", h.CancelExecution)
	ws.POST("/workflows/:workflowId/activate", h.ActivateWorkflow)
	ws.POST("/workflows/:workflowId/deactivate", h.DeactivateWorkflow)
	ws.POST("/workflows/:workflowId/archive", h.ArchiveWorkflow)
	ws.POST("/workflows/:workflowId/draft", h.DraftWorkflow)
	ws.POST("/workflows/:workflowId/triggers/:triggerId/run", h.Run)
	ws.POST("/triggers/:triggerId/enable", h.EnableTrigger)
	ws.POST("/triggers/:triggerId/disable", h.DisableTrigger)
	ws.GET("/features/:feature", h.Feature)

	return s
}

// listRoutes answers the mounted route table. Only exposed on local and dev
// profiles.
func (s *Server) listRoutes(c *gin.Context) {
	routes := make([]gin.H, 0, len(s.engine.Routes()))
	for _, route := range s.engine.Routes() {
		routes = append(routes, gin.H{"method": route.Method, "path": route.Path})
	}
	handlers.OK(c, gin.H{"routes": routes})
}

// Engine exposes the router, used by handler tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    config.GetServerBind(),
		Handler: s.engine,
	}

	errc := make(chan error, 1)
	go func() {
		klog.InfoS("http server listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	klog.InfoS("http server stopped")
	return nil
}

// authenticate resolves the caller. An API key in X-API-KEY takes precedence
// over a bearer token; requests with neither are rejected.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			identity *auth.Identity
			err      error
		)
		ip := c.ClientIP()
		if key := c.GetHeader("X-API-KEY"); key != "" {
			identity, err = s.authn.AuthenticateAPIKey(c.Request.Context(), key, ip)
		} else if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			identity, err = s.authn.AuthenticateBearer(c.Request.Context(), strings.TrimPrefix(header, "Bearer "), ip)
		} else {
			err = apierrors.NewInvalidCredentials("no credentials presented")
		}
		if err != nil {
			handlers.AbortWithApiError(c, err)
			return
		}
		identity.TraceID = trace.IDOf(c)
		c.Set(handlers.IdentityKey, identity)
		c.Next()
	}
}

// rateLimit accounts the request against its subject. API-key subjects take
// their thresholds from the workspace plan, everyone else the profile
// fallback.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := handlers.IdentityFrom(c)
		subject := ratelimit.SubjectFor(identity.APIKeyID, identity.UserID, c.ClientIP())
		limits := ratelimit.FallbackLimits()
		if identity.APIKeyID != "" {
			plan, err := s.plans.GetWorkspacePlan(c.Request.Context(), identity.WorkspaceID)
			if err != nil {
				handlers.AbortWithApiError(c, err)
				return
			}
			limits = ratelimit.Limits{
				PerMinute: plan.APIRateLimitPerMinute,
				PerHour:   plan.APIRateLimitPerHour,
				PerDay:    plan.APIRateLimitPerDay,
			}
		}
		if err := s.limiter.Allow(c.Request.Context(), subject, limits); err != nil {
			handlers.AbortWithApiError(c, err)
			return
		}
		c.Next()
	}
}

// authorizeWorkspace gates the workspace route group on membership or key
// scope.
func (s *Server) authorizeWorkspace() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := handlers.IdentityFrom(c)
		if err := s.authn.AuthorizeWorkspace(c.Request.Context(), identity, c.Param("workspaceId")); err != nil {
			handlers.AbortWithApiError(c, err)
			return
		}
		c.Next()
	}
}

// requestLogger emits one structured line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		klog.InfoS("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"traceId", trace.IDOf(c),
			"clientIp", c.ClientIP())
	}
}
