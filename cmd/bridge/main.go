// Package main is the entry point for the transparency bridge.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clarity-bi/transparency-bridge/internal/config"
	"github.com/clarity-bi/transparency-bridge/internal/handler"
	"github.com/clarity-bi/transparency-bridge/internal/manager"
	"github.com/clarity-bi/transparency-bridge/internal/middleware"
	"github.com/clarity-bi/transparency-bridge/internal/relay"
	"github.com/clarity-bi/transparency-bridge/internal/service"
	"github.com/clarity-bi/transparency-bridge/internal/store"
	"github.com/clarity-bi/transparency-bridge/internal/transport"
	"github.com/clarity-bi/transparency-bridge/internal/transport/sse"
	"github.com/clarity-bi/transparency-bridge/internal/transport/ws"
	"github.com/clarity-bi/transparency-bridge/pkg/logger"
	"github.com/clarity-bi/transparency-bridge/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting transparency bridge")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "transparency-bridge", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS when the relay is enabled
	var relayClient *relay.Client
	var streamManager *relay.StreamManager
	if cfg.RelayEnabled {
		relayClient, err = relay.Connect(ctx, relay.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer relayClient.Close()

		streamManager = relay.NewStreamManager(relayClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
	}

	// Build the transport clients
	policy := transport.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		Multiplier:  2.0,
		MaxDelay:    cfg.RetryMaxDelay,
	}
	wsClient := ws.New(cfg.UpstreamWSURL, policy, log)
	sseClient := sse.New(cfg.UpstreamSSEURL, cfg.UpstreamSendURL, policy, log)

	// Connection manager
	mgr := manager.New(manager.Config{
		HealthCheckInterval:  cfg.HealthCheckInterval,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ConnectTimeout:       cfg.ConnectTimeout,
		Token:                cfg.UpstreamToken,
	}, log, wsClient, sseClient)
	defer mgr.Disconnect()

	// State store and ingest pipeline
	st := store.New(cfg.MaxTraces, log)

	var pub service.Publisher
	if streamManager != nil {
		pub = streamManager
	}
	ingestor := service.NewIngestor(mgr, st, pub, log)
	ingestor.Start()
	defer ingestor.Stop()

	preferred := transport.Kind(cfg.PreferredTransport)
	if preferred != transport.KindWebSocket && preferred != transport.KindSSE {
		log.Warn("unknown preferred transport, defaulting to websocket",
			zap.String("value", cfg.PreferredTransport))
		preferred = transport.KindWebSocket
	}
	if err := mgr.Initialize(ctx, preferred, cfg.AutoConnect); err != nil {
		// health monitoring keeps retrying; startup continues degraded
		log.Warn("initial connect failed", zap.Error(err))
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(mgr, relayCheck(relayClient))
	connectionHandler := handler.NewConnectionHandler(mgr, log)
	traceHandler := handler.NewTraceHandler(st, log)
	var replayer handler.Replayer
	if streamManager != nil {
		replayer = streamManager
	}
	streamHandler := handler.NewStreamHandler(ingestor, st, replayer, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/connection", func(r chi.Router) {
			r.With(middleware.RequireScope(middleware.ScopeTracesRead)).
				Get("/", connectionHandler.Status)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireScope(middleware.ScopeConnectionWrite))
				r.Post("/connect", connectionHandler.Connect)
				r.Post("/disconnect", connectionHandler.Disconnect)
				r.Post("/reset", connectionHandler.Reset)
				r.Post("/send", connectionHandler.Send)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope(middleware.ScopeTracesRead))
			r.Route("/traces", func(r chi.Router) {
				r.Get("/", traceHandler.List)
				r.Get("/{id}", traceHandler.Get)
			})
			r.Get("/sessions", traceHandler.Sessions)
			r.Get("/metrics", traceHandler.Metrics)
			r.Get("/stream", streamHandler.Stream)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// relayCheck keeps the typed-nil pitfall out of the health handler: a nil
// *relay.Client must become a nil interface.
func relayCheck(c *relay.Client) handler.RelayChecker {
	if c == nil {
		return nil
	}
	return c
}
