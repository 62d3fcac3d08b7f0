package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/driftlabs/matchpoint/internal/v1/config"
	"github.com/driftlabs/matchpoint/internal/v1/health"
	"github.com/driftlabs/matchpoint/internal/v1/logging"
	"github.com/driftlabs/matchpoint/internal/v1/middleware"
	"github.com/driftlabs/matchpoint/internal/v1/ratelimit"
	"github.com/driftlabs/matchpoint/internal/v1/registry"
	"github.com/driftlabs/matchpoint/internal/v1/store"
	"github.com/driftlabs/matchpoint/internal/v1/topology"
	"github.com/driftlabs/matchpoint/internal/v1/tracing"
	"github.com/driftlabs/matchpoint/internal/v1/transport"
	"github.com/driftlabs/matchpoint/internal/v1/types"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	addrFlag := flag.String("addr", "", "bind address (host:port), overrides BIND_ADDR")
	flag.Parse()

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}
	if *addrFlag != "" {
		cfg.BindAddr = *addrFlag
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	if cfg.DevelopmentMode {
		logging.Info(ctx, "Running in DEVELOPMENT MODE")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Tracing (Optional) ---
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "matchpoint", cfg.OTLPEndpoint)
		if err != nil {
			logging.Error(ctx, "Failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
			logging.Info(ctx, "Tracing initialized", zap.String("collector", cfg.OTLPEndpoint))
		}
	}

	// --- Redis (Optional) ---
	// A shared Redis backs the rate limiter across replicas and feeds the
	// readiness probe. Without it the limiter falls back to local memory.
	var redisService *store.Service
	if cfg.RedisEnabled {
		redisService, err = store.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Error(ctx, "Failed to connect to Redis, running in single-instance mode", zap.Error(err))
			redisService = nil
		}
	} else {
		logging.Info(ctx, "Running in single-instance mode (Redis disabled)")
	}

	limiter, err := ratelimit.New(cfg, redisService.Client())
	if err != nil {
		logging.Fatal(ctx, "Failed to create rate limiter", zap.Error(err))
	}

	// --- Signaling Core ---
	state := registry.NewState()
	topo := topology.New(state)
	hub := transport.NewHub(state, topo, types.AllowAll{}, limiter, cfg.AllowedOriginList())

	// --- Set up Server ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.TracingEnabled {
		router.Use(otelgin.Middleware("matchpoint"))
	}

	corsConfig := cors.DefaultConfig()
	if origins := cfg.AllowedOriginList(); len(origins) > 0 {
		corsConfig.AllowOrigins = origins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(redisService)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Signaling routes: the optional path segment names the room.
	router.GET("/", hub.ServeWs)
	router.GET("/:room", hub.ServeWs)

	srv := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	go func() {
		logging.Info(ctx, "Signaling server starting", zap.String("addr", cfg.BindAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "Failed to run server", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "Error during hub shutdown", zap.Error(err))
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	if redisService != nil {
		if err := redisService.Close(); err != nil {
			logging.Error(shutdownCtx, "Failed to close Redis connection", zap.Error(err))
		}
	}

	logging.Info(ctx, "Server exiting")
}
