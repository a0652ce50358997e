package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	"portscan/config"
	_ "portscan/docs"
	"portscan/logging"
	"portscan/scanner"
)

const shutdownTimeout = 10 * time.Second

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	Logger *slog.Logger
	// APIKey enables bearer authentication on scan endpoints when set.
	APIKey string
	// Redis enables rate limiting when set.
	Redis      *redis.Client
	RateLimit  int64
	RateWindow time.Duration
}

// NewRouter builds the gin engine: global middleware, public health and
// documentation routes, and the scan routes behind auth and rate limiting.
func NewRouter(server *Server, opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Logger()
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoMethod(methodNotAllowed)
	router.NoRoute(notFound)
	router.Use(gin.Recovery(), RequestLoggingMiddleware(logger), SecurityHeadersMiddleware())

	router.GET("/healthz", server.healthHandler)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	scans := router.Group("/")
	if opts.APIKey != "" {
		scans.Use(AuthMiddleware(opts.APIKey, logger))
	}
	if opts.Redis != nil && opts.RateLimit > 0 {
		scans.Use(RateLimitMiddleware(opts.Redis, opts.RateLimit, opts.RateWindow, logger))
	}
	server.RegisterRoutes(scans)

	return router
}

// Run initializes dependencies and serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config) error {
	logger := logging.Configure(cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	sc, err := scanner.New(
		scanner.WithTimeout(cfg.Scan.PortTimeout.Duration),
		scanner.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to start scanner: %w", err)
	}

	var (
		store       TaskStore
		redisClient *redis.Client
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		store = NewRedisStore(redisClient, cfg.Tasks.TTL.Duration)
	} else {
		logger.Info("no redis configured, keeping tasks in memory")
		store = NewMemoryStore(cfg.Tasks.TTL.Duration)
	}

	server := NewServer(store, sc, cfg.Scan.MaxPorts, logger)
	router := NewRouter(server, RouterOptions{
		Logger:     logger,
		APIKey:     cfg.APIKey,
		Redis:      redisClient,
		RateLimit:  cfg.RateLimit.Requests,
		RateWindow: cfg.RateLimit.Window.Duration,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sc.Run(gctx)
	})
	StartWorkers(gctx, g, store, sc, cfg.Tasks.Workers, logger)
	g.Go(func() error {
		logger.Info("starting portscan API server", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down API server")
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
