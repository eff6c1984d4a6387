package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ops-realtime/internal/auth"
	"ops-realtime/internal/config"
	"ops-realtime/internal/metrics"
	"ops-realtime/internal/notifications"
	"ops-realtime/internal/redis"
	"ops-realtime/internal/webhook"
	"ops-realtime/internal/ws"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(cfg.NewLogger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("[SERVER] Exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	verifier, err := auth.NewVerifier(ctx, cfg)
	if err != nil {
		return err
	}
	if jwks, ok := verifier.(*auth.JWKSVerifier); ok {
		go jwks.RefreshEvery(ctx, time.Hour)
	}

	// Create hub
	hub := ws.NewHub(cfg.WSMessageRate, cfg.WSMessageBurst)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	var publisher notifications.Publisher = hub
	var store notifications.Store = notifications.NewMemoryStore()

	if cfg.BusBackend == config.BackendRedis || cfg.StoreBackend == config.BackendRedis {
		redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		if cfg.BusBackend == config.BackendRedis {
			publisher = redisClient
			go func() {
				if err := redis.SubscribeToEvents(ctx, redisClient, hub); err != nil {
					slog.Error("[SERVER] Redis subscription ended", "error", err)
				}
			}()
		}
		if cfg.StoreBackend == config.BackendRedis {
			store = notifications.NewRedisStore(redisClient.Redis())
		}
	}
	slog.Info("[SERVER] Backends selected", "bus", cfg.BusBackend, "store", cfg.StoreBackend, "auth", cfg.AuthMode)

	hooks := webhook.NewManager(&http.Client{}, cfg.WebhookTimeout)
	service := notifications.NewService(store, publisher, hooks)

	// Identities on the socket come from the query in static mode.
	var wsVerifier auth.Verifier
	if cfg.AuthMode == config.AuthOIDC {
		wsVerifier = verifier
	}

	router := newRouter(hub, wsVerifier, verifier, service, hooks)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[SERVER] Listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("[SERVER] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Closing the hub sends close frames to hijacked websocket connections,
	// which Shutdown does not track.
	stopHub()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(hub *ws.Hub, wsVerifier, apiVerifier auth.Verifier, service *notifications.Service, hooks *webhook.Manager) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), metrics.GinMiddleware())

	router.GET("/ws", func(c *gin.Context) {
		ws.ServeWS(hub, wsVerifier, c.Writer, c.Request)
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.ConnectionCount()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.Use(auth.Middleware(apiVerifier))
	notifications.Routes(api, notifications.NewHandler(service))
	webhook.Routes(api, webhook.NewHandler(hooks))

	return router
}
