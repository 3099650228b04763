package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/api"
	"prism-board/config"
	"prism-board/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	store, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable, cfg.SettingsTable, cfg.EventsQueue, cfg.EventPublishConcurrency)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	cache := storage.NewCache(store, rc, cfg.CacheTTL)

	var auth *api.Auth
	if cfg.AuthTestMode {
		auth = api.NewTestAuth([]byte(cfg.TestJWTSecret), cfg.Auth0Audience, cfg.Issuer())
	} else {
		jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(jwks, cfg.Auth0Audience, cfg.Issuer(), cfg.JWKSCacheTTL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker := api.NewUpdateBroker()
	go api.SubscribeUpdates(ctx, logger, rc, cfg.UpdatesChannel, broker)

	dispatcher := api.NewEventDispatcher(cache, api.NewRedisNotifier(rc, cfg.UpdatesChannel), api.DispatcherConfig{
		Workers:        cfg.EventWorkers,
		Buffer:         cfg.EventBuffer,
		Timeout:        cfg.EventTimeout,
		HandoffTimeout: cfg.EventHandoffTimeout,
	}, logger)

	handlers := api.NewHandlers(cache, auth, logger, api.Options{
		Deduper:        api.NewRedisDeduper(rc, cfg.DeduperTTL),
		Events:         dispatcher,
		Broker:         broker,
		MoveMaxRetries: cfg.MoveMaxRetries,
	})

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.JSONSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding, "Idempotency-Key"},
	}))
	e.Use(api.DecompressRequests(api.MaxRequestBodySize))
	api.Register(e, handlers)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	dispatcher.Close()
}
