package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimasrn/courier-dispatch/internal/config"
	"github.com/nimasrn/courier-dispatch/internal/handlers"
	"github.com/nimasrn/courier-dispatch/internal/policy"
	"github.com/nimasrn/courier-dispatch/internal/queue"
	"github.com/nimasrn/courier-dispatch/internal/repository"
	"github.com/nimasrn/courier-dispatch/internal/services"
	xhttp "github.com/nimasrn/courier-dispatch/pkg/http"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
	"github.com/nimasrn/courier-dispatch/pkg/pg"
	"github.com/nimasrn/courier-dispatch/pkg/prom"
	"github.com/nimasrn/courier-dispatch/pkg/redis"
	"github.com/spf13/pflag"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	envPath := pflag.String("env", "", "path to a .env file")
	pflag.Parse()

	err := config.Load(*envPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting api", "version", version, "commit", commit, "date", date)

	s := xhttp.NewServer(xhttp.ServerOption{
		Name:         cfg.AppName,
		ReadTimeout:  cfg.HttpServerReadTimeout,
		WriteTimeout: cfg.HttpServerWriteTimeout,
	})
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}
	defer db.Close()

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, cfg.Redis())
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}
	defer redisAdap.Close()

	// producer only, consuming happens in cmd/worker
	q, err := queue.NewQueue(context.Background(), redisAdap, cfg.Queue())
	if err != nil {
		logger.Error("failed creating queue", "error", err)
		return
	}

	window, err := policy.ParseBusinessHours(cfg.BusinessHoursStart, cfg.BusinessHoursEnd)
	if err != nil {
		logger.Error("invalid business hours", "error", err)
		return
	}

	requestLoc, err := cfg.RequestLocation()
	if err != nil {
		logger.Error("invalid request timezone", "error", err)
		return
	}

	deliveryRepo := repository.NewDeliveryRepository(db, cfg.AppBaseUrl)
	deliverymanRepo := repository.NewDeliverymanRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)

	// services
	deliveryService := services.NewDeliveryService(
		deliveryRepo,
		recipientRepo,
		deliverymanRepo,
		window,
		policy.NewQuota(deliveryRepo, cfg.DeliveryQuotaLimit),
		services.NewQueueNotifier(q),
	)
	registrationService := services.NewRegistrationService(deliverymanRepo, recipientRepo)

	// v1 handlers
	g := s.Router.Group("/api/v1")
	handlers.RegisterDeliveryRoutes(g, handlers.NewDeliveryHandler(deliveryService, requestLoc))
	handlers.RegisterProblemRoutes(g, handlers.NewProblemHandler(deliveryService))
	handlers.RegisterRegistrationRoutes(g, handlers.NewRegistrationHandler(registrationService))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(map[string]handlers.Pinger{
		"postgres": db,
		"redis":    redisAdap,
	}))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	s.Shutdown()
}
