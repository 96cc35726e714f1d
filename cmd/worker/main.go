package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimasrn/courier-dispatch/internal/config"
	gateway "github.com/nimasrn/courier-dispatch/internal/gateways"
	"github.com/nimasrn/courier-dispatch/internal/jobs"
	"github.com/nimasrn/courier-dispatch/internal/processor"
	"github.com/nimasrn/courier-dispatch/pkg/logger"
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
	logger.Info("starting worker", "version", version, "commit", commit, "date", date)

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, cfg.Redis())
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}
	defer redisAdap.Close()

	relays := []gateway.RelayConfig{{Name: "primary", URL: cfg.MailRelayPrimaryUrl, Priority: 1}}
	if cfg.MailRelaySecondaryUrl != "" {
		relays = append(relays, gateway.RelayConfig{Name: "secondary", URL: cfg.MailRelaySecondaryUrl, Priority: 2})
	}
	client, err := gateway.NewMailClient(&gateway.Config{
		Relays:                  relays,
		From:                    cfg.MailFrom,
		Timeout:                 cfg.MailRelayTimeout,
		MaxConns:                512,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   60 * time.Second,
	})
	if err != nil {
		logger.Error("failed to create mail gateway", "error", err)
		return
	}
	defer client.Close()

	loc, err := cfg.NotifyLocation()
	if err != nil {
		logger.Error("failed to load notification timezone", "error", err)
		return
	}

	idempotencyService := processor.NewIdempotencyService(redisAdap, processor.DefaultIdempotencyConfig())
	service := processor.NewProcessorService(redisAdap, idempotencyService, processor.ServiceConfig{
		Queue:     cfg.Queue(),
		Consumers: cfg.WorkerConsumers,
		PoolSize:  cfg.WorkerPoolSize,
	})
	service.RegisterProcessor(processor.NewNotifyDeliverymanMailProcessor(client, processor.NewRenderer(loc)))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)

	if err := service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		service.Stop()
		return
	}

	// every consumer reads the same stream, one is enough for stats
	statsJob := jobs.NewQueueStatsJob(cfg.StatsSchedule, redisAdap, service.Metrics(), service.Queues()[0]).WithRelays(client)
	if err := statsJob.Start(); err != nil {
		logger.Error("failed to start queue stats job", "error", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	statsJob.Stop()
	service.Stop()
}
