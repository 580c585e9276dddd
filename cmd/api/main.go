package main

import (
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/safepay/escrow-gateway/internal/config"
	"github.com/safepay/escrow-gateway/internal/events"
	"github.com/safepay/escrow-gateway/internal/handlers"
	"github.com/safepay/escrow-gateway/internal/repository"
	"github.com/safepay/escrow-gateway/internal/services"
	xhttp "github.com/safepay/escrow-gateway/pkg/http"
	"github.com/safepay/escrow-gateway/pkg/logger"
	"github.com/safepay/escrow-gateway/pkg/pg"
	"github.com/safepay/escrow-gateway/pkg/redis"
	"github.com/safepay/escrow-gateway/pkg/ref"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	stream, err := events.NewStream(redisAdap, events.StreamConfig{
		Name:              config.Get().EventStreamName,
		ConsumerGroup:     config.Get().EventConsumerGroup,
		ConsumerName:      config.Get().EventConsumerName,
		MaxRetries:        config.Get().EventMaxRetries,
		VisibilityTimeout: config.Get().EventVisibilityTimeout,
		PollInterval:      config.Get().EventPollInterval,
		BatchSize:         config.Get().EventBatchSize,
		MaxLen:            config.Get().EventMaxLen,
		EnableDLQ:         config.Get().EventEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating event stream", "error", err)
		return
	}

	refs := ref.NewGenerator()

	userRepo := repository.NewUserRepository(db)
	transactionRepo := repository.NewTransactionRepository(db, refs)
	escrowRepo := repository.NewEscrowRepository(db, refs)
	historyRepo := repository.NewStatusHistoryRepository(db)

	// services
	escrowService := services.NewEscrowService(userRepo, transactionRepo, escrowRepo, historyRepo, stream)
	healthService := services.NewHealthService()

	// v1 handlers
	escrowHandler := handlers.NewEscrowHandler(escrowService)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterEscrowRoutes(g, escrowHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	// Create new server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
