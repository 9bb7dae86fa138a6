package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ParkDeck/config"
	"github.com/BearBump/ParkDeck/internal/api/parkingapi"
	"github.com/BearBump/ParkDeck/internal/broker/kafka"
	"github.com/BearBump/ParkDeck/internal/cache/rediscache"
	"github.com/BearBump/ParkDeck/internal/fare"
	"github.com/BearBump/ParkDeck/internal/services/parking"
	"github.com/BearBump/ParkDeck/internal/services/revenue"
	"github.com/BearBump/ParkDeck/internal/storage/pgparking"
)

type parkAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    parkAPIOpts
	server  *parkingapi.Server
	closeDB func()
}

func mustBootstrapParkAPI() *parkAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	httpAddr := cfg.ParkDeck.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.VehicleEventsTopicName
	if topic == "" {
		topic = "vehicle.events"
	}
	capacity := cfg.ParkDeck.SlotCapacity
	if capacity <= 0 {
		capacity = 50
	}
	cancelWindow := time.Duration(cfg.ParkDeck.CancelWindowSeconds) * time.Second
	if cancelWindow <= 0 {
		cancelWindow = parking.DefaultCancelWindow
	}
	cacheTTL := time.Duration(cfg.ParkDeck.VehicleCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	if err := st.EnsureCapacity(context.Background(), capacity); err != nil {
		panic(fmt.Sprintf("failed to grow slot pool: %v", err))
	}

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	calc := fare.New(cfg.ParkDeck.FareRates, cfg.ParkDeck.FareDefaultCategory)
	parkingSvc := parking.New(st, rc, cacheTTL, calc, producer, topic, cancelWindow)
	revenueSvc := revenue.New(st)

	server := parkingapi.New(parkingSvc, revenueSvc)
	if cfg.ParkDeck.RegisterRateLimitPerMinute > 0 {
		server.Limiter = rediscache.NewRateLimiter(redisAddr)
		server.RegisterLimit = int64(cfg.ParkDeck.RegisterRateLimitPerMinute)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &parkAPIApp{
		ctx:     ctx,
		cancel:  cancel,
		opts:    parkAPIOpts{httpAddr: httpAddr},
		server:  server,
		closeDB: st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgparking.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgparking.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *parkAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *parkAPIApp) Run() error {
	return runParkAPI(a.ctx, a.opts, a.server)
}
