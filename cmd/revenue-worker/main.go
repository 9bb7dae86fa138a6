package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ParkDeck/config"
	"github.com/BearBump/ParkDeck/internal/broker/kafka"
	"github.com/BearBump/ParkDeck/internal/services/revenue"
	"github.com/BearBump/ParkDeck/internal/storage/pgparking"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	topic := cfg.Kafka.VehicleEventsTopicName
	if topic == "" {
		topic = "vehicle.events"
	}
	consumerGroup := cfg.ParkDeck.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "revenue-worker"
	}
	workerHTTPAddr := cfg.ParkDeck.WorkerHTTPAddr
	if workerHTTPAddr == "" {
		workerHTTPAddr = ":8082"
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)

	var st *pgparking.Storage
	deadline := time.Now().Add(60 * time.Second)
	for {
		st, err = pgparking.New(connString)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			panic(fmt.Sprintf("postgres is not ready: %v", err))
		}
		time.Sleep(1 * time.Second)
	}
	defer st.Close()

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)
	defer func() { _ = consumer.Close() }()

	svc := revenue.New(st)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runRevenueWorker(ctx, revenueWorkerOpts{
		httpAddr:      workerHTTPAddr,
		topic:         topic,
		consumerGroup: consumerGroup,
	}, svc, consumer); err != nil && err != context.Canceled {
		panic(err)
	}
}
