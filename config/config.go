package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	ParkDeck ParkDeckConfig `yaml:"parkdeck"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	VehicleEventsTopicName string `yaml:"vehicle_events_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ParkDeckConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// SlotCapacity is the pool size the slot pool is grown to on every start.
	// Growth is append-only; lowering it never removes existing slots.
	SlotCapacity int `yaml:"slot_capacity"`

	CancelWindowSeconds    int `yaml:"cancel_window_seconds"`
	VehicleCacheTTLSeconds int `yaml:"vehicle_cache_ttl_seconds"`

	RegisterRateLimitPerMinute int `yaml:"register_rate_limit_per_minute"`

	// Per-minute fare rates by vehicle category. Unknown categories are billed
	// at the rate of FareDefaultCategory.
	FareRates           map[string]float64 `yaml:"fare_rates"`
	FareDefaultCategory string             `yaml:"fare_default_category"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
