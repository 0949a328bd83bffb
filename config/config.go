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
	Auth     AuthConfig     `yaml:"auth"`
	TrackHub TrackHubConfig `yaml:"trackhub"`
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
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	DeliveryEventsTopicName  string `yaml:"delivery_events_topic_name"`
	LocationUpdatedTopicName string `yaml:"location_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type AuthConfig struct {
	// Общий секрет с auth-сервисом, который выпускает токены.
	JWTSecret string `yaml:"jwt_secret"`
}

type TrackHubConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// Grace period for a connection to present a token before it is dropped.
	AuthGraceSeconds int `yaml:"auth_grace_seconds"`

	DriverReportsPerMinute int `yaml:"driver_reports_per_minute"`

	// TTL кэша "последняя точка по доставке" в Redis.
	DeliveryLocationTTLSeconds int `yaml:"delivery_location_ttl_seconds"`

	// Session janitor: sessions without a report for this long get completed.
	SessionStaleMinutes    int `yaml:"session_stale_minutes"`
	JanitorIntervalSeconds int `yaml:"janitor_interval_seconds"`
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
