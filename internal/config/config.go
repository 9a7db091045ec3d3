package config

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

type Config struct {
	Port          string
	LogLevel      string
	MQTTBrokerURL string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string
	RedisAddr     string
	RedisPassword string
	ESP32Timeout  time.Duration
	PollInterval  time.Duration
	Postgres      DBConfig
}

type DBConfig struct {
	User     string
	Password string
	DBName   string
	Host     string
	Port     string
	SSLMode  string
}

func Load() *Config {
	cfg := &Config{
		Port:          getEnv("IOT_SERVER_PORT", "3000"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		MQTTBrokerURL: strings.TrimSpace(os.Getenv("MQTT_BROKER_URL")),
		MQTTClientID:  getEnv("IOT_MQTT_CLIENT_ID", "iot-server"),
		MQTTUsername:  strings.TrimSpace(os.Getenv("MQTT_USERNAME")),
		MQTTPassword:  os.Getenv("MQTT_PASSWORD"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		ESP32Timeout:  parseDuration(getEnv("ESP32_TIMEOUT", "10s"), 10*time.Second),
		PollInterval:  parseDuration(getEnv("ESP32_POLL_INTERVAL", "5s"), 5*time.Second),
		Postgres: DBConfig{
			User:     strings.TrimSpace(os.Getenv("POSTGRES_USER")),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   strings.TrimSpace(os.Getenv("POSTGRES_DB")),
			Host:     strings.TrimSpace(os.Getenv("POSTGRES_HOST")),
			Port:     strings.TrimSpace(os.Getenv("POSTGRES_PORT")),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
	}

	// Detection lag grows past one extra interval otherwise.
	if cfg.PollInterval > cfg.ESP32Timeout {
		cfg.PollInterval = cfg.ESP32Timeout
	}

	slog.Info("iot-server config loaded", "port", cfg.Port, "mqtt", cfg.MQTTBrokerURL, "timeout", cfg.ESP32Timeout, "poll", cfg.PollInterval)
	return cfg
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func parseDuration(val string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
