package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "chargehub/libs/config"
)

// Config defines the charger session hub configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"HUB_HTTP_PORT"`
	} `yaml:"http"`
	Database struct {
		DSN string `yaml:"dsn" env:"HUB_POSTGRES_DSN"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"HUB_REDIS_ADDR"`
		Password string `yaml:"password" env:"HUB_REDIS_PASSWORD"`
	} `yaml:"redis"`
	Services struct {
		BillingURL string `yaml:"billingUrl" env:"BILLING_SERVICE_URL"`
		NotifyURL  string `yaml:"notifyUrl" env:"NOTIFY_SERVICE_URL"`
	} `yaml:"services"`
	Registry struct {
		HeartbeatWindowSeconds int `yaml:"heartbeatWindowSeconds" env:"HUB_HEARTBEAT_WINDOW"`
		SweepIntervalSeconds   int `yaml:"sweepIntervalSeconds" env:"HUB_SWEEP_INTERVAL"`
	} `yaml:"registry"`
	Billing struct {
		MinBalanceMinor  int64 `yaml:"minBalanceMinor" env:"HUB_MIN_BALANCE"`
		PriceMinorPerKWh int64 `yaml:"priceMinorPerKwh" env:"HUB_PRICE_PER_KWH"`
	} `yaml:"billing"`
	Settlement struct {
		RetryBaseSeconds int `yaml:"retryBaseSeconds" env:"HUB_SETTLE_RETRY_BASE"`
		RetryCapSeconds  int `yaml:"retryCapSeconds" env:"HUB_SETTLE_RETRY_CAP"`
		MaxAttempts      int `yaml:"maxAttempts" env:"HUB_SETTLE_MAX_ATTEMPTS"`
	} `yaml:"settlement"`
	WebSocket struct {
		PingIntervalSeconds int `yaml:"pingIntervalSeconds" env:"HUB_PING_INTERVAL"`
		WriteTimeoutSeconds int `yaml:"writeTimeoutSeconds" env:"HUB_WRITE_TIMEOUT"`
	} `yaml:"websocket"`
	Dashboard struct {
		JWTSecret        string `yaml:"jwtSecret" env:"HUB_DASHBOARD_JWT_SECRET"`
		SubscriberBuffer int    `yaml:"subscriberBuffer" env:"HUB_SUBSCRIBER_BUFFER"`
	} `yaml:"dashboard"`
}

// Load uses the shared config loader and validates required fields.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.Registry.HeartbeatWindowSeconds = 90
	cfg.Registry.SweepIntervalSeconds = 15
	cfg.Billing.MinBalanceMinor = 5000
	cfg.Billing.PriceMinorPerKWh = 1000
	cfg.Settlement.RetryBaseSeconds = 1
	cfg.Settlement.RetryCapSeconds = 30
	cfg.Settlement.MaxAttempts = 5
	cfg.WebSocket.PingIntervalSeconds = 30
	cfg.WebSocket.WriteTimeoutSeconds = 15
	cfg.Dashboard.SubscriberBuffer = 64

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Services.BillingURL) == "" {
		return nil, errors.New("config: billing service URL is required")
	}

	return cfg, nil
}

// HTTPAddress returns :port style address.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// HeartbeatWindow returns the liveness window.
func (c *Config) HeartbeatWindow() time.Duration {
	return seconds(c.Registry.HeartbeatWindowSeconds, 90*time.Second)
}

// SweepInterval returns the liveness sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	return seconds(c.Registry.SweepIntervalSeconds, 15*time.Second)
}

// PingInterval returns websocket ping interval.
func (c *Config) PingInterval() time.Duration {
	return seconds(c.WebSocket.PingIntervalSeconds, 30*time.Second)
}

// WriteTimeout returns websocket write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return seconds(c.WebSocket.WriteTimeoutSeconds, 15*time.Second)
}

// SettlementRetryBase returns the first retry delay.
func (c *Config) SettlementRetryBase() time.Duration {
	return seconds(c.Settlement.RetryBaseSeconds, time.Second)
}

// SettlementRetryCap returns the retry delay ceiling.
func (c *Config) SettlementRetryCap() time.Duration {
	return seconds(c.Settlement.RetryCapSeconds, 30*time.Second)
}

func seconds(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value) * time.Second
}
