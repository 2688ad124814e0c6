// Package config содержит логику чтения конфигурации сервиса сверки.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config содержит параметры конфигурации сервиса сверки.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	SalesFeedAddress string `env:"SALES_FEED_ADDRESS"`
	RedisAddress     string `env:"REDIS_ADDRESS"`
	AuthSecret       string `env:"AUTH_SECRET"`

	SalesFeedCompany     string          `env:"SALES_FEED_COMPANY"`
	SalesImportInterval  time.Duration   `env:"SALES_IMPORT_INTERVAL" envDefault:"1m"`
	CacheTTL             time.Duration   `env:"CACHE_TTL" envDefault:"30s"`
	AtomicReconciliation bool            `env:"ATOMIC_RECONCILIATION" envDefault:"true"`
	MinorDiscrepancyPct  decimal.Decimal `env:"MINOR_DISCREPANCY_PERCENT" envDefault:"5"`
}

// Parse считывает конфигурацию из файла .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env необязателен.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envSalesFeedAddress := cfg.SalesFeedAddress
	envRedisAddress := cfg.RedisAddress
	envAuthSecret := cfg.AuthSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.SalesFeedAddress, "r", "", "sales feed address")
	flag.StringVar(&cfg.RedisAddress, "c", "", "redis address for query cache")
	flag.StringVar(&cfg.AuthSecret, "s", "", "session cookie secret")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envSalesFeedAddress != "" {
		cfg.SalesFeedAddress = envSalesFeedAddress
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.MinorDiscrepancyPct.IsNegative() {
		return nil, fmt.Errorf("minor discrepancy percent must not be negative: %s", cfg.MinorDiscrepancyPct)
	}

	return cfg, nil
}
