// Package config содержит логику чтения конфигурации сервиса магазина.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса магазина.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookie signing")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
