// Package config loads service configuration from environment variables,
// optionally seeded from a .env file. Precedence: process environment, then
// .env, then defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the full service configuration.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Database DatabaseConfig
	ERP      ERPConfig
	Worker   WorkerConfig
}

// AppConfig holds process-level settings.
type AppConfig struct {
	// Env is "development" or "production"; controls logger output format.
	Env      string
	LogLevel string
}

// Development reports whether the service runs in development mode.
func (a AppConfig) Development() bool {
	return a.Env == "development"
}

// HTTPConfig holds the API server settings.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// ERPConfig holds the ERP connector endpoint settings.
type ERPConfig struct {
	BaseURL  string
	APIKey   string
	Database string
	Timeout  time.Duration
}

// WorkerConfig holds task worker and scheduler settings.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int

	// ScheduleInterval is how often the scheduler starts batch passes for
	// auto-sync instances.
	ScheduleInterval time.Duration

	// SweepInterval is how often stuck pending webhook deliveries are
	// re-enqueued.
	SweepInterval time.Duration

	// StorefrontTimeout bounds individual storefront API calls.
	StorefrontTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.env", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 20*time.Second)

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("erp.timeout", 60*time.Second)

	v.SetDefault("worker.poll_interval", 5*time.Second)
	v.SetDefault("worker.batch_size", 20)
	v.SetDefault("worker.schedule_interval", 15*time.Minute)
	v.SetDefault("worker.sweep_interval", 5*time.Minute)
	v.SetDefault("worker.storefront_timeout", 30*time.Second)

	cfg := &Config{
		App: AppConfig{
			Env:      v.GetString("app.env"),
			LogLevel: v.GetString("log.level"),
		},
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			URL:      v.GetString("database.url"),
			MaxConns: v.GetInt32("database.max_conns"),
			MinConns: v.GetInt32("database.min_conns"),
		},
		ERP: ERPConfig{
			BaseURL:  v.GetString("erp.base_url"),
			APIKey:   v.GetString("erp.api_key"),
			Database: v.GetString("erp.database"),
			Timeout:  v.GetDuration("erp.timeout"),
		},
		Worker: WorkerConfig{
			PollInterval:      v.GetDuration("worker.poll_interval"),
			BatchSize:         v.GetInt("worker.batch_size"),
			ScheduleInterval:  v.GetDuration("worker.schedule_interval"),
			SweepInterval:     v.GetDuration("worker.sweep_interval"),
			StorefrontTimeout: v.GetDuration("worker.storefront_timeout"),
		},
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ERP.BaseURL == "" {
		return nil, fmt.Errorf("ERP_BASE_URL is required")
	}
	return cfg, nil
}
