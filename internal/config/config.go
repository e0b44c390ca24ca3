package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PROCESSOR"

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	PGDSN            string
	RawTable         string
	Interval         time.Duration
	BatchSize        int
	MaxAttempts      int
	RecordTimeout    time.Duration
	StatementTimeout time.Duration
	FetchRetries     int
	FetchBackoff     time.Duration
	ABIPath          string
	MetricsAddr      string
	LogLevel         string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := newViper()

	v.SetDefault("raw-table", "raw_logs")
	v.SetDefault("interval", 10*time.Second)
	v.SetDefault("batch-size", 100)
	v.SetDefault("max-attempts", 5)
	v.SetDefault("record-timeout", 30*time.Second)
	v.SetDefault("statement-timeout", 15*time.Second)
	v.SetDefault("fetch-retries", 3)
	v.SetDefault("fetch-backoff", 500*time.Millisecond)
	v.SetDefault("metrics-addr", "")
	v.SetDefault("log-level", "info")

	if err := readConfig(v, cfgFile, flags); err != nil {
		return Config{}, err
	}

	cfg := Config{
		PGDSN:            v.GetString("pg-dsn"),
		RawTable:         v.GetString("raw-table"),
		Interval:         v.GetDuration("interval"),
		BatchSize:        v.GetInt("batch-size"),
		MaxAttempts:      v.GetInt("max-attempts"),
		RecordTimeout:    v.GetDuration("record-timeout"),
		StatementTimeout: v.GetDuration("statement-timeout"),
		FetchRetries:     v.GetInt("fetch-retries"),
		FetchBackoff:     v.GetDuration("fetch-backoff"),
		ABIPath:          v.GetString("abi"),
		MetricsAddr:      v.GetString("metrics-addr"),
		LogLevel:         v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings every database-backed command needs.
func (c Config) Validate() error {
	if c.PGDSN == "" {
		return fmt.Errorf("pg-dsn is required")
	}
	if strings.TrimSpace(c.RawTable) == "" {
		return fmt.Errorf("raw-table is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be positive")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max-attempts must not be negative")
	}
	if c.FetchRetries < 0 {
		return fmt.Errorf("fetch-retries must not be negative")
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func readConfig(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) error {
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}
