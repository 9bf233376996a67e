package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	WarehouseURL    string        `mapstructure:"WAREHOUSE_URL" validate:"required"`
	WarehouseSchema string        `mapstructure:"WAREHOUSE_SCHEMA" validate:"required"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL" validate:"required"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS" validate:"gte=1"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS" validate:"gte=0,ltefield=DBMaxConns"`
	OutputRoot      string        `mapstructure:"OUTPUT_ROOT" validate:"required"`
	ReportFile      string        `mapstructure:"REPORT_FILE" validate:"required"`
	LookbackDays    int           `mapstructure:"LOOKBACK_DAYS" validate:"gte=1"`
	ChunkSize       int           `mapstructure:"CHUNK_SIZE" validate:"gte=1,lte=5000"`
	MaxRetries      int           `mapstructure:"MAX_RETRIES" validate:"gte=0,lte=3"`
	RetryBackoff    time.Duration `mapstructure:"RETRY_BACKOFF"`
	LogLevel        string        `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"LOG_FORMAT" validate:"oneof=console json"`
	MetricsFile     string        `mapstructure:"METRICS_FILE"`
}

var keys = []string{
	"WAREHOUSE_URL", "WAREHOUSE_SCHEMA", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"OUTPUT_ROOT", "REPORT_FILE", "LOOKBACK_DAYS", "CHUNK_SIZE", "MAX_RETRIES",
	"RETRY_BACKOFF", "LOG_LEVEL", "LOG_FORMAT", "METRICS_FILE",
}

// Load reads settings from the environment, after merging a .env file from
// the working directory when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("WAREHOUSE_SCHEMA", "pm")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("OUTPUT_ROOT", "output_all_practices")
	v.SetDefault("REPORT_FILE", "execution_report.md")
	v.SetDefault("LOOKBACK_DAYS", 365)
	v.SetDefault("CHUNK_SIZE", 1000)
	v.SetDefault("MAX_RETRIES", 1)
	v.SetDefault("RETRY_BACKOFF", "2s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate reports every invalid setting by its environment name.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", envName(fe.StructField()), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Lookback is the start of the default extraction window.
func (c *Config) Lookback(now time.Time) time.Time {
	return now.AddDate(0, 0, -c.LookbackDays)
}

func envName(field string) string {
	switch field {
	case "WarehouseURL":
		return "WAREHOUSE_URL"
	case "WarehouseSchema":
		return "WAREHOUSE_SCHEMA"
	case "DatabaseURL":
		return "DATABASE_URL"
	case "DBMaxConns":
		return "DB_MAX_CONNS"
	case "DBMinConns":
		return "DB_MIN_CONNS"
	case "OutputRoot":
		return "OUTPUT_ROOT"
	case "ReportFile":
		return "REPORT_FILE"
	case "LookbackDays":
		return "LOOKBACK_DAYS"
	case "ChunkSize":
		return "CHUNK_SIZE"
	case "MaxRetries":
		return "MAX_RETRIES"
	case "LogLevel":
		return "LOG_LEVEL"
	case "LogFormat":
		return "LOG_FORMAT"
	}
	return field
}
