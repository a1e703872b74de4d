// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	DataDir   string `yaml:"data_dir"` // Base directory for databases and backup staging, always absolute
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
	DevMode   bool   `yaml:"dev_mode"`
	DBDriver  string `yaml:"db_driver"` // "sqlite" (modernc) or "sqlite3" (mattn, cgo)

	Cycle       CycleConfig       `yaml:"cycle"`
	Prices      PriceConfig       `yaml:"prices"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Backup      BackupConfig      `yaml:"backup"`
}

// CycleConfig controls the vault cycle tick and swap execution
type CycleConfig struct {
	TickSpec           string        `yaml:"tick_spec"`
	Workers            int           `yaml:"workers"`
	LeaseTTL           time.Duration `yaml:"lease_ttl"`
	InstructionTimeout time.Duration `yaml:"instruction_timeout"`
	MaxPriceImpactBp   int64         `yaml:"max_price_impact_bp"` // 0 disables the check
	SwapFeeBp          int64         `yaml:"swap_fee_bp"`
	RefuseEstimated    bool          `yaml:"refuse_estimated"`
}

// PriceConfig controls price freshness and history retention
type PriceConfig struct {
	MaxAge    time.Duration `yaml:"max_age"` // 0 accepts any age
	Retention time.Duration `yaml:"retention"`
}

// MaintenanceConfig schedules housekeeping jobs
type MaintenanceConfig struct {
	Schedule       string  `yaml:"schedule"`
	MinFreePercent float64 `yaml:"min_free_percent"`
}

// BackupConfig configures database backups to S3-compatible storage
type BackupConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Schedule        string `yaml:"schedule"`
	RetentionDays   int    `yaml:"retention_days"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		DataDir:  "./data",
		Port:     8080,
		LogLevel: "info",
		DBDriver: "sqlite",
		Cycle: CycleConfig{
			TickSpec:           "@every 1m",
			Workers:            4,
			LeaseTTL:           5 * time.Minute,
			InstructionTimeout: 30 * time.Second,
			MaxPriceImpactBp:   100,
			SwapFeeBp:          25,
		},
		Prices: PriceConfig{
			MaxAge:    15 * time.Minute,
			Retention: 7 * 24 * time.Hour,
		},
		Maintenance: MaintenanceConfig{
			Schedule:       "0 0 3 * * *",
			MinFreePercent: 10,
		},
		Backup: BackupConfig{
			Schedule:      "0 30 3 * * *",
			RetentionDays: 30,
			Region:        "auto",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// VAULTPILOT_CONFIG (if set), then environment variables. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("VAULTPILOT_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg.DataDir = absDataDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("VAULTPILOT_DATA_DIR", c.DataDir)
	c.Port = getEnvAsInt("VAULTPILOT_PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogPretty = getEnvAsBool("LOG_PRETTY", c.LogPretty)
	c.DevMode = getEnvAsBool("DEV_MODE", c.DevMode)
	c.DBDriver = getEnv("DB_DRIVER", c.DBDriver)

	c.Cycle.TickSpec = getEnv("VAULTPILOT_TICK", c.Cycle.TickSpec)
	c.Cycle.Workers = getEnvAsInt("VAULTPILOT_WORKERS", c.Cycle.Workers)
	c.Cycle.LeaseTTL = getEnvAsDuration("VAULTPILOT_LEASE_TTL", c.Cycle.LeaseTTL)
	c.Cycle.InstructionTimeout = getEnvAsDuration("VAULTPILOT_INSTRUCTION_TIMEOUT", c.Cycle.InstructionTimeout)
	c.Cycle.MaxPriceImpactBp = int64(getEnvAsInt("VAULTPILOT_MAX_PRICE_IMPACT_BP", int(c.Cycle.MaxPriceImpactBp)))
	c.Cycle.SwapFeeBp = int64(getEnvAsInt("VAULTPILOT_SWAP_FEE_BP", int(c.Cycle.SwapFeeBp)))
	c.Cycle.RefuseEstimated = getEnvAsBool("VAULTPILOT_REFUSE_ESTIMATED", c.Cycle.RefuseEstimated)

	c.Prices.MaxAge = getEnvAsDuration("VAULTPILOT_PRICE_MAX_AGE", c.Prices.MaxAge)
	c.Prices.Retention = getEnvAsDuration("VAULTPILOT_PRICE_RETENTION", c.Prices.Retention)

	c.Maintenance.Schedule = getEnv("VAULTPILOT_MAINTENANCE_SCHEDULE", c.Maintenance.Schedule)

	c.Backup.Enabled = getEnvAsBool("BACKUP_ENABLED", c.Backup.Enabled)
	c.Backup.Schedule = getEnv("BACKUP_SCHEDULE", c.Backup.Schedule)
	c.Backup.RetentionDays = getEnvAsInt("BACKUP_RETENTION_DAYS", c.Backup.RetentionDays)
	c.Backup.Bucket = getEnv("BACKUP_S3_BUCKET", c.Backup.Bucket)
	c.Backup.Region = getEnv("BACKUP_S3_REGION", c.Backup.Region)
	c.Backup.Endpoint = getEnv("BACKUP_S3_ENDPOINT", c.Backup.Endpoint)
	c.Backup.Prefix = getEnv("BACKUP_S3_PREFIX", c.Backup.Prefix)
	c.Backup.AccessKeyID = getEnv("BACKUP_S3_ACCESS_KEY_ID", c.Backup.AccessKeyID)
	c.Backup.SecretAccessKey = getEnv("BACKUP_S3_SECRET_ACCESS_KEY", c.Backup.SecretAccessKey)
	c.Backup.UsePathStyle = getEnvAsBool("BACKUP_S3_PATH_STYLE", c.Backup.UsePathStyle)
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var problems []string

	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "sqlite3" {
		problems = append(problems, fmt.Sprintf("unknown db driver %q", c.DBDriver))
	}
	if c.Cycle.Workers < 1 {
		problems = append(problems, "workers must be at least 1")
	}
	if c.Cycle.LeaseTTL <= c.Cycle.InstructionTimeout {
		problems = append(problems, "lease TTL must exceed the instruction timeout")
	}
	if c.Cycle.InstructionTimeout <= 0 {
		problems = append(problems, "instruction timeout must be positive")
	}
	if c.Cycle.SwapFeeBp < 0 || c.Cycle.SwapFeeBp >= 10000 {
		problems = append(problems, "swap fee must be in [0, 10000) bp")
	}
	if c.Cycle.MaxPriceImpactBp < 0 {
		problems = append(problems, "max price impact cannot be negative")
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedules := map[string]string{
		"tick":        c.Cycle.TickSpec,
		"maintenance": c.Maintenance.Schedule,
	}
	if c.Backup.Enabled {
		schedules["backup"] = c.Backup.Schedule
		if c.Backup.Bucket == "" {
			problems = append(problems, "backup bucket is required when backups are enabled")
		}
	}
	for name, spec := range schedules {
		if _, err := parser.Parse(spec); err != nil {
			problems = append(problems, fmt.Sprintf("invalid %s schedule %q: %v", name, spec, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
