package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Logging  LoggingConfig  `json:"logging"`
	Redis    RedisConfig    `json:"redis"`
	Alerting AlertingConfig `json:"alerting"`
}

type ServerConfig struct {
	BindAddr string `json:"bindAddr"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type LoggingConfig struct {
	Level string `json:"level"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type AlertingConfig struct {
	Ingest     IngestConfig     `json:"ingest"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Automation AutomationConfig `json:"automation"`
	Rules      RulesConfig      `json:"rules"`
}

type IngestConfig struct {
	Workers int `json:"workers"`
}

type DispatchConfig struct {
	RetryInterval  string `json:"retryInterval"`  // e.g. "30s"
	BackoffMinutes []int  `json:"backoffMinutes"` // e.g. [1,5,15,60,120,240]
	MaxRetries     int    `json:"maxRetries"`
	JitterPct      int    `json:"jitterPct"`
	ClaimBatch     int    `json:"claimBatch"`
	HTTPTimeout    string `json:"httpTimeout"`
}

type AutomationConfig struct {
	RunnerBaseURL string `json:"runnerBaseURL"`
	RunnerTimeout string `json:"runnerTimeout"`
}

type RulesConfig struct {
	BootstrapFile string `json:"bootstrapFile"`
}

func Load() (*Config, error) {
	configFile := flag.String("f", "", "Path to configuration file")
	flag.Parse()

	cfg := &Config{
		Server: ServerConfig{
			BindAddr: getEnv("SERVER_BIND_ADDR", "0.0.0.0:8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "vigil"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "debug"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Alerting: AlertingConfig{
			Ingest: IngestConfig{
				Workers: getEnvInt("INGEST_WORKERS", 4),
			},
			Dispatch: DispatchConfig{
				RetryInterval:  getEnv("DISPATCH_RETRY_INTERVAL", "30s"),
				BackoffMinutes: getEnvIntList("DISPATCH_BACKOFF_MINUTES", []int{1, 5, 15, 60, 120, 240}),
				MaxRetries:     getEnvInt("DISPATCH_MAX_RETRIES", 6),
				JitterPct:      getEnvInt("DISPATCH_JITTER_PCT", 20),
				ClaimBatch:     getEnvInt("DISPATCH_CLAIM_BATCH", 50),
				HTTPTimeout:    getEnv("DISPATCH_HTTP_TIMEOUT", "5s"),
			},
			Automation: AutomationConfig{
				RunnerBaseURL: getEnv("PLAYBOOK_RUNNER_URL", "http://localhost:8090"),
				RunnerTimeout: getEnv("PLAYBOOK_RUNNER_TIMEOUT", "5s"),
			},
			Rules: RulesConfig{
				BootstrapFile: getEnv("ALERT_RULES_BOOTSTRAP_FILE", ""),
			},
		},
	}

	if *configFile != "" {
		if err := loadFromFile(cfg, *configFile); err != nil {
			log.Err(err)
			return nil, err
		}
	}

	// fill reasonable defaults when fields omitted in file
	if cfg.Server.BindAddr == "" {
		cfg.Server.BindAddr = "0.0.0.0:8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Alerting.Ingest.Workers < 1 {
		cfg.Alerting.Ingest.Workers = 4
	}
	if cfg.Alerting.Dispatch.RetryInterval == "" {
		cfg.Alerting.Dispatch.RetryInterval = "30s"
	}
	if len(cfg.Alerting.Dispatch.BackoffMinutes) == 0 {
		cfg.Alerting.Dispatch.BackoffMinutes = []int{1, 5, 15, 60, 120, 240}
	}
	if cfg.Alerting.Dispatch.MaxRetries == 0 {
		cfg.Alerting.Dispatch.MaxRetries = 6
	}
	if cfg.Alerting.Dispatch.JitterPct == 0 {
		cfg.Alerting.Dispatch.JitterPct = 20
	}
	if cfg.Alerting.Dispatch.ClaimBatch == 0 {
		cfg.Alerting.Dispatch.ClaimBatch = 50
	}
	if cfg.Alerting.Dispatch.HTTPTimeout == "" {
		cfg.Alerting.Dispatch.HTTPTimeout = "5s"
	}
	if cfg.Alerting.Automation.RunnerTimeout == "" {
		cfg.Alerting.Automation.RunnerTimeout = "5s"
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvIntList(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
