package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppID           string        `yaml:"app_id"`
	AppVersion      string        `yaml:"app_version"`
	ConfigURL       string        `yaml:"config_url"`
	SubscriptionKey string        `yaml:"subscription_key"`
	DBPath          string        `yaml:"db_path"`
	Addr            string        `yaml:"addr"`
	Workers         int           `yaml:"workers"`
	Backlog         int           `yaml:"backlog"`
	Timeout         time.Duration `yaml:"timeout"`
	FlushCron       string        `yaml:"flush_cron"`
	ConfigCron      string        `yaml:"config_cron"`
	SessionGap      time.Duration `yaml:"session_gap"`
	LogLevel        string        `yaml:"log_level"`
}

func Default() Config {
	return Config{
		AppID:      "crashrelay",
		AppVersion: "0.0.0_0",
		DBPath:     "crashrelay.db",
		Addr:       "127.0.0.1:8089",
		Workers:    2,
		Backlog:    64,
		Timeout:    30 * time.Second,
		FlushCron:  "*/15 * * * *",
		SessionGap: 5 * time.Second,
		LogLevel:   "info",
	}
}

// Load returns the defaults overlaid with the YAML file at path (if any)
// and then with CRASHRELAY_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.AppID = getenv("CRASHRELAY_APP_ID", c.AppID)
	c.AppVersion = getenv("CRASHRELAY_APP_VERSION", c.AppVersion)
	c.ConfigURL = getenv("CRASHRELAY_CONFIG_URL", c.ConfigURL)
	c.SubscriptionKey = getenv("CRASHRELAY_SUBSCRIPTION_KEY", c.SubscriptionKey)
	c.DBPath = getenv("CRASHRELAY_DB", c.DBPath)
	c.Addr = getenv("CRASHRELAY_ADDR", c.Addr)
	c.Workers = getenvInt("CRASHRELAY_WORKERS", c.Workers)
	c.Backlog = getenvInt("CRASHRELAY_BACKLOG", c.Backlog)
	c.Timeout = getenvDuration("CRASHRELAY_TIMEOUT", c.Timeout)
	c.FlushCron = getenv("CRASHRELAY_FLUSH_CRON", c.FlushCron)
	c.ConfigCron = getenv("CRASHRELAY_CONFIG_CRON", c.ConfigCron)
	c.SessionGap = getenvDuration("CRASHRELAY_SESSION_GAP", c.SessionGap)
	c.LogLevel = getenv("CRASHRELAY_LOG_LEVEL", c.LogLevel)
}

// Validate reports every invalid field. validCron checks schedule
// expressions; empty expressions disable the schedule.
func (c Config) Validate(validCron func(string) error) error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.ConfigURL == "" {
		errs = append(errs, errors.New("config_url is required"))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Backlog < 0 {
		errs = append(errs, fmt.Errorf("backlog must not be negative, got %d", c.Backlog))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if validCron != nil {
		for name, expr := range map[string]string{"flush_cron": c.FlushCron, "config_cron": c.ConfigCron} {
			if expr == "" {
				continue
			}
			if err := validCron(expr); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
