// Package config loads the pushbot configuration from a YAML file, the
// environment, a .env file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PUSHBOT"

// Task kinds
const (
	KindWeather   = "weather"
	KindHotSearch = "hotsearch"
	KindSystem    = "system"
)

// LogConfig holds logging settings
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// SchedulerConfig holds trigger loop and worker pool settings
type SchedulerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MisfireGrace  time.Duration `mapstructure:"misfire_grace"`
	Workers       int           `mapstructure:"workers"`
	Timezone      string        `mapstructure:"timezone"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// DingTalkConfig holds the DingTalk robot webhook settings
type DingTalkConfig struct {
	Webhook       string        `mapstructure:"webhook"`
	Secret        string        `mapstructure:"secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	MaxRetries    int           `mapstructure:"max_retries"`
	AtAll         bool          `mapstructure:"at_all"`
}

// WeatherConfig holds the Caiyun weather API settings
type WeatherConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Longitude float64       `mapstructure:"longitude"`
	Latitude  float64       `mapstructure:"latitude"`
	City      string        `mapstructure:"city"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// HotSearchConfig holds hot-search list settings
type HotSearchConfig struct {
	Limit   int           `mapstructure:"limit"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HistoryConfig holds execution history settings
type HistoryConfig struct {
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

// NATSConfig holds event bus settings
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// HTTPConfig holds HTTP API settings
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// AlertConfig holds failure alert settings
type AlertConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
}

// TaskConfig declares one scheduled task
type TaskConfig struct {
	Name    string `mapstructure:"name"`
	Kind    string `mapstructure:"kind"`
	Cron    string `mapstructure:"cron"`
	Enabled *bool  `mapstructure:"enabled"`
	Source  string `mapstructure:"source"`
}

// IsEnabled reports whether the task is enabled. Tasks are enabled unless
// explicitly disabled.
func (t TaskConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// Config holds the complete application configuration
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	DingTalk  DingTalkConfig  `mapstructure:"dingtalk"`
	Weather   WeatherConfig   `mapstructure:"weather"`
	HotSearch HotSearchConfig `mapstructure:"hotsearch"`
	History   HistoryConfig   `mapstructure:"history"`
	NATS      NATSConfig      `mapstructure:"nats"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Tasks     []TaskConfig    `mapstructure:"tasks"`
}

// Location returns the time zone cron expressions are evaluated in
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return loc, nil
}

// Load reads the configuration. An explicit path must exist; without one,
// config.yaml is looked up in the working directory, ./config and
// /etc/pushbot, and a missing file leaves defaults and environment in place.
// Flags named log-level and config are honoured when present in flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pushbot")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if flags != nil {
		if f := flags.Lookup("log-level"); f != nil {
			if err := v.BindPFlag("log.level", f); err != nil {
				return nil, fmt.Errorf("failed to bind flag: %w", err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, nil
}

// bindLegacyEnv binds the variable names used by earlier deployments
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"weather.api_key":   "CAIYUN_API_KEY",
		"weather.longitude": "LONGITUDE",
		"weather.latitude":  "LATITUDE",
		"weather.city":      "CITY_NAME",
		"dingtalk.webhook":  "DINGTALK_WEBHOOK",
		"dingtalk.secret":   "DINGTALK_SECRET",
	}
	for key, name := range legacy {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return fmt.Errorf("failed to bind env %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")

	v.SetDefault("scheduler.poll_interval", 30*time.Second)
	v.SetDefault("scheduler.misfire_grace", 300*time.Second)
	v.SetDefault("scheduler.workers", 10)
	v.SetDefault("scheduler.timezone", "")
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.shutdown_grace", 30*time.Second)

	v.SetDefault("dingtalk.webhook", "")
	v.SetDefault("dingtalk.secret", "")
	v.SetDefault("dingtalk.timeout", 10*time.Second)
	v.SetDefault("dingtalk.rate_per_minute", 20)
	v.SetDefault("dingtalk.max_retries", 2)
	v.SetDefault("dingtalk.at_all", false)

	v.SetDefault("weather.api_key", "")
	v.SetDefault("weather.base_url", "https://api.caiyunapp.com/v2.6")
	v.SetDefault("weather.longitude", 116.4074)
	v.SetDefault("weather.latitude", 39.9042)
	v.SetDefault("weather.city", "北京")
	v.SetDefault("weather.timeout", 10*time.Second)

	v.SetDefault("hotsearch.limit", 15)
	v.SetDefault("hotsearch.timeout", 15*time.Second)

	v.SetDefault("history.path", "pushbot.db")
	v.SetDefault("history.retention", 30*24*time.Hour)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "pushbot")
	v.SetDefault("nats.request_timeout", 5*time.Second)

	v.SetDefault("http.addr", "")

	v.SetDefault("alert.failure_threshold", 0)

	v.SetDefault("tasks", []map[string]any{
		{"name": "weather", "kind": KindWeather, "cron": "0 * * * *", "enabled": true},
		{"name": "hotsearch-weibo", "kind": KindHotSearch, "source": "weibo", "cron": "0 9,12,18 * * *", "enabled": true},
	})
}
