// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	RPCList             []string      `mapstructure:"rpc_list"`
	Storage             StorageConfig `mapstructure:"storage"`
	RedisURL            string        `mapstructure:"redis_url"`
	WalletsFile         string        `mapstructure:"wallets_file"`
	Alerts              AlertsConfig  `mapstructure:"alerts"`
	PriceAPIURL         string        `mapstructure:"price_api_url"`
	TokenAPIURL         string        `mapstructure:"token_api_url"`
	SwapAPIURL          string        `mapstructure:"swap_api_url"`
	SlippageBps         int           `mapstructure:"slippage_bps"`
	PriorityFeeLamports uint64        `mapstructure:"priority_fee_lamports"`
	Confirm             ConfirmConfig `mapstructure:"confirm"`
	HTTP                HTTPConfig    `mapstructure:"http"`
	Log                 LogConfig     `mapstructure:"log"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"` // postgres | sqlite | memory
	PostgresURL string `mapstructure:"postgres_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

type AlertsConfig struct {
	Backend          string `mapstructure:"backend"` // file | redis
	File             string `mapstructure:"file"`
	IntervalMs       int    `mapstructure:"interval_ms"`
	FetchConcurrency int    `mapstructure:"fetch_concurrency"`
}

// Interval возвращает период проверки алертов.
func (a AlertsConfig) Interval() time.Duration {
	return time.Duration(a.IntervalMs) * time.Millisecond
}

type ConfirmConfig struct {
	InitialIntervalMs int `mapstructure:"initial_interval_ms"`
	MaxIntervalMs     int `mapstructure:"max_interval_ms"`
}

type HTTPConfig struct {
	Listen string `mapstructure:"listen"`
}

type LogConfig struct {
	File        string `mapstructure:"file"`
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxAge      int    `mapstructure:"max_age"`
	MaxBackups  int    `mapstructure:"max_backups"`
	Compress    bool   `mapstructure:"compress"`
	JournalFile string `mapstructure:"journal_file"`
}

const (
	DefaultSlippageBps      = 50
	DefaultAlertsIntervalMs = 60_000
	DefaultFetchConcurrency = 8
	DefaultConfirmInitialMs = 500
	DefaultConfirmMaxMs     = 3_000

	envPrefix = "SOLANA_TRADER"
)

var defaults = map[string]interface{}{
	"storage.driver":              "sqlite",
	"storage.sqlite_path":         "data/trader.db",
	"wallets_file":                "configs/wallets.yaml",
	"alerts.backend":              "file",
	"alerts.file":                 "data/price_alerts.json",
	"alerts.interval_ms":          DefaultAlertsIntervalMs,
	"alerts.fetch_concurrency":    DefaultFetchConcurrency,
	"price_api_url":               "https://api.jup.ag/price/v2",
	"token_api_url":               "https://api.jup.ag/tokens/v1/token",
	"swap_api_url":                "https://api.jup.ag/swap/v1",
	"slippage_bps":                DefaultSlippageBps,
	"confirm.initial_interval_ms": DefaultConfirmInitialMs,
	"confirm.max_interval_ms":     DefaultConfirmMaxMs,
	"http.listen":                 ":8080",
	"log.file":                    "logs/trader.log",
	"log.max_size":                100,
	"log.max_age":                 7,
	"log.max_backups":             3,
	"log.compress":                true,
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Переменные окружения: SOLANA_TRADER_STORAGE_DRIVER и т.п.
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	loadEnvironmentVariables(v, &cfg)

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return fmt.Errorf("invalid RPC URL %q: %w", rpcURL, err)
		}
	}
	for name, raw := range map[string]string{
		"price_api_url": cfg.PriceAPIURL,
		"token_api_url": cfg.TokenAPIURL,
		"swap_api_url":  cfg.SwapAPIURL,
	} {
		if err := validateURLWithCache(raw, "http"); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if err := validateStorage(cfg.Storage); err != nil {
		return err
	}
	if err := validateAlerts(cfg); err != nil {
		return err
	}
	if cfg.WalletsFile == "" {
		return errors.New("wallets_file is required")
	}
	return validateNumericParams(cfg)
}

func validateStorage(s StorageConfig) error {
	switch s.Driver {
	case "postgres":
		if s.PostgresURL == "" {
			return errors.New("storage.postgres_url is required for postgres driver")
		}
	case "sqlite":
		if s.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.driver %q", s.Driver)
	}
	return nil
}

func validateAlerts(cfg *Config) error {
	switch cfg.Alerts.Backend {
	case "file":
		if cfg.Alerts.File == "" {
			return errors.New("alerts.file is required for file backend")
		}
	case "redis":
		if cfg.RedisURL == "" {
			return errors.New("redis_url is required for redis alerts backend")
		}
		if err := validateURLWithCache(cfg.RedisURL, "redis"); err != nil {
			return fmt.Errorf("invalid redis_url: %w", err)
		}
	default:
		return fmt.Errorf("unknown alerts.backend %q", cfg.Alerts.Backend)
	}
	return nil
}

func validateNumericParams(cfg *Config) error {
	if cfg.SlippageBps <= 0 || cfg.SlippageBps > 10_000 {
		return errors.New("invalid slippage_bps")
	}
	if cfg.Alerts.IntervalMs <= 0 {
		return errors.New("invalid alerts.interval_ms")
	}
	if cfg.Alerts.FetchConcurrency <= 0 {
		return errors.New("invalid alerts.fetch_concurrency")
	}
	if cfg.Confirm.InitialIntervalMs <= 0 || cfg.Confirm.MaxIntervalMs < cfg.Confirm.InitialIntervalMs {
		return errors.New("invalid confirm intervals")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

// loadEnvironmentVariables обрабатывает значения, которые viper не умеет
// разобрать сам: список RPC через запятую.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	envRPCList := v.GetString("RPC_LIST")
	if envRPCList == "" {
		return
	}
	var cleanRPCs []string
	for _, rpc := range strings.Split(envRPCList, ",") {
		if clean := strings.TrimSpace(rpc); clean != "" {
			cleanRPCs = append(cleanRPCs, clean)
		}
	}
	if len(cleanRPCs) > 0 {
		cfg.RPCList = cleanRPCs
	}
}
