package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env    string `yaml:"env"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL      string `yaml:"ttl"`
		SeedFile string `yaml:"seed_file"`
	} `yaml:"quiz"`
	Auth struct {
		Secret   string `yaml:"secret"`
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Sync struct {
		Debounce       string `yaml:"debounce"`
		MaxBatchSize   int    `yaml:"max_batch_size"`
		RequestTimeout string `yaml:"request_timeout"`
		RetryInitial   string `yaml:"retry_initial"`
		RetryMax       string `yaml:"retry_max"`
		OfflineRetry   string `yaml:"offline_retry"`
	} `yaml:"sync"`
	Client struct {
		ServerURL string `yaml:"server_url"`
		// Mirror selects the pending-queue store: "sqlite" (default) or "redis".
		Mirror     string `yaml:"mirror"`
		MirrorPath string `yaml:"mirror_path"`
		Autosave   string `yaml:"autosave"`
	} `yaml:"client"`
	Worker struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"worker"`
}

// Load reads YAML config from path and applies environment overrides. A
// missing file yields a config built from the environment alone.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	override(&cfg.Env, "APP_ENV")
	override(&cfg.Server.Port, "PORT")
	override(&cfg.Postgres.URL, "DATABASE_URL")
	override(&cfg.Redis.Addr, "REDIS_ADDR")
	override(&cfg.Redis.Password, "REDIS_PASSWORD")
	override(&cfg.Auth.Secret, "AUTH_SECRET")
	override(&cfg.Client.ServerURL, "SERVER_URL")
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if cfg.Env == "" {
		cfg.Env = "local"
	}
}

func override(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
