package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/queue"
	"fieldsync/internal/infrastructure/storage"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	defaultConfigDir = ".fieldsync"
	defaultAddress   = "127.0.0.1:8765"
)

type Config struct {
	Env      string
	LogLevel string
	DataDir  string
	Store    Store
	Remote   Remote
	Agent    Agent
	Sync     Sync
	Cache    entity.Config
	Mutation mutation.Config
	Photo    photo.Config
}

// Store параметры локального хранилища
type Store struct {
	Driver       storage.Driver
	DatabaseURI  string
	Path         string
	QuotaBytes   int64
	AllowPersist bool
}

// Remote параметры удаленного API
type Remote struct {
	BaseURL string
	Token   string
}

// Agent параметры локального HTTP API агента
type Agent struct {
	Address   string
	TokenHash string
}

// Sync параметры планировщика отправки очередей
type Sync struct {
	Interval      time.Duration
	ProbeInterval time.Duration
}

// MustLoad загружает конфигурацию из .env, переменных окружения и
// необязательного YAML файла. Некорректная конфигурация приводит к панике.
func MustLoad(configFile string) *Config {
	cfg, err := Load(configFile)
	if err != nil {
		panic(fmt.Sprintf("config error: %v", err))
	}
	return cfg
}

// Load делает то же, что MustLoad, но возвращает ошибку.
func Load(configFile string) (*Config, error) {
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = "../.env"
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("failed to load .env: %v", err)
		}
	}

	v := viper.New()
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(filepath.Join(home, defaultConfigDir))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv()
	setDefaults(v, home)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := build(v)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, home string) {
	mutations := mutation.DefaultConfig()
	photos := photo.DefaultConfig()

	v.SetDefault("APP_ENV", EnvLocal)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATA_DIR", filepath.Join(home, defaultConfigDir))
	v.SetDefault("STORE_DRIVER", string(storage.DriverSQLite))
	v.SetDefault("AGENT_ADDRESS", defaultAddress)
	v.SetDefault("SYNC_INTERVAL_SECONDS", 30)
	v.SetDefault("PROBE_INTERVAL_SECONDS", 15)
	v.SetDefault("REPLAY_TIMEOUT_SECONDS", int(mutations.Timeout/time.Second))
	v.SetDefault("REPLAY_WORKERS", mutations.Workers)
	v.SetDefault("MUTATION_MAX_RETRIES", mutations.Policy.MaxRetries)
	v.SetDefault("MUTATION_BACKOFF_BASE_SECONDS", int(mutations.Policy.BackoffBase/time.Second))
	v.SetDefault("MUTATION_BACKOFF_MAX_SECONDS", int(mutations.Policy.BackoffMax/time.Second))
	v.SetDefault("PHOTO_MAX_RETRIES", photos.Policy.MaxRetries)
	v.SetDefault("PHOTO_BACKOFF_BASE_SECONDS", int(photos.Policy.BackoffBase/time.Second))
	v.SetDefault("PHOTO_BACKOFF_MAX_SECONDS", int(photos.Policy.BackoffMax/time.Second))
	v.SetDefault("PHOTO_TIMEOUT_SECONDS", int(photos.Timeout/time.Second))
	v.SetDefault("PHOTO_WORKERS", photos.Workers)
	v.SetDefault("PHOTO_MAX_SIZE_BYTES", photos.MaxSize)
	v.SetDefault("PHOTO_ENDPOINT", photos.Endpoint)
	v.SetDefault("CACHE_RETENTION_HOURS", int(entity.DefaultRetention/time.Hour))
	for t, limit := range entity.DefaultLimits {
		v.SetDefault(limitKey(t), limit)
	}
	v.SetDefault("STORAGE_QUOTA_BYTES", 0)
	v.SetDefault("ALLOW_PERSIST", true)
}

// limitKey имя ключа потолка для типа, например CACHE_LIMIT_WORKORDER.
func limitKey(t entity.Type) string {
	return "CACHE_LIMIT_" + strings.ToUpper(string(t))
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Second
}

func build(v *viper.Viper) *Config {
	dataDir := v.GetString("DATA_DIR")

	cache := entity.Config{
		Retention: time.Duration(v.GetInt("CACHE_RETENTION_HOURS")) * time.Hour,
		Limits:    make(map[entity.Type]int, len(entity.Types)),
	}
	for _, t := range entity.Types {
		cache.Limits[t] = v.GetInt(limitKey(t))
	}

	mutations := mutation.DefaultConfig()
	mutations.Policy = queue.Policy{
		MaxRetries:  v.GetInt("MUTATION_MAX_RETRIES"),
		BackoffBase: seconds(v, "MUTATION_BACKOFF_BASE_SECONDS"),
		BackoffMax:  seconds(v, "MUTATION_BACKOFF_MAX_SECONDS"),
	}
	mutations.Timeout = seconds(v, "REPLAY_TIMEOUT_SECONDS")
	mutations.Workers = v.GetInt("REPLAY_WORKERS")

	photos := photo.DefaultConfig()
	photos.Policy = queue.Policy{
		MaxRetries:  v.GetInt("PHOTO_MAX_RETRIES"),
		BackoffBase: seconds(v, "PHOTO_BACKOFF_BASE_SECONDS"),
		BackoffMax:  seconds(v, "PHOTO_BACKOFF_MAX_SECONDS"),
	}
	photos.Timeout = seconds(v, "PHOTO_TIMEOUT_SECONDS")
	photos.Workers = v.GetInt("PHOTO_WORKERS")
	photos.MaxSize = v.GetInt64("PHOTO_MAX_SIZE_BYTES")
	photos.Endpoint = v.GetString("PHOTO_ENDPOINT")

	return &Config{
		Env:      v.GetString("APP_ENV"),
		LogLevel: v.GetString("LOG_LEVEL"),
		DataDir:  dataDir,
		Store: Store{
			Driver:       storage.Driver(strings.ToLower(v.GetString("STORE_DRIVER"))),
			DatabaseURI:  v.GetString("DATABASE_URI"),
			Path:         filepath.Join(dataDir, "fieldsync.db"),
			QuotaBytes:   v.GetInt64("STORAGE_QUOTA_BYTES"),
			AllowPersist: v.GetBool("ALLOW_PERSIST"),
		},
		Remote: Remote{
			BaseURL: strings.TrimRight(v.GetString("REMOTE_BASE_URL"), "/"),
			Token:   v.GetString("REMOTE_TOKEN"),
		},
		Agent: Agent{
			Address:   v.GetString("AGENT_ADDRESS"),
			TokenHash: v.GetString("AGENT_TOKEN_HASH"),
		},
		Sync: Sync{
			Interval:      seconds(v, "SYNC_INTERVAL_SECONDS"),
			ProbeInterval: seconds(v, "PROBE_INTERVAL_SECONDS"),
		},
		Cache:    cache,
		Mutation: mutations,
		Photo:    photos,
	}
}

func (c *Config) validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("unknown APP_ENV %q", c.Env)
	}

	switch c.Store.Driver {
	case storage.DriverSQLite, storage.DriverMemory:
	case storage.DriverPostgres:
		if c.Store.DatabaseURI == "" {
			return errors.New("DATABASE_URI is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	if c.Agent.Address == "" {
		return errors.New("AGENT_ADDRESS must not be empty")
	}
	if c.Sync.Interval <= 0 || c.Sync.ProbeInterval <= 0 {
		return errors.New("sync and probe intervals must be positive")
	}
	if c.Mutation.Policy.MaxRetries < 1 || c.Photo.Policy.MaxRetries < 1 {
		return errors.New("max retries must be at least 1")
	}
	if c.Mutation.Workers < 1 || c.Photo.Workers < 1 {
		return errors.New("worker counts must be at least 1")
	}
	if c.Mutation.Timeout <= 0 || c.Photo.Timeout <= 0 {
		return errors.New("replay timeouts must be positive")
	}
	if c.Cache.Retention <= 0 {
		return errors.New("CACHE_RETENTION_HOURS must be positive")
	}
	for t, limit := range c.Cache.Limits {
		if limit < 0 {
			return fmt.Errorf("%s must not be negative", limitKey(t))
		}
	}
	return nil
}

// RemoteConfigured сообщает, задан ли адрес удаленного API.
func (c *Config) RemoteConfigured() bool {
	return c.Remote.BaseURL != ""
}

func (c *Config) IsProd() bool {
	return c.Env == EnvProd
}
