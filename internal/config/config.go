// Package config loads reel configuration from environment variables and an
// optional config.yaml.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"reel/internal/pkg/errors"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Renderer RendererConfig
	Storage  StorageConfig
	Delivery DeliveryConfig
	SMTP     SMTPConfig
	Sweep    SweepConfig
}

type ServerConfig struct {
	Port           string
	PublicBaseURL  string
	RequestTimeout time.Duration
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type QueueConfig struct {
	Backend        string // postgres | memory
	Name           string
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type WorkerConfig struct {
	Concurrency     int
	PollInterval    time.Duration
	RenderTimeout   time.Duration
	DeliveryTimeout time.Duration
	LeaseGrace      time.Duration
}

// Lease is how long a claimed job stays exclusive to one worker.
func (w WorkerConfig) Lease() time.Duration {
	return w.RenderTimeout + w.DeliveryTimeout + w.LeaseGrace
}

type RendererConfig struct {
	BaseURL    string
	Path       string
	APIKey     string
	RatePerMin int
	Width      int
	Height     int
	Duration   float64
	Steps      int
	CFGScale   float64
	Seed       int64
}

type StorageConfig struct {
	Provider  string // localfs | gdrive | s3
	LocalRoot string
	S3        S3Config
	GDrive    GDriveConfig
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
}

type GDriveConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	FolderID     string
}

type DeliveryConfig struct {
	Mode string // pull | push
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SweepConfig struct {
	AssetTTL     time.Duration
	JobRetention time.Duration
	Interval     time.Duration
}

var bindings = map[string]string{
	"server.port":            "HTTP_PORT",
	"server.public_base_url": "PUBLIC_BASE_URL",
	"server.request_timeout": "REQUEST_TIMEOUT",

	"database.url":       "DATABASE_URL",
	"database.max_conns": "DATABASE_MAX_CONNS",

	"redis.addr":     "REDIS_ADDR",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",

	"queue.backend":          "QUEUE_BACKEND",
	"queue.name":             "QUEUE_NAME",
	"queue.max_attempts":     "JOB_MAX_ATTEMPTS",
	"queue.retry_base_delay": "RETRY_BASE_DELAY",
	"queue.retry_max_delay":  "RETRY_MAX_DELAY",

	"worker.concurrency":      "WORKER_CONCURRENCY",
	"worker.poll_interval":    "WORKER_POLL_INTERVAL",
	"worker.render_timeout":   "RENDER_TIMEOUT",
	"worker.delivery_timeout": "DELIVERY_TIMEOUT",
	"worker.lease_grace":      "LEASE_GRACE",

	"renderer.base_url":     "RENDERER_BASE_URL",
	"renderer.path":         "RENDERER_PATH",
	"renderer.api_key":      "RENDERER_API_KEY",
	"renderer.rate_per_min": "RENDERER_RATE_PER_MIN",
	"renderer.width":        "RENDER_WIDTH",
	"renderer.height":       "RENDER_HEIGHT",
	"renderer.duration":     "RENDER_DURATION",
	"renderer.steps":        "RENDER_STEPS",
	"renderer.cfg_scale":    "RENDER_CFG_SCALE",
	"renderer.seed":         "RENDER_SEED",

	"storage.provider":             "STORAGE_PROVIDER",
	"storage.local_root":           "STORAGE_LOCAL_ROOT",
	"storage.s3.bucket":            "S3_BUCKET",
	"storage.s3.region":            "S3_REGION",
	"storage.s3.endpoint":          "S3_ENDPOINT",
	"storage.s3.access_key_id":     "S3_ACCESS_KEY_ID",
	"storage.s3.secret_access_key": "S3_SECRET_ACCESS_KEY",
	"storage.s3.public_url":        "S3_PUBLIC_URL",
	"storage.gdrive.client_id":     "GDRIVE_CLIENT_ID",
	"storage.gdrive.client_secret": "GDRIVE_CLIENT_SECRET",
	"storage.gdrive.refresh_token": "GDRIVE_REFRESH_TOKEN",
	"storage.gdrive.folder_id":     "GDRIVE_FOLDER_ID",

	"delivery.mode": "DELIVERY_MODE",

	"smtp.host":     "SMTP_HOST",
	"smtp.port":     "SMTP_PORT",
	"smtp.username": "SMTP_USERNAME",
	"smtp.password": "SMTP_PASSWORD",
	"smtp.from":     "SMTP_FROM",

	"sweep.asset_ttl":     "ASSET_TTL",
	"sweep.job_retention": "JOB_RETENTION",
	"sweep.interval":      "SWEEP_INTERVAL",
}

// secrets may be supplied as FOO_FILE pointing at a mounted secret file.
var secrets = []string{
	"DATABASE_URL",
	"REDIS_PASSWORD",
	"RENDERER_API_KEY",
	"S3_ACCESS_KEY_ID",
	"S3_SECRET_ACCESS_KEY",
	"GDRIVE_CLIENT_SECRET",
	"GDRIVE_REFRESH_TOKEN",
	"SMTP_PASSWORD",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.public_base_url", "http://localhost:8080")
	v.SetDefault("server.request_timeout", 15*time.Second)

	v.SetDefault("database.max_conns", 10)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.backend", "postgres")
	v.SetDefault("queue.name", "reel:jobs")
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.retry_base_delay", 5*time.Second)
	v.SetDefault("queue.retry_max_delay", 5*time.Minute)

	v.SetDefault("worker.concurrency", 3)
	v.SetDefault("worker.poll_interval", 5*time.Second)
	v.SetDefault("worker.render_timeout", 10*time.Minute)
	v.SetDefault("worker.delivery_timeout", 2*time.Minute)
	v.SetDefault("worker.lease_grace", time.Minute)

	v.SetDefault("renderer.base_url", "https://api.deepinfra.com")
	v.SetDefault("renderer.path", "/v1/inference/genmo/mochi-1-preview")
	v.SetDefault("renderer.rate_per_min", 0)
	v.SetDefault("renderer.width", 848)
	v.SetDefault("renderer.height", 480)
	v.SetDefault("renderer.duration", 5.1)
	v.SetDefault("renderer.steps", 64)
	v.SetDefault("renderer.cfg_scale", 4.5)
	v.SetDefault("renderer.seed", 12345)

	v.SetDefault("storage.provider", "localfs")
	v.SetDefault("storage.local_root", "./data")
	v.SetDefault("storage.s3.region", "auto")

	v.SetDefault("delivery.mode", "pull")

	v.SetDefault("smtp.port", 587)

	v.SetDefault("sweep.asset_ttl", time.Hour)
	v.SetDefault("sweep.job_retention", 24*time.Hour)
	v.SetDefault("sweep.interval", 5*time.Minute)
}

// Load reads configuration. Environment variables win over config.yaml,
// which wins over defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.Wrap(err, "config.load", "bind "+env)
		}
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.WrapWithCode(err, errors.CodeValidation, "config.load", "read config file")
		}
	}

	for key, env := range bindings {
		if !slices.Contains(secrets, env) {
			continue
		}
		val, err := readSecret(env)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.CodeValidation, "config.load", "read "+env+"_FILE")
		}
		if val != "" {
			v.Set(key, val)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("server.port"),
			PublicBaseURL:  strings.TrimRight(v.GetString("server.public_base_url"), "/"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
		},
		Database: DatabaseConfig{
			URL:      v.GetString("database.url"),
			MaxConns: v.GetInt32("database.max_conns"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Queue: QueueConfig{
			Backend:        strings.ToLower(v.GetString("queue.backend")),
			Name:           v.GetString("queue.name"),
			MaxAttempts:    v.GetInt("queue.max_attempts"),
			RetryBaseDelay: v.GetDuration("queue.retry_base_delay"),
			RetryMaxDelay:  v.GetDuration("queue.retry_max_delay"),
		},
		Worker: WorkerConfig{
			Concurrency:     v.GetInt("worker.concurrency"),
			PollInterval:    v.GetDuration("worker.poll_interval"),
			RenderTimeout:   v.GetDuration("worker.render_timeout"),
			DeliveryTimeout: v.GetDuration("worker.delivery_timeout"),
			LeaseGrace:      v.GetDuration("worker.lease_grace"),
		},
		Renderer: RendererConfig{
			BaseURL:    strings.TrimRight(v.GetString("renderer.base_url"), "/"),
			Path:       v.GetString("renderer.path"),
			APIKey:     v.GetString("renderer.api_key"),
			RatePerMin: v.GetInt("renderer.rate_per_min"),
			Width:      v.GetInt("renderer.width"),
			Height:     v.GetInt("renderer.height"),
			Duration:   v.GetFloat64("renderer.duration"),
			Steps:      v.GetInt("renderer.steps"),
			CFGScale:   v.GetFloat64("renderer.cfg_scale"),
			Seed:       v.GetInt64("renderer.seed"),
		},
		Storage: StorageConfig{
			Provider:  strings.ToLower(v.GetString("storage.provider")),
			LocalRoot: v.GetString("storage.local_root"),
			S3: S3Config{
				Bucket:          v.GetString("storage.s3.bucket"),
				Region:          v.GetString("storage.s3.region"),
				Endpoint:        v.GetString("storage.s3.endpoint"),
				AccessKeyID:     v.GetString("storage.s3.access_key_id"),
				SecretAccessKey: v.GetString("storage.s3.secret_access_key"),
				PublicURL:       strings.TrimRight(v.GetString("storage.s3.public_url"), "/"),
			},
			GDrive: GDriveConfig{
				ClientID:     v.GetString("storage.gdrive.client_id"),
				ClientSecret: v.GetString("storage.gdrive.client_secret"),
				RefreshToken: v.GetString("storage.gdrive.refresh_token"),
				FolderID:     v.GetString("storage.gdrive.folder_id"),
			},
		},
		Delivery: DeliveryConfig{
			Mode: strings.ToLower(v.GetString("delivery.mode")),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("smtp.host"),
			Port:     v.GetInt("smtp.port"),
			Username: v.GetString("smtp.username"),
			Password: v.GetString("smtp.password"),
			From:     v.GetString("smtp.from"),
		},
		Sweep: SweepConfig{
			AssetTTL:     v.GetDuration("sweep.asset_ttl"),
			JobRetention: v.GetDuration("sweep.job_retention"),
			Interval:     v.GetDuration("sweep.interval"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks values every process needs.
func (c *Config) validate() error {
	switch c.Queue.Backend {
	case "postgres":
		if c.Database.URL == "" {
			return errors.ValidationField("DATABASE_URL", "DATABASE_URL is required when QUEUE_BACKEND=postgres")
		}
	case "memory":
	default:
		return errors.ValidationField("QUEUE_BACKEND", fmt.Sprintf("unknown queue backend %q", c.Queue.Backend))
	}

	if c.Queue.MaxAttempts < 1 {
		return errors.ValidationField("JOB_MAX_ATTEMPTS", "JOB_MAX_ATTEMPTS must be at least 1")
	}
	if c.Queue.RetryBaseDelay <= 0 || c.Queue.RetryMaxDelay < c.Queue.RetryBaseDelay {
		return errors.ValidationField("RETRY_MAX_DELAY", "retry delays must be positive and RETRY_MAX_DELAY >= RETRY_BASE_DELAY")
	}

	switch c.Storage.Provider {
	case "localfs", "gdrive", "s3":
	default:
		return errors.ValidationField("STORAGE_PROVIDER", fmt.Sprintf("unknown storage provider %q", c.Storage.Provider))
	}

	switch c.Delivery.Mode {
	case "pull", "push":
	default:
		return errors.ValidationField("DELIVERY_MODE", fmt.Sprintf("unknown delivery mode %q", c.Delivery.Mode))
	}
	return nil
}

// ValidateWorker checks the values only the worker needs.
func (c *Config) ValidateWorker() error {
	if c.Worker.Concurrency < 1 {
		return errors.ValidationField("WORKER_CONCURRENCY", "WORKER_CONCURRENCY must be at least 1")
	}
	if c.Worker.RenderTimeout <= 0 || c.Worker.DeliveryTimeout <= 0 {
		return errors.ValidationField("RENDER_TIMEOUT", "render and delivery timeouts must be positive")
	}
	if c.Renderer.APIKey == "" {
		return errors.ValidationField("RENDERER_API_KEY", "RENDERER_API_KEY is required")
	}
	if c.Delivery.Mode == "push" && (c.SMTP.Host == "" || c.SMTP.From == "") {
		return errors.ValidationField("SMTP_HOST", "SMTP_HOST and SMTP_FROM are required when DELIVERY_MODE=push")
	}
	return nil
}

// readSecret returns the trimmed contents of the file named by env+"_FILE"
// unless env itself is set.
func readSecret(env string) (string, error) {
	if os.Getenv(env) != "" {
		return "", nil
	}
	path := os.Getenv(env + "_FILE")
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
