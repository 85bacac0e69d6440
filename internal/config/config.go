package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"statusmon/internal/models"
)

// Store backends recognised by Store.Backend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// Config represents configuration data shared by the server and the producer.
// HTTPChecks maps a service to a health URL probed instead of systemd.
type Config struct {
	ListenAddr          string            `yaml:"listen_addr"`
	HostName            string            `yaml:"host_name"`
	Services            []string          `yaml:"services"`
	HTTPChecks          map[string]string `yaml:"http_checks"`
	IntervalSeconds     int               `yaml:"interval_seconds"`
	ProbeTimeoutSeconds int               `yaml:"probe_timeout_seconds"`
	StaleAfterSeconds   int               `yaml:"stale_after_seconds"`
	KeyMode             string            `yaml:"key_mode"`
	LogLevel            string            `yaml:"log_level"`
	WSPushSeconds       int               `yaml:"ws_push_seconds"`
	Store               Store             `yaml:"store"`
	Ingest              Ingest            `yaml:"ingest"`
}

// Store selects and addresses the backing document store.
type Store struct {
	Backend        string `yaml:"backend"`
	Path           string `yaml:"path"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Collection     string `yaml:"collection"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	S3             S3     `yaml:"s3"`
}

// S3 holds bucket settings for the s3 backend.
type S3 struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Ingest configures both sides of record delivery: where producers push and
// how the server accepts.
type Ingest struct {
	URL                  string `yaml:"url"`
	APIKey               string `yaml:"api_key"`
	MaxBodyBytes         int64  `yaml:"max_body_bytes"`
	SpoolDir             string `yaml:"spool_dir"`
	Watch                bool   `yaml:"watch"`
	WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
}

// DefaultConfig returns sensible defaults in case no configuration file is provided.
func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "statusmon-local"
	}

	return Config{
		ListenAddr:          ":5000",
		HostName:            hostname,
		Services:            []string{"httpd", "rabbitmq-server", "postgresql"},
		IntervalSeconds:     60,
		ProbeTimeoutSeconds: 10,
		StaleAfterSeconds:   900,
		KeyMode:             string(models.KeyByService),
		LogLevel:            "info",
		WSPushSeconds:       30,
		Store: Store{
			Backend:        BackendFile,
			Path:           filepath.Join(".dist", "data", "statusmon.json"),
			Collection:     "services",
			TimeoutSeconds: 5,
			S3:             S3{Region: "us-east-1", UsePathStyle: true},
		},
		Ingest: Ingest{
			URL:                  "http://localhost:5000",
			MaxBodyBytes:         1 << 20,
			SpoolDir:             filepath.Join(".dist", "spool"),
			Watch:                true,
			WatchIntervalSeconds: 10,
		},
	}
}

// Load reads configuration from yaml file. Missing files fall back to
// defaults. Environment overrides are applied before validation.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	def := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.HostName == "" {
		c.HostName = def.HostName
	}
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = def.IntervalSeconds
	}
	if c.ProbeTimeoutSeconds <= 0 {
		c.ProbeTimeoutSeconds = def.ProbeTimeoutSeconds
	}
	if c.StaleAfterSeconds < 0 {
		return errors.New("stale_after_seconds must not be negative")
	}
	if c.WSPushSeconds <= 0 {
		c.WSPushSeconds = def.WSPushSeconds
	}
	if _, err := models.ParseKeyMode(c.KeyMode); err != nil {
		return err
	}
	for i, svc := range c.Services {
		c.Services[i] = strings.TrimSpace(svc)
		if c.Services[i] == "" {
			return fmt.Errorf("services[%d] must not be empty", i)
		}
	}
	for svc, url := range c.HTTPChecks {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("http_checks.%s: %q is not an http(s) URL", svc, url)
		}
	}

	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = BackendFile
	}
	if c.Store.Collection == "" {
		c.Store.Collection = def.Store.Collection
	}
	if c.Store.TimeoutSeconds <= 0 {
		c.Store.TimeoutSeconds = def.Store.TimeoutSeconds
	}
	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
		if c.Store.Path == "" {
			c.Store.Path = def.Store.Path
		}
	case BackendMemory:
	case BackendS3:
		if c.Store.S3.Bucket == "" {
			return errors.New("store.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Ingest.MaxBodyBytes <= 0 {
		c.Ingest.MaxBodyBytes = def.Ingest.MaxBodyBytes
	}
	if c.Ingest.WatchIntervalSeconds <= 0 {
		c.Ingest.WatchIntervalSeconds = def.Ingest.WatchIntervalSeconds
	}
	return nil
}

// Mode returns the parsed key mode.
func (c Config) Mode() models.KeyMode {
	mode, _ := models.ParseKeyMode(c.KeyMode)
	return mode
}

// Interval is the producer probe period.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ProbeTimeout bounds a single probe.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// StaleAfter is the staleness window; zero disables staleness.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

// WSPushInterval is the period between websocket health pushes.
func (c Config) WSPushInterval() time.Duration {
	return time.Duration(c.WSPushSeconds) * time.Second
}

// WatchInterval is the spool directory poll period.
func (c Config) WatchInterval() time.Duration {
	return time.Duration(c.Ingest.WatchIntervalSeconds) * time.Second
}

// Timeout bounds every store call.
func (s Store) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Endpoint returns the S3-compatible endpoint built from host and port, or
// "" to use the AWS default endpoint.
func (s Store) Endpoint() string {
	host := strings.TrimSpace(s.Host)
	if host == "" {
		return ""
	}
	if strings.Contains(host, "://") {
		return host
	}
	if s.Port > 0 {
		host = host + ":" + strconv.Itoa(s.Port)
	}
	return "http://" + host
}

func applyEnv(cfg *Config) {
	cfg.Store.Backend = getEnv("STATUSMON_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Host = getEnv("STATUSMON_STORE_HOST", cfg.Store.Host)
	cfg.Store.Port = parseInt("STATUSMON_STORE_PORT", cfg.Store.Port)
	cfg.Store.Collection = getEnv("STATUSMON_COLLECTION", cfg.Store.Collection)
	cfg.Ingest.URL = getEnv("STATUSMON_INGEST_URL", cfg.Ingest.URL)
	cfg.Ingest.APIKey = getEnv("STATUSMON_API_KEY", cfg.Ingest.APIKey)
	if raw := os.Getenv("STATUSMON_SERVICES"); raw != "" {
		var services []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				services = append(services, s)
			}
		}
		cfg.Services = services
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return defaultValue
	}
	return value
}
