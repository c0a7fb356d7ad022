package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-gateway/internal/cache"
)

const (
	defaultEnv        = "dev"
	defaultWeatherURL = "https://api.openweathermap.org/data/2.5"
	defaultGeoURL     = "https://api.openweathermap.org/geo/1.0/direct"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	Env     string
	Version string

	Host string
	Port string

	WeatherAPIKey     string
	WeatherBaseURL    string
	GeoURL            string
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration
	CORSOrigins    []string

	CurrentTTL       time.Duration
	ForecastTTL      time.Duration
	ForecastLocation *time.Location

	CacheBackend          string // "in_memory" or "memcached"
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	CircuitBreakerEnabled     bool
	CircuitBreakerMaxFailures uint32
	CircuitBreakerTimeout     time.Duration

	WarmCities []cache.WarmTarget

	ShutdownTimeout               time.Duration
	ShutdownInFlightCheckInterval time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	OTLPEndpoint string
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

type fileConfig struct {
	Version string `yaml:"version"`

	Server struct {
		Host        string   `yaml:"host"`
		Port        string   `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	WeatherAPI struct {
		BaseURL string `yaml:"base_url"`
		GeoURL  string `yaml:"geo_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend     string `yaml:"backend"`
		CurrentTTL  string `yaml:"current_ttl"`
		ForecastTTL string `yaml:"forecast_ttl"`
		Memcached   struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Warm []cache.WarmTarget `yaml:"warm"`
	} `yaml:"cache"`

	Forecast struct {
		Timezone string `yaml:"timezone"`
	} `yaml:"forecast"`

	CircuitBreaker struct {
		Enabled     bool   `yaml:"enabled"`
		MaxFailures uint32 `yaml:"max_failures"`
		Timeout     string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Tracing struct {
		OTLPEndpoint string `yaml:"otlp_endpoint"`
	} `yaml:"tracing"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// envOverrides are applied last; unset variables leave the file values alone.
type envOverrides struct {
	APIKey       string   `envconfig:"OPENWEATHER_API_KEY"`
	BaseURL      string   `envconfig:"OPENWEATHER_BASE_URL"`
	GeoURL       string   `envconfig:"OPENWEATHER_GEO_URL"`
	CORSOrigins  []string `envconfig:"CORS_ORIGINS"`
	Host         string   `envconfig:"BACKEND_HOST"`
	Port         string   `envconfig:"BACKEND_PORT"`
	CacheBackend string   `envconfig:"CACHE_BACKEND"`
	Memcached    string   `envconfig:"MEMCACHED_ADDRS"`
	OTLPEndpoint string   `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads .env, config/{ENV_NAME}.yaml (default dev), config/secrets.yaml and environment
// overrides, relative to the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom is Load rooted at dir. A missing config file falls back to defaults only when ENV_NAME
// is unset; a missing API key is not an error, callers warn and requests fail per call.
func LoadFrom(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := strings.TrimSpace(os.Getenv("ENV_NAME"))
	explicit := env != ""
	if !explicit {
		env = defaultEnv
	}

	var fc fileConfig
	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("config file not found: %s", configPath)
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := fromFile(fc)
	cfg.Env = env

	key, err := readSecrets(filepath.Join(dir, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.WeatherAPIKey = key

	var eo envOverrides
	if err := envconfig.Process("", &eo); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	applyEnv(cfg, eo)

	loc, err := loadLocation(fc.Forecast.Timezone)
	if err != nil {
		return nil, err
	}
	cfg.ForecastLocation = loc

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc fileConfig) *Config {
	cfg := &Config{}
	cfg.Version = orDefault(fc.Version, "dev")
	cfg.Host = orDefault(fc.Server.Host, "0.0.0.0")
	cfg.Port = orDefault(fc.Server.Port, "8000")
	cfg.CORSOrigins = fc.Server.CORSOrigins
	cfg.WeatherBaseURL = orDefault(fc.WeatherAPI.BaseURL, defaultWeatherURL)
	cfg.GeoURL = orDefault(fc.WeatherAPI.GeoURL, defaultGeoURL)
	cfg.WeatherAPITimeout = parseDuration(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)
	cfg.CurrentTTL = parseDuration(fc.Cache.CurrentTTL, 10*time.Minute)
	cfg.ForecastTTL = parseDuration(fc.Cache.ForecastTTL, 30*time.Minute)
	cfg.CacheBackend = strings.ToLower(orDefault(fc.Cache.Backend, "in_memory"))
	cfg.MemcachedAddrs = orDefault(fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	cfg.WarmCities = fc.Cache.Warm
	cfg.CircuitBreakerEnabled = fc.CircuitBreaker.Enabled
	cfg.CircuitBreakerMaxFailures = fc.CircuitBreaker.MaxFailures
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	cfg.OTLPEndpoint = strings.TrimSpace(fc.Tracing.OTLPEndpoint)
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:5173"}
	}
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	if cfg.CircuitBreakerMaxFailures == 0 {
		cfg.CircuitBreakerMaxFailures = 5
	}
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	return cfg
}

func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

func applyEnv(cfg *Config, eo envOverrides) {
	if s := strings.TrimSpace(eo.APIKey); s != "" {
		cfg.WeatherAPIKey = s
	}
	if s := strings.TrimSpace(eo.BaseURL); s != "" {
		cfg.WeatherBaseURL = s
	}
	if s := strings.TrimSpace(eo.GeoURL); s != "" {
		cfg.GeoURL = s
	}
	if origins := trimAll(eo.CORSOrigins); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	if s := strings.TrimSpace(eo.Host); s != "" {
		cfg.Host = s
	}
	if s := strings.TrimSpace(eo.Port); s != "" {
		cfg.Port = s
	}
	if s := strings.TrimSpace(eo.CacheBackend); s != "" {
		cfg.CacheBackend = strings.ToLower(s)
	}
	if s := strings.TrimSpace(eo.Memcached); s != "" {
		cfg.MemcachedAddrs = s
	}
	if s := strings.TrimSpace(eo.OTLPEndpoint); s != "" {
		cfg.OTLPEndpoint = s
	}
}

// loadLocation resolves the forecast bucketing zone; empty or "Local" is the process zone.
func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("forecast.timezone %q: %w", name, err)
	}
	return loc, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load checks. RequestTimeout is raised above WeatherAPITimeout so the
// upstream deadline always fires first.
func validate(cfg *Config) error {
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("lifecycle.degraded_error_pct must be at most 100, got %d", cfg.DegradedErrorPct)
	}
	for i, w := range cfg.WarmCities {
		if strings.TrimSpace(w.City) == "" {
			return fmt.Errorf("cache.warm[%d]: city is required", i)
		}
	}
	return nil
}
