// Package config loads process configuration: defaults, then an optional
// .env file, then a JSON or YAML file, then environment overrides. The
// result is validated before use.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Port              string `json:"port" yaml:"port" validate:"required,numeric"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec" validate:"gt=0"`
}

type Log struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=json console"`
}

type Manager struct {
	MaxRetries         int `json:"max_retries" yaml:"max_retries" validate:"gte=0,lte=10"`
	BaseDelayMs        int `json:"base_delay_ms" yaml:"base_delay_ms" validate:"gte=0"`
	CallTimeoutSec     int `json:"call_timeout_sec" yaml:"call_timeout_sec" validate:"gt=0"`
	DefaultCooldownSec int `json:"default_cooldown_sec" yaml:"default_cooldown_sec" validate:"gt=0"`
	// DedupWindowMs of 0 disables request coalescing.
	DedupWindowMs int `json:"dedup_window_ms" yaml:"dedup_window_ms" validate:"gte=0"`
}

type Circuit struct {
	FailureThreshold   int `json:"failure_threshold" yaml:"failure_threshold" validate:"gte=1"`
	RecoveryTimeoutSec int `json:"recovery_timeout_sec" yaml:"recovery_timeout_sec" validate:"gt=0"`
}

// CacheTTLs are in seconds.
type CacheTTLs struct {
	Quotes       int `json:"quotes" yaml:"quotes" validate:"gt=0"`
	Intraday     int `json:"intraday" yaml:"intraday" validate:"gt=0"`
	Fundamentals int `json:"fundamentals" yaml:"fundamentals" validate:"gt=0"`
	Charts       int `json:"charts" yaml:"charts" validate:"gt=0"`
	Historical   int `json:"historical" yaml:"historical" validate:"gt=0"`
	News         int `json:"news" yaml:"news" validate:"gt=0"`
	Earnings     int `json:"earnings" yaml:"earnings" validate:"gt=0"`
}

type Cache struct {
	MaxSize int       `json:"max_size" yaml:"max_size" validate:"gt=0"`
	TTL     CacheTTLs `json:"ttl_sec" yaml:"ttl_sec"`
}

// Provider configures one upstream. A provider that needs a key and has
// none is skipped at startup.
type Provider struct {
	Enabled               bool   `json:"enabled" yaml:"enabled"`
	APIKey                string `json:"api_key" yaml:"api_key"`
	Priority              int    `json:"priority" yaml:"priority" validate:"gte=0"`
	BaseURL               string `json:"base_url" yaml:"base_url" validate:"omitempty,url"`
	MaxRequestsPerMinute  int    `json:"max_requests_per_minute" yaml:"max_requests_per_minute" validate:"gte=0"`
	Burst                 int    `json:"burst" yaml:"burst" validate:"gte=0"`
	MinRequestIntervalSec int    `json:"min_request_interval_sec" yaml:"min_request_interval_sec" validate:"gte=0"`
}

type Providers struct {
	Yahoo        Provider `json:"yahoo" yaml:"yahoo"`
	FRED         Provider `json:"fred" yaml:"fred"`
	AlphaVantage Provider `json:"alphavantage" yaml:"alphavantage"`
	Finnhub      Provider `json:"finnhub" yaml:"finnhub"`
	TwelveData   Provider `json:"twelvedata" yaml:"twelvedata"`
}

type Config struct {
	Server    Server    `json:"server" yaml:"server"`
	Log       Log       `json:"log" yaml:"log"`
	Manager   Manager   `json:"manager" yaml:"manager"`
	Circuit   Circuit   `json:"circuit" yaml:"circuit"`
	Cache     Cache     `json:"cache" yaml:"cache"`
	Providers Providers `json:"providers" yaml:"providers"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 30},
		Log:    Log{Level: "info", Format: "json"},
		Manager: Manager{
			MaxRetries:         2,
			BaseDelayMs:        500,
			CallTimeoutSec:     10,
			DefaultCooldownSec: 60,
			DedupWindowMs:      100,
		},
		Circuit: Circuit{FailureThreshold: 3, RecoveryTimeoutSec: 30},
		Cache: Cache{
			MaxSize: 1000,
			TTL: CacheTTLs{
				Quotes:       300,
				Intraday:     60,
				Fundamentals: 3600,
				Charts:       300,
				Historical:   86400,
				News:         600,
				Earnings:     3600,
			},
		},
		Providers: Providers{
			Yahoo:        Provider{Enabled: true, Priority: 0},
			FRED:         Provider{Enabled: true, Priority: 1, MaxRequestsPerMinute: 120, Burst: 10},
			AlphaVantage: Provider{Enabled: true, Priority: 10, MaxRequestsPerMinute: 5, Burst: 1},
			Finnhub:      Provider{Enabled: true, Priority: 15, MaxRequestsPerMinute: 60, Burst: 5},
			TwelveData:   Provider{Enabled: true, Priority: 20, MaxRequestsPerMinute: 8, Burst: 1},
		},
	}
}

// Load builds the configuration. An empty path falls back to config.json,
// config.yaml or config.yml in the working directory when present.
func Load(path string) (Config, error) {
	cfg := Default()
	_ = godotenv.Load(".env")

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		for _, candidate := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

var validate = validator.New()

// Validate checks field constraints and reports every violation at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return platformerrors.Wrap(err, platformerrors.CodeInvalidConfig, "validate config")
	}
	fields := make(map[string]interface{}, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		msg := describe(fe)
		fields[field] = msg
		msgs = append(msgs, field+" "+msg)
	}
	return platformerrors.WithContextMap(
		platformerrors.New(platformerrors.CodeInvalidConfig, "invalid config: "+strings.Join(msgs, "; ")),
		fields)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "numeric":
		return "must be numeric"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	}
	return "failed on '" + fe.Tag() + "'"
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.RequestTimeoutSec, "REQUEST_TIMEOUT_SEC")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")

	setInt(&cfg.Manager.MaxRetries, "MAX_RETRIES")
	setInt(&cfg.Manager.BaseDelayMs, "BASE_DELAY_MS")
	setInt(&cfg.Manager.CallTimeoutSec, "CALL_TIMEOUT_SEC")
	setInt(&cfg.Manager.DefaultCooldownSec, "DEFAULT_COOLDOWN_SEC")
	setInt(&cfg.Manager.DedupWindowMs, "DEDUP_WINDOW_MS")
	setInt(&cfg.Circuit.FailureThreshold, "CIRCUIT_FAILURE_THRESHOLD")
	setInt(&cfg.Circuit.RecoveryTimeoutSec, "CIRCUIT_RECOVERY_TIMEOUT_SEC")
	setInt(&cfg.Cache.MaxSize, "CACHE_MAX_SIZE")

	applyProviderEnv(&cfg.Providers.Yahoo, "YAHOO")
	applyProviderEnv(&cfg.Providers.FRED, "FRED")
	applyProviderEnv(&cfg.Providers.AlphaVantage, "ALPHAVANTAGE")
	applyProviderEnv(&cfg.Providers.Finnhub, "FINNHUB")
	applyProviderEnv(&cfg.Providers.TwelveData, "TWELVEDATA")

	// PROVIDERS narrows the enabled set, e.g. PROVIDERS=yahoo,finnhub.
	if v := os.Getenv("PROVIDERS"); v != "" {
		keep := map[string]bool{}
		for _, name := range splitCSV(strings.ToLower(v)) {
			keep[name] = true
		}
		cfg.Providers.Yahoo.Enabled = cfg.Providers.Yahoo.Enabled && keep["yahoo"]
		cfg.Providers.FRED.Enabled = cfg.Providers.FRED.Enabled && keep["fred"]
		cfg.Providers.AlphaVantage.Enabled = cfg.Providers.AlphaVantage.Enabled && keep["alphavantage"]
		cfg.Providers.Finnhub.Enabled = cfg.Providers.Finnhub.Enabled && keep["finnhub"]
		cfg.Providers.TwelveData.Enabled = cfg.Providers.TwelveData.Enabled && keep["twelvedata"]
	}
}

func applyProviderEnv(p *Provider, prefix string) {
	setBool(&p.Enabled, prefix+"_ENABLED")
	setString(&p.APIKey, prefix+"_API_KEY")
	setInt(&p.Priority, prefix+"_PRIORITY")
	setString(&p.BaseURL, prefix+"_BASE_URL")
	setInt(&p.MaxRequestsPerMinute, prefix+"_MAX_RPM")
	setInt(&p.Burst, prefix+"_BURST")
	setInt(&p.MinRequestIntervalSec, prefix+"_MIN_INTERVAL_SEC")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt ignores values that do not parse, keeping the previous layer.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if x, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = x
		}
	}
}

func setBool(dst *bool, key string) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		*dst = true
	case "0", "false", "no", "n":
		*dst = false
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Seconds converts an integer seconds field.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Millis converts an integer milliseconds field.
func Millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }
