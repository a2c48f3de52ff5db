package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

const envPrefix = "QUERYPILOT_"

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Uploads       UploadsConfig
	ObjectStore   ObjectStoreConfig
	Query         QueryConfig
	AI            AIConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RequestBudget is how long a handler may work on a submission and still
// write its response before WriteTimeout closes the connection. Zero means
// unbounded.
func (c HTTPConfig) RequestBudget() time.Duration {
	if c.WriteTimeout <= 0 {
		return 0
	}
	margin := c.WriteTimeout / 10
	if margin > 5*time.Second {
		margin = 5 * time.Second
	}
	return c.WriteTimeout - margin
}

type UploadsConfig struct {
	Dir      string
	MaxBytes int64
	MaxFiles int
}

type ObjectStoreConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type QueryConfig struct {
	RowLimit          int
	ExecutionTimeout  time.Duration
	ReadOnly          bool
	MaxConcurrentRuns int
	// QueueTimeout bounds how long a submission waits for a free run slot.
	QueueTimeout time.Duration
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

// LoadFromEnv reads the process environment. When QUERYPILOT_CONFIG_FILE is
// set, the YAML file fills in keys that the environment leaves unset.
func LoadFromEnv(serviceName string) (Config, error) {
	lookup := LookupFunc(os.LookupEnv)
	if path, ok := os.LookupEnv(envPrefix + "CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		fileLookup, err := FileLookup(strings.TrimSpace(path))
		if err != nil {
			return Config{}, err
		}
		lookup = ChainLookup(lookup, fileLookup)
	}
	return Load(serviceName, lookup)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup(envPrefix + "PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid %sPROFILE: %q", envPrefix, profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, envPrefix+"SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, envPrefix+"HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, envPrefix+"HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, envPrefix+"HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, envPrefix+"HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, envPrefix+"UPLOADS_DIR", &cfg.Uploads.Dir) },
		func() error { return applyInt64(lookup, envPrefix+"UPLOADS_MAX_BYTES", &cfg.Uploads.MaxBytes) },
		func() error { return applyInt(lookup, envPrefix+"UPLOADS_MAX_FILES", &cfg.Uploads.MaxFiles) },
		func() error { return applyBool(lookup, envPrefix+"OBJECTSTORE_ENABLED", &cfg.ObjectStore.Enabled) },
		func() error { return applyString(lookup, envPrefix+"OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, envPrefix+"OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, envPrefix+"OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, envPrefix+"OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, envPrefix+"OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, envPrefix+"OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, envPrefix+"OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, envPrefix+"OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyInt(lookup, envPrefix+"QUERY_ROW_LIMIT", &cfg.Query.RowLimit) },
		func() error {
			return applyDuration(lookup, envPrefix+"QUERY_EXECUTION_TIMEOUT", &cfg.Query.ExecutionTimeout)
		},
		func() error { return applyBool(lookup, envPrefix+"QUERY_READ_ONLY", &cfg.Query.ReadOnly) },
		func() error { return applyInt(lookup, envPrefix+"QUERY_MAX_CONCURRENT_RUNS", &cfg.Query.MaxConcurrentRuns) },
		func() error { return applyDuration(lookup, envPrefix+"QUERY_QUEUE_TIMEOUT", &cfg.Query.QueueTimeout) },
		func() error { return applyString(lookup, envPrefix+"AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, envPrefix+"AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, envPrefix+"AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, envPrefix+"AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, envPrefix+"AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, envPrefix+"AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyBool(lookup, envPrefix+"LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, envPrefix+"LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	switch cfg.AI.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return Config{}, fmt.Errorf("invalid %sAI_PROVIDER: %q", envPrefix, cfg.AI.Provider)
	}
	if cfg.AI.BaseURL == "" {
		cfg.AI.BaseURL = defaultBaseURL(cfg.AI.Provider)
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = defaultModel(cfg.AI.Provider)
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Query.RowLimit < 0 {
		return Config{}, fmt.Errorf("invalid %sQUERY_ROW_LIMIT: must be >= 0", envPrefix)
	}
	if cfg.Query.MaxConcurrentRuns <= 0 {
		return Config{}, fmt.Errorf("invalid %sQUERY_MAX_CONCURRENT_RUNS: must be > 0", envPrefix)
	}
	if cfg.Uploads.MaxFiles <= 0 {
		return Config{}, fmt.Errorf("invalid %sUPLOADS_MAX_FILES: must be > 0", envPrefix)
	}
	if perFile := cfg.AI.Timeout + cfg.Query.ExecutionTimeout; cfg.HTTP.WriteTimeout > 0 && cfg.HTTP.RequestBudget() < perFile {
		return Config{}, fmt.Errorf("invalid %sHTTP_WRITE_TIMEOUT: %s leaves no room for one file (AI timeout plus execution timeout is %s)", envPrefix, cfg.HTTP.WriteTimeout, perFile)
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querypilot-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Uploads: UploadsConfig{
			Dir:      "",
			MaxBytes: 64 << 20,
			MaxFiles: 8,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "querypilot",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Query: QueryConfig{
			RowLimit:          0,
			ExecutionTimeout:  30 * time.Second,
			ReadOnly:          false,
			MaxConcurrentRuns: 4,
			QueueTimeout:      5 * time.Second,
		},
		AI: AIConfig{
			Provider:    ProviderGemini,
			Temperature: 0.1,
			Timeout:     30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Query.ReadOnly = true
		cfg.Query.RowLimit = 10000
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func defaultBaseURL(provider string) string {
	if provider == ProviderOpenAI {
		return "https://api.openai.com"
	}
	return "https://generativelanguage.googleapis.com"
}

func defaultModel(provider string) string {
	if provider == ProviderOpenAI {
		return "gpt-5"
	}
	return "gemini-1.5-flash"
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
