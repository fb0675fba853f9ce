package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader builds a Config from layered sources. From lowest to highest
// priority:
//  1. Defaults in code
//  2. base.yaml
//  3. <environment>.yaml
//  4. local.yaml (development only)
//  5. Environment variables
type Loader struct {
	basePath    string
	environment Environment
	fileLoaders []FileLoader
	getenv      func(string) string
}

// FileLoader decodes one configuration file format.
type FileLoader interface {
	Load(reader io.Reader, target interface{}) error
	Extension() string
}

// NewLoader creates a loader reading files from basePath.
func NewLoader(basePath string, env Environment) *Loader {
	if basePath == "" {
		basePath = "config"
	}
	if env == "" {
		env = Development
	}

	loader := &Loader{
		basePath:    basePath,
		environment: env,
		getenv:      os.Getenv,
	}
	loader.RegisterLoader(&YAMLLoader{ext: "yaml"})
	loader.RegisterLoader(&YAMLLoader{ext: "yml"})
	loader.RegisterLoader(&JSONLoader{})
	return loader
}

// RegisterLoader adds a file format. Formats are tried in registration order.
func (l *Loader) RegisterLoader(loader FileLoader) {
	l.fileLoaders = append(l.fileLoaders, loader)
}

// BasePath returns the directory configuration files are read from.
func (l *Loader) BasePath() string {
	return l.basePath
}

// Load applies every source and validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := l.defaultConfig()
	sources := []string{"defaults"}

	layers := []string{"base", strings.ToLower(string(l.environment))}
	if l.environment == Development {
		layers = append(layers, "local")
	}

	for _, name := range layers {
		path, err := l.loadFile(name, cfg)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s config: %w", name, err)
		}
		sources = append(sources, path)
	}

	// A file may not move the loader to another environment.
	cfg.Environment = l.environment

	l.loadEnvironmentVariables(cfg)
	sources = append(sources, "environment")
	cfg.LoadedFrom = sources

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) loadFile(name string, cfg *Config) (string, error) {
	for _, loader := range l.fileLoaders {
		path := filepath.Join(l.basePath, name+"."+loader.Extension())

		file, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", err
		}

		err = loader.Load(file, cfg)
		file.Close()
		if err != nil {
			return "", fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return path, nil
	}
	return "", fs.ErrNotExist
}

// loadEnvironmentVariables overlays environment variables on cfg.
func (l *Loader) loadEnvironmentVariables(cfg *Config) {
	// Server
	if val := l.getenv("SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := l.getenv("SERVER_PORT"); val != "" {
		if port := parseInt(val); port > 0 {
			cfg.Server.Port = port
		}
	}
	if val := l.getenv("ALLOWED_ORIGINS"); val != "" {
		cfg.Server.AllowedOrigins = strings.Split(val, ",")
	}

	// Cache
	if val := l.getenv("CACHE_STALE_TIME"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Cache.StaleTime = d
		}
	}
	if val := l.getenv("CACHE_REFETCH_ON_INVALIDATE"); val != "" {
		cfg.Cache.RefetchOnInvalidate = parseBool(val)
	}

	// Remote store
	if val := l.getenv("REMOTE_PROVIDER"); val != "" {
		cfg.Remote.Provider = val
	}
	if val := l.getenv("SUPABASE_URL"); val != "" {
		cfg.Remote.Supabase.URL = val
	}
	if val := l.getenv("SUPABASE_KEY"); val != "" {
		cfg.Remote.Supabase.Key = val
	}
	if val := l.getenv("TABLE_NAME"); val != "" {
		cfg.Remote.DynamoDB.TableName = val
	}
	if val := l.getenv("AWS_REGION"); val != "" {
		cfg.Remote.DynamoDB.Region = val
	}
	if val := l.getenv("DYNAMODB_ENDPOINT"); val != "" {
		cfg.Remote.DynamoDB.Endpoint = val
	}

	// Identity
	if val := l.getenv("ACCESS_TOKEN"); val != "" {
		cfg.Identity.AccessToken = val
	}
	if val := l.getenv("OWNER_ID"); val != "" {
		cfg.Identity.OwnerID = val
	}

	// Observability
	if val := l.getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = strings.ToLower(val)
	}
	if val := l.getenv("LOG_FORMAT"); val != "" {
		cfg.Logging.Format = strings.ToLower(val)
	}
	if val := l.getenv("ENABLE_METRICS"); val != "" {
		cfg.Metrics.Enabled = parseBool(val)
	}
	if val := l.getenv("ENABLE_TRACING"); val != "" {
		cfg.Tracing.Enabled = parseBool(val)
	}
	if val := l.getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		cfg.Tracing.Endpoint = val
	}
}

// defaultConfig lets the application run without any configuration files:
// an in-memory remote store and a local owner.
func (l *Loader) defaultConfig() *Config {
	cfg := &Config{
		Environment: l.environment,
		Server: Server{
			Host:            "127.0.0.1",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:5173"},
		},
		Cache: Cache{
			StaleTime:           5 * time.Minute,
			RefetchOnInvalidate: true,
		},
		Remote: Remote{
			Provider: ProviderMemory,
			Breaker: Breaker{
				Enabled:          true,
				MaxRequests:      1,
				Interval:         60 * time.Second,
				Timeout:          30 * time.Second,
				FailureThreshold: 0.6,
				MinRequests:      3,
			},
		},
		Identity: Identity{
			OwnerID: "local-user",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "medsbuddy",
		},
		Tracing: Tracing{
			ServiceName: "medsbuddy",
			SampleRate:  1.0,
		},
	}

	switch l.environment {
	case Development, Test:
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "console"
		cfg.Tracing.Insecure = true
	case Production:
		cfg.Server.Host = "0.0.0.0"
		cfg.Tracing.SampleRate = 0.1
	}
	return cfg
}

// YAMLLoader decodes YAML files. Durations are written as "5m", "30s".
type YAMLLoader struct {
	ext string
}

func (y *YAMLLoader) Load(reader io.Reader, target interface{}) error {
	err := yaml.NewDecoder(reader).Decode(target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (y *YAMLLoader) Extension() string {
	if y.ext == "" {
		return "yaml"
	}
	return y.ext
}

// JSONLoader decodes JSON files. Durations are integer nanoseconds.
type JSONLoader struct{}

func (j *JSONLoader) Load(reader io.Reader, target interface{}) error {
	return json.NewDecoder(reader).Decode(target)
}

func (j *JSONLoader) Extension() string {
	return "json"
}

func parseInt(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

// EnvironmentFromEnv reads ENVIRONMENT, defaulting to development.
func EnvironmentFromEnv() Environment {
	if val := os.Getenv("ENVIRONMENT"); val != "" {
		return Environment(strings.ToLower(val))
	}
	return Development
}
