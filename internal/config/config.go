package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment names a deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
	Test        Environment = "test"
)

// Remote store providers.
const (
	ProviderSupabase = "supabase"
	ProviderDynamoDB = "dynamodb"
	ProviderMemory   = "memory"
)

// Config is the complete application configuration.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment" validate:"oneof=development staging production test"`
	Server      Server      `yaml:"server" json:"server"`
	Cache       Cache       `yaml:"cache" json:"cache"`
	Remote      Remote      `yaml:"remote" json:"remote"`
	Identity    Identity    `yaml:"identity" json:"identity"`
	Logging     Logging     `yaml:"logging" json:"logging"`
	Metrics     Metrics     `yaml:"metrics" json:"metrics"`
	Tracing     Tracing     `yaml:"tracing" json:"tracing"`

	// LoadedFrom lists the sources applied, lowest priority first.
	LoadedFrom []string `yaml:"-" json:"-"`
}

// Server configures the local HTTP API.
type Server struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"readTimeout" json:"readTimeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" json:"writeTimeout" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idleTimeout" json:"idleTimeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout" validate:"gt=0"`
	RequestTimeout  time.Duration `yaml:"requestTimeout" json:"requestTimeout" validate:"gte=0"`
	AllowedOrigins  []string      `yaml:"allowedOrigins" json:"allowedOrigins"`
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Cache tunes the query controller.
type Cache struct {
	StaleTime           time.Duration `yaml:"staleTime" json:"staleTime" validate:"gt=0"`
	RefetchOnInvalidate bool          `yaml:"refetchOnInvalidate" json:"refetchOnInvalidate"`
}

// Remote selects and configures the remote store.
type Remote struct {
	Provider string   `yaml:"provider" json:"provider" validate:"oneof=supabase dynamodb memory"`
	Supabase Supabase `yaml:"supabase" json:"supabase"`
	DynamoDB DynamoDB `yaml:"dynamodb" json:"dynamodb"`
	Breaker  Breaker  `yaml:"breaker" json:"breaker"`
}

// Supabase holds the hosted project settings.
type Supabase struct {
	URL string `yaml:"url" json:"url" validate:"omitempty,url"`
	Key string `yaml:"key" json:"key"`
}

// DynamoDB holds the table settings.
type DynamoDB struct {
	TableName string `yaml:"tableName" json:"tableName"`
	Region    string `yaml:"region" json:"region"`
	// Endpoint overrides the AWS endpoint, e.g. for DynamoDB Local.
	Endpoint string `yaml:"endpoint" json:"endpoint" validate:"omitempty,url"`
}

// Breaker configures the circuit breaker around the remote store.
type Breaker struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	MaxRequests      uint32        `yaml:"maxRequests" json:"maxRequests"`
	Interval         time.Duration `yaml:"interval" json:"interval" validate:"gte=0"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	FailureThreshold float64       `yaml:"failureThreshold" json:"failureThreshold" validate:"gte=0,lte=1"`
	MinRequests      uint32        `yaml:"minRequests" json:"minRequests"`
}

// Identity configures where the current owner comes from.
type Identity struct {
	// AccessToken is a Supabase session token resolved at startup.
	AccessToken string `yaml:"accessToken" json:"accessToken"`
	// OwnerID fixes the owner when no identity provider is used.
	OwnerID string `yaml:"ownerId" json:"ownerId"`
}

// Logging configures zap.
type Logging struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=json console"`
}

// Metrics configures Prometheus.
type Metrics struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace" validate:"required"`
}

// Tracing configures OpenTelemetry export.
type Tracing struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"serviceName" json:"serviceName"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	SampleRate  float64 `yaml:"sampleRate" json:"sampleRate" validate:"gte=0,lte=1"`
	Insecure    bool    `yaml:"insecure" json:"insecure"`
}

var validate = validator.New()

// Validate checks field ranges and the settings each provider needs.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
		}
	}

	switch c.Remote.Provider {
	case ProviderSupabase:
		if c.Remote.Supabase.URL == "" || c.Remote.Supabase.Key == "" {
			problems = append(problems, "remote.supabase.url and remote.supabase.key are required for the supabase provider")
		}
	case ProviderDynamoDB:
		if c.Remote.DynamoDB.TableName == "" {
			problems = append(problems, "remote.dynamodb.tableName is required for the dynamodb provider")
		}
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		problems = append(problems, "tracing.endpoint is required when tracing is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsDevelopment reports whether hot reloading and local overrides apply.
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}
