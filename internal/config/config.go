package config

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

const (
	keyEnvironment               = "environment"
	keyCloudSQLUnixSocket        = "cloudsql_unix_socket"
	keyDBUsername                = "db_username"
	keyDBPassword                = "db_password"
	keySentryDSN                 = "sentry_dsn"
	keySourceTokens              = "source_tokens"
	keyDetailWorkers             = "detail_workers"
	keyDetailTimeout             = "detail_timeout"
	keyProviderRequestsPerMinute = "provider_requests_per_minute"
	keyOnDemandRequestsPerMinute = "on_demand_requests_per_minute"
	keyPort                      = "port"
	keyGoogleCloudProject        = "google_cloud_project"
)

type Config struct {
	cloudSQLUnixSocketPath    string
	dBPassword                string
	dBUsername                string
	sentryDSN                 string
	sourceTokens              []string
	detailWorkers             int
	detailTimeout             time.Duration
	providerRequestsPerMinute int
	onDemandRequestsPerMinute int
	port                      string
	googleCloudProject        string
	env                       environment
}

func (c *Config) CloudSQLUnixSocketPath() string {
	return c.cloudSQLUnixSocketPath
}

func (c *Config) DBPassword() string {
	return c.dBPassword
}

func (c *Config) DBUsername() string {
	return c.dBUsername
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

// Tokens from the static registry. May be empty when tokens are only kept in the database.
func (c *Config) SourceTokens() []string {
	return c.sourceTokens
}

func (c *Config) DetailWorkers() int {
	return c.detailWorkers
}

func (c *Config) DetailTimeout() time.Duration {
	return c.detailTimeout
}

// Total request budget against the provider
func (c *Config) ProviderRequestsPerMinute() int {
	return c.providerRequestsPerMinute
}

// Share of the provider budget reserved for on-demand detail lookups
func (c *Config) OnDemandRequestsPerMinute() int {
	return c.onDemandRequestsPerMinute
}

// What is left of the provider budget for the importer
func (c *Config) ImportRequestsPerMinute() int {
	return c.providerRequestsPerMinute - c.onDemandRequestsPerMinute
}

func (c *Config) Port() string {
	return c.port
}

func (c *Config) GoogleCloudProject() string {
	return c.googleCloudProject
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, sourceTokens: %d, detailWorkers: %d, detailTimeout: %s, providerRequestsPerMinute: %d, onDemandRequestsPerMinute: %d, port: %s, ...}",
		string(c.env),
		len(c.sourceTokens),
		c.detailWorkers,
		c.detailTimeout,
		c.providerRequestsPerMinute,
		c.onDemandRequestsPerMinute,
		c.port,
	)
}

func newViper() *viper.Viper {
	v := viper.New()

	v.MustBindEnv(keyEnvironment, "RAIDLOG_ENVIRONMENT")
	v.MustBindEnv(keyCloudSQLUnixSocket, "CLOUDSQL_UNIX_SOCKET")
	v.MustBindEnv(keyDBUsername, "DB_USERNAME")
	v.MustBindEnv(keyDBPassword, "DB_PASSWORD")
	v.MustBindEnv(keySentryDSN, "SENTRY_DSN")
	v.MustBindEnv(keySourceTokens, "SOURCE_TOKENS")
	v.MustBindEnv(keyDetailWorkers, "DETAIL_WORKERS")
	v.MustBindEnv(keyDetailTimeout, "DETAIL_TIMEOUT")
	v.MustBindEnv(keyProviderRequestsPerMinute, "PROVIDER_REQUESTS_PER_MINUTE")
	v.MustBindEnv(keyOnDemandRequestsPerMinute, "ON_DEMAND_REQUESTS_PER_MINUTE")
	v.MustBindEnv(keyPort, "PORT")
	v.MustBindEnv(keyGoogleCloudProject, "GOOGLE_CLOUD_PROJECT")

	v.SetDefault(keyDetailWorkers, strconv.Itoa(runtime.NumCPU()))
	v.SetDefault(keyDetailTimeout, "30s")
	v.SetDefault(keyProviderRequestsPerMinute, "40")
	v.SetDefault(keyOnDemandRequestsPerMinute, "10")
	v.SetDefault(keyPort, "8123")

	return v
}

func parseSourceTokens(raw string) []string {
	tokens := []string{}
	seen := make(map[string]bool)
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	return tokens
}

func parsePositiveInt(key, raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, raw)
	}
	return value, nil
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}

	v := newViper()

	var env environment
	rawEnv := v.GetString(keyEnvironment)
	switch rawEnv {
	case "":
		return missingKey("RAIDLOG_ENVIRONMENT")
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return Config{}, fmt.Errorf("%w: RAIDLOG_ENVIRONMENT (%s)", ErrInvalidValue, rawEnv)
	}

	cloudSQLUnixSocketPath := v.GetString(keyCloudSQLUnixSocket)
	dbPassword := v.GetString(keyDBPassword)
	dbUsername := v.GetString(keyDBUsername)
	sentryDSN := v.GetString(keySentryDSN)

	if env == production || env == staging {
		if cloudSQLUnixSocketPath == "" {
			return missingKey("CLOUDSQL_UNIX_SOCKET")
		}
		if dbUsername == "" {
			return missingKey("DB_USERNAME")
		}
		if dbPassword == "" {
			return missingKey("DB_PASSWORD")
		}
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
	}

	detailWorkers, err := parsePositiveInt("DETAIL_WORKERS", v.GetString(keyDetailWorkers))
	if err != nil {
		return Config{}, err
	}

	rawDetailTimeout := v.GetString(keyDetailTimeout)
	detailTimeout, err := time.ParseDuration(strings.TrimSpace(rawDetailTimeout))
	if err != nil || detailTimeout <= 0 {
		return Config{}, fmt.Errorf("%w: DETAIL_TIMEOUT (%s)", ErrInvalidValue, rawDetailTimeout)
	}

	providerRequestsPerMinute, err := parsePositiveInt("PROVIDER_REQUESTS_PER_MINUTE", v.GetString(keyProviderRequestsPerMinute))
	if err != nil {
		return Config{}, err
	}

	rawOnDemandRequestsPerMinute := v.GetString(keyOnDemandRequestsPerMinute)
	onDemandRequestsPerMinute, err := parsePositiveInt("ON_DEMAND_REQUESTS_PER_MINUTE", rawOnDemandRequestsPerMinute)
	if err != nil {
		return Config{}, err
	}
	// The importer needs a share of its own
	if onDemandRequestsPerMinute >= providerRequestsPerMinute {
		return Config{}, fmt.Errorf(
			"%w: ON_DEMAND_REQUESTS_PER_MINUTE (%s) must be below PROVIDER_REQUESTS_PER_MINUTE (%d)",
			ErrInvalidValue,
			rawOnDemandRequestsPerMinute,
			providerRequestsPerMinute,
		)
	}

	port := strings.TrimSpace(v.GetString(keyPort))
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return Config{}, fmt.Errorf("%w: PORT (%s)", ErrInvalidValue, port)
	}

	return Config{
		cloudSQLUnixSocketPath:    cloudSQLUnixSocketPath,
		dBPassword:                dbPassword,
		dBUsername:                dbUsername,
		sentryDSN:                 sentryDSN,
		sourceTokens:              parseSourceTokens(v.GetString(keySourceTokens)),
		detailWorkers:             detailWorkers,
		detailTimeout:             detailTimeout,
		providerRequestsPerMinute: providerRequestsPerMinute,
		onDemandRequestsPerMinute: onDemandRequestsPerMinute,
		port:                      port,
		googleCloudProject:        v.GetString(keyGoogleCloudProject),
		env:                       env,
	}, nil
}
