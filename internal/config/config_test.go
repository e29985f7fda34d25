package config_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/Amund211/raidlog/internal/config"
	"github.com/stretchr/testify/require"
)

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

var requiredOutsideDevelopment = []string{"CLOUDSQL_UNIX_SOCKET", "DB_PASSWORD", "DB_USERNAME", "SENTRY_DSN"}

func TestGetConfig(t *testing.T) {
	compareConfig := func(socketPath, username, password, sentryDSN string, env environment, conf config.Config) {
		t.Helper()
		require.Equal(t, socketPath, conf.CloudSQLUnixSocketPath())
		require.Equal(t, username, conf.DBUsername())
		require.Equal(t, password, conf.DBPassword())
		require.Equal(t, sentryDSN, conf.SentryDSN())
		require.Equal(t, env == production, conf.IsProduction())
		require.Equal(t, env == staging, conf.IsStaging())
		require.Equal(t, env == development, conf.IsDevelopment())
	}

	t.Run("ensure base environment is clean", func(t *testing.T) {
		t.Run("environment is missing", func(t *testing.T) {
			// RAIDLOG_ENVIRONMENT is required, so this should fail
			_, err := config.ConfigFromEnv()
			require.ErrorIs(t, err, config.ErrMissingRequiredValue)
		})

		t.Run("development environment uses defaults", func(t *testing.T) {
			t.Setenv("RAIDLOG_ENVIRONMENT", "development")

			conf, err := config.ConfigFromEnv()
			require.NoError(t, err)
			compareConfig("", "", "", "", development, conf)

			require.Empty(t, conf.SourceTokens())
			require.Equal(t, runtime.NumCPU(), conf.DetailWorkers())
			require.Equal(t, 30*time.Second, conf.DetailTimeout())
			require.Equal(t, 40, conf.ProviderRequestsPerMinute())
			require.Equal(t, 10, conf.OnDemandRequestsPerMinute())
			require.Equal(t, 30, conf.ImportRequestsPerMinute())
			require.Equal(t, "8123", conf.Port())
			require.Equal(t, "", conf.GoogleCloudProject())
		})
	})

	t.Run("values are read correctly", func(t *testing.T) {
		for _, variable := range requiredOutsideDevelopment {
			t.Setenv(variable, variable)
		}
		t.Setenv("SOURCE_TOKENS", " token-a,token-b,, token-a ")
		t.Setenv("DETAIL_WORKERS", "3")
		t.Setenv("DETAIL_TIMEOUT", "5s")
		t.Setenv("PROVIDER_REQUESTS_PER_MINUTE", "12")
		t.Setenv("ON_DEMAND_REQUESTS_PER_MINUTE", "4")
		t.Setenv("PORT", "9000")
		t.Setenv("GOOGLE_CLOUD_PROJECT", "my-project")

		for _, env := range []environment{production, staging, development} {
			t.Run(string(env), func(t *testing.T) {
				t.Setenv("RAIDLOG_ENVIRONMENT", string(env))

				conf, err := config.ConfigFromEnv()
				require.NoError(t, err)
				compareConfig("CLOUDSQL_UNIX_SOCKET", "DB_USERNAME", "DB_PASSWORD", "SENTRY_DSN", env, conf)

				require.Equal(t, []string{"token-a", "token-b"}, conf.SourceTokens())
				require.Equal(t, 3, conf.DetailWorkers())
				require.Equal(t, 5*time.Second, conf.DetailTimeout())
				require.Equal(t, 12, conf.ProviderRequestsPerMinute())
				require.Equal(t, 4, conf.OnDemandRequestsPerMinute())
				require.Equal(t, 8, conf.ImportRequestsPerMinute())
				require.Equal(t, "9000", conf.Port())
				require.Equal(t, "my-project", conf.GoogleCloudProject())
			})
		}
	})

	t.Run("production and staging fail when missing variables", func(t *testing.T) {
		// Set all variables
		for _, variable := range requiredOutsideDevelopment {
			t.Setenv(variable, "placeholder_value")
		}

		for _, env := range []environment{production, staging} {
			t.Run(string(env), func(t *testing.T) {
				t.Setenv("RAIDLOG_ENVIRONMENT", string(env))

				for _, variable := range requiredOutsideDevelopment {
					t.Run(variable, func(t *testing.T) {
						t.Setenv(variable, "")

						_, err := config.ConfigFromEnv()
						require.ErrorIs(t, err, config.ErrMissingRequiredValue)
					})
				}
			})
		}
	})

	t.Run("invalid environment", func(t *testing.T) {
		for _, env := range []string{"invalid", "my-env", "Production"} {
			t.Run(env, func(t *testing.T) {
				t.Setenv("RAIDLOG_ENVIRONMENT", env)
				_, err := config.ConfigFromEnv()
				require.ErrorIs(t, err, config.ErrInvalidValue)
			})
		}
	})

	t.Run("invalid numeric values", func(t *testing.T) {
		for _, tc := range []struct {
			variable string
			value    string
		}{
			{variable: "DETAIL_WORKERS", value: "0"},
			{variable: "DETAIL_WORKERS", value: "-1"},
			{variable: "DETAIL_WORKERS", value: "many"},
			{variable: "DETAIL_TIMEOUT", value: "30"},
			{variable: "DETAIL_TIMEOUT", value: "-5s"},
			{variable: "PROVIDER_REQUESTS_PER_MINUTE", value: "0"},
			{variable: "ON_DEMAND_REQUESTS_PER_MINUTE", value: "0"},
			// Leaves nothing for the importer
			{variable: "ON_DEMAND_REQUESTS_PER_MINUTE", value: "40"},
			{variable: "PROVIDER_REQUESTS_PER_MINUTE", value: "10"},
			{variable: "PORT", value: "http"},
			{variable: "PORT", value: "70000"},
		} {
			t.Run(tc.variable+"="+tc.value, func(t *testing.T) {
				t.Setenv("RAIDLOG_ENVIRONMENT", "development")
				t.Setenv(tc.variable, tc.value)

				_, err := config.ConfigFromEnv()
				require.ErrorIs(t, err, config.ErrInvalidValue)
			})
		}
	})
}
