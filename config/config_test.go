package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cloudsweep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
profile: audit
organization_role: OrgReader
runner_role: SweepRunner
accounts:
  - "222222222222"
regions:
  - us-east-1
  - eu-west-1
scanners:
  - ebs-volumes
  - elastic-ips
max_workers: 8
days_threshold: 30

log:
  level: debug

metrics:
  enabled: true

confluence:
  enabled: true
  base_url: https://example.atlassian.net/wiki
  username: bot@example.com
  api_token: secret
  space_key: OPS
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "audit", cfg.Profile)
	assert.Equal(t, []string{"222222222222"}, cfg.Accounts)
	assert.Equal(t, []string{"us-east-1", "eu-west-1"}, cfg.Regions)
	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, 30, cfg.DaysThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)

	// Unset fields keep their defaults.
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "cloudsweep-report.html", cfg.Report.Output)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_TokenFromEnvironment(t *testing.T) {
	t.Setenv("CONFLUENCE_API_TOKEN", "from-env")
	path := writeConfig(t, `
confluence:
  enabled: true
  base_url: https://example.atlassian.net/wiki
  username: bot@example.com
  space_key: OPS
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Confluence.APIToken)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "negative threshold",
			mutate:  func(c *Config) { c.DaysThreshold = -1 },
			wantErr: "days_threshold",
		},
		{
			name:    "negative workers",
			mutate:  func(c *Config) { c.MaxWorkers = -4 },
			wantErr: "max_workers",
		},
		{
			name:    "otel enabled without endpoint",
			mutate:  func(c *Config) { c.OTEL.Enabled = true },
			wantErr: "otel.endpoint",
		},
		{
			name: "confluence enabled without token",
			mutate: func(c *Config) {
				c.Confluence = Confluence{
					Enabled:  true,
					BaseURL:  "https://example.atlassian.net/wiki",
					Username: "bot@example.com",
					SpaceKey: "OPS",
				}
			},
			wantErr: "api token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
