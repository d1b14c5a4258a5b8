package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
database:
  driver: postgres
  dsn: postgres://localhost/sync?sslmode=disable
  channel: custom_changes
logging:
  level: debug
  format: text
metrics:
  enabled: false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/sync?sslmode=disable", cfg.Database.DSN)
	assert.Equal(t, "custom_changes", cfg.Database.Channel)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "listen: \":3000\"\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Listen)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		wantErr  string
	}{
		{
			name:     "unknown driver",
			contents: "database:\n  driver: etcd\n",
			wantErr:  "unknown database driver",
		},
		{
			name:     "postgres without dsn",
			contents: "database:\n  driver: postgres\n",
			wantErr:  "database.dsn is required",
		},
		{
			name:     "empty listen",
			contents: "listen: \"\"\n",
			wantErr:  "listen address cannot be empty",
		},
		{
			name:     "malformed yaml",
			contents: "listen: [unterminated\n",
			wantErr:  "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.contents))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestNewRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["demo"])
	assert.True(t, names["version"])
}
