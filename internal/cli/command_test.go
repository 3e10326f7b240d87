package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LouisLau-art/arktrans"
	"github.com/LouisLau-art/arktrans/quota"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestCreateRootCommand(t *testing.T) {
	resetViper(t)
	flags := NewFlags()
	cmd := CreateRootCommand(flags)

	assert.Equal(t, "arktrans", cmd.Use)
	assert.Equal(t, arktrans.Version, cmd.Version)

	for _, name := range []string{"config", "api-key", "verbose", "max-concurrent", "max-rps", "quota-db"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "persistent flag %s", name)
	}

	subs := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subs[sub.Name()] = true
	}
	assert.True(t, subs["md"])
	assert.True(t, subs["serve"])
	assert.True(t, subs["usage"])
}

func TestMdCommand_FlagDefaults(t *testing.T) {
	resetViper(t)
	flags := NewFlags()
	cmd := newMdCommand(flags)

	target := cmd.Flags().Lookup("target-lang")
	require.NotNil(t, target)
	assert.Equal(t, "zh", target.DefValue)

	output := cmd.Flags().Lookup("output")
	require.NotNil(t, output)
	assert.Equal(t, "", output.DefValue)

	recursive := cmd.Flags().Lookup("recursive")
	require.NotNil(t, recursive)
	assert.Equal(t, "false", recursive.DefValue)

	assert.NotNil(t, cmd.Flags().Lookup("source-lang"))
}

func TestServeCommand_FlagDefaults(t *testing.T) {
	resetViper(t)
	flags := NewFlags()
	cmd := newServeCommand(flags)

	host := cmd.Flags().Lookup("host")
	require.NotNil(t, host)
	assert.Equal(t, "0.0.0.0", host.DefValue)

	port := cmd.Flags().Lookup("port")
	require.NotNil(t, port)
	assert.Equal(t, "8000", port.DefValue)

	assert.NotNil(t, cmd.Flags().Lookup("debug"))
}

func TestInitConfig_EnvPrefix(t *testing.T) {
	resetViper(t)
	t.Setenv("ARKTRANS_SOME_SETTING", "from-env")

	InitConfig("")

	assert.Equal(t, "from-env", viper.GetString("some_setting"))
}

func TestBuildConfig_FromEnv(t *testing.T) {
	resetViper(t)
	t.Setenv("ARK_API_KEY", "env-key")
	t.Setenv("MAX_RPS", "3.5")

	cfg, err := buildConfig(NewFlags())
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, 3.5, cfg.MaxRPS)
	assert.Equal(t, arktrans.DefaultMaxConcurrent, cfg.MaxConcurrent)
}

func TestBuildConfig_ConfigFile(t *testing.T) {
	resetViper(t)
	t.Setenv("ARK_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `api_key: file-key
max_rps: 25
models:
  - id: custom-slow
    lane: slow
    rpm: 100
    max_concurrent: 5
    enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	flags := NewFlags()
	flags.CfgFile = path

	cfg, err := buildConfig(flags)
	require.NoError(t, err)

	assert.Equal(t, "file-key", cfg.APIKey)
	assert.Equal(t, 25.0, cfg.MaxRPS)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "custom-slow", cfg.Models[0].ID)
}

func TestBuildConfig_EnvOverridesFile(t *testing.T) {
	resetViper(t)
	t.Setenv("ARK_API_KEY", "env-key")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_key: file-key\n"), 0o644))

	flags := NewFlags()
	flags.CfgFile = path

	cfg, err := buildConfig(flags)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.APIKey)
}

func TestBuildConfig_ViperOverridesEverything(t *testing.T) {
	resetViper(t)
	t.Setenv("ARK_API_KEY", "env-key")
	t.Setenv("MAX_RPS", "3.5")

	// Simulates explicit --api-key and --max-rps flags bound into viper.
	viper.Set("api_key", "flag-key")
	viper.Set("max_rps", 99.0)
	viper.Set("max_concurrent", 7)

	cfg, err := buildConfig(NewFlags())
	require.NoError(t, err)

	assert.Equal(t, "flag-key", cfg.APIKey)
	assert.Equal(t, 99.0, cfg.MaxRPS)
	assert.Equal(t, 7, cfg.MaxConcurrent)
}

func TestNewQuotaTracker_DefaultIsMemory(t *testing.T) {
	resetViper(t)

	tracker, closeFn, err := newQuotaTracker(arktrans.DefaultConfig())
	require.NoError(t, err)
	defer closeFn()

	_, ok := tracker.(*arktrans.MemoryTracker)
	assert.True(t, ok, "expected in-memory tracker, got %T", tracker)
}

func TestNewQuotaTracker_SQLiteWhenConfigured(t *testing.T) {
	resetViper(t)
	viper.Set("quota_db", filepath.Join(t.TempDir(), "quota.db"))

	tracker, closeFn, err := newQuotaTracker(arktrans.DefaultConfig())
	require.NoError(t, err)

	_, ok := tracker.(*quota.SQLiteTracker)
	assert.True(t, ok, "expected SQLite tracker, got %T", tracker)
	assert.NoError(t, closeFn())
}

func TestDefaultOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("docs", "translated"), defaultOutputPath("docs", true))
	assert.Equal(t, "README.md_translated", defaultOutputPath("README.md", false))
}

func TestOutputPathFor(t *testing.T) {
	got := outputPathFor("docs", filepath.Join("docs", "translated"), filepath.Join("docs", "guide", "intro.md"))
	assert.Equal(t, filepath.Join("docs", "translated", "guide", "intro.md"), got)

	got = outputPathFor("docs", "out", filepath.Join("docs", "readme.md"))
	assert.Equal(t, filepath.Join("out", "readme.md"), got)
}

func TestNewLogger_VerboseEnablesDebug(t *testing.T) {
	ctx := context.Background()

	quiet := newLogger(false)
	assert.False(t, quiet.Enabled(ctx, slog.LevelDebug))
	assert.True(t, quiet.Enabled(ctx, slog.LevelInfo))

	verbose := newLogger(true)
	assert.True(t, verbose.Enabled(ctx, slog.LevelDebug))
}
