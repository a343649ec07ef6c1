package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/shop/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	require.NoError(t, err)

	err = os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)
}

func Test_Load_Returns_Defaults_When_No_Files_Exist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := config.Load(config.LoadInput{WorkDir: dir})
	require.NoError(t, err)

	want := config.DefaultConfig()
	want.Env = config.DefaultEnv
	want.DBPathAbs = filepath.Join(dir, ".data")

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func Test_Load_Layers_Files_When_Several_Exist(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, ".env.staging.json"), `{
		// shared staging settings
		"db_path": "/srv/shop",
		"http": {"addr": ":8080"},
		"log": {"level": "debug", "development": true},
		"token_ttl": "30m",
	}`)
	writeFile(t, filepath.Join(dir, ".env.staging.local.json"), `{"http": {"addr": ":9090"}}`)
	writeFile(t, filepath.Join(dir, "extra", "shop.json"), `{"seed_products": false, "log": {"level": "warn"}}`)

	cfg, err := config.Load(config.LoadInput{
		WorkDir:    dir,
		ConfigPath: "extra/shop.json",
		Env:        map[string]string{config.EnvVar: "staging"},
	})
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, "/srv/shop", cfg.DBPathAbs)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Log.Development, "nested keys not set by a later layer are kept")
	assert.Equal(t, config.Duration(30*time.Minute), cfg.TokenTTL)
	assert.False(t, cfg.SeedProducts)
	assert.True(t, cfg.DurableWrites)
	assert.Equal(t, []string{
		filepath.Join(dir, ".env.staging.json"),
		filepath.Join(dir, ".env.staging.local.json"),
		filepath.Join(dir, "extra", "shop.json"),
	}, cfg.Sources)
}

func Test_Load_Ignores_Other_Env_Files_When_Env_Differs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env.production.json"), `{"http": {"addr": ":80"}}`)

	cfg, err := config.Load(config.LoadInput{WorkDir: dir})
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.HTTP.Addr)
	assert.Empty(t, cfg.Sources)
}

func Test_Load_Prefers_Overrides_When_Flags_Are_Given(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env.development.json"), `{"db_path": "from-file", "http": {"addr": ":1"}}`)

	dbPath, addr, level, production := "from-flag", ":2", "error", true

	_, err := config.Load(config.LoadInput{
		WorkDir: dir,
		Env:     map[string]string{},
		Overrides: config.Overrides{
			DBPath:     &dbPath,
			Addr:       &addr,
			Production: &production,
			LogLevel:   &level,
		},
	})
	require.ErrorIs(t, err, config.ErrSecretRequired)

	writeFile(t, filepath.Join(dir, ".env.development.local.json"), `{"secret": "s3cret"}`)

	cfg, err := config.Load(config.LoadInput{
		WorkDir: dir,
		Overrides: config.Overrides{
			DBPath:     &dbPath,
			Addr:       &addr,
			Production: &production,
			LogLevel:   &level,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "from-flag"), cfg.DBPathAbs)
	assert.Equal(t, ":2", cfg.HTTP.Addr)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.True(t, cfg.Production)
	assert.Equal(t, "s3cret", cfg.Secret)
}

func Test_Load_Returns_Error_When_Config_Is_Bad(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		content string
		wantErr error
	}{
		{name: "syntax", file: ".env.development.json", content: `{"db_path": `, wantErr: config.ErrConfigInvalid},
		{name: "wrong type", file: ".env.development.json", content: `{"production": "yes"}`, wantErr: config.ErrConfigInvalid},
		{name: "empty db path", file: ".env.development.json", content: `{"db_path": ""}`, wantErr: config.ErrDBPathEmpty},
		{name: "empty addr", file: ".env.development.local.json", content: `{"http": {"addr": ""}}`, wantErr: config.ErrAddrEmpty},
		{name: "bad duration", file: ".env.development.json", content: `{"token_ttl": "soon"}`, wantErr: config.ErrConfigInvalid},
		{name: "negative duration", file: ".env.development.json", content: `{"token_ttl": "-1m"}`, wantErr: config.ErrTokenTTL},
		{name: "log level", file: ".env.development.json", content: `{"log": {"level": "loud"}}`, wantErr: config.ErrLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, tt.file), tt.content)

			_, err := config.Load(config.LoadInput{WorkDir: dir})
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func Test_Load_Returns_Error_When_Explicit_File_Is_Missing(t *testing.T) {
	t.Parallel()

	_, err := config.Load(config.LoadInput{WorkDir: t.TempDir(), ConfigPath: "nope.json"})
	require.ErrorIs(t, err, config.ErrConfigFileNotFound)
	assert.Contains(t, err.Error(), "nope.json")
}

func Test_Duration_Marshals_As_String(t *testing.T) {
	t.Parallel()

	data, err := config.Duration(90 * time.Minute).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"1h30m0s"`, string(data))
}
