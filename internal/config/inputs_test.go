package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment (for
// example a CI runner) cannot leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		for _, env := range k.envs {
			t.Setenv(env, "")
		}
	}
	t.Setenv("RUNNER_OS", "")
}

func testPaths(t *testing.T) *Paths {
	t.Helper()
	root := t.TempDir()
	return &Paths{Root: root, Cache: filepath.Join(root, "cache"), Logs: filepath.Join(root, "logs")}
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Bool("checkout", true, "")
	fs.Bool("production", false, "")
	fs.String("working-directory", ".", "")
	fs.String("version-file", ".nvmrc", "")
	fs.Duration("timeout", 0, "")
	fs.String("cache-backend", "local", "")
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	paths := testPaths(t)

	s, err := Load(LoadOptions{Paths: paths, Flags: testFlags()})
	require.NoError(t, err)

	assert.True(t, s.Checkout)
	assert.False(t, s.Production)
	assert.Equal(t, ".nvmrc", s.VersionFile)
	assert.Equal(t, runtime.GOOS, s.Platform)
	assert.Equal(t, time.Duration(0), s.Timeout)
	assert.Equal(t, "npm", s.NpmPath)
	assert.Empty(t, s.LockfilePatterns)
	assert.Equal(t, BackendLocal, s.Cache.Backend)
	assert.Equal(t, paths.Cache, s.Cache.Dir)
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, "text", s.Log.Format)
}

func TestLoad_ActionInputs(t *testing.T) {
	tests := []struct {
		name           string
		checkout       string
		production     string
		wantCheckout   bool
		wantProduction bool
	}{
		{"string true/false", "false", "true", false, true},
		{"numeric booleans", "0", "1", false, true},
		{"upper case", "FALSE", "TRUE", false, true},
		{"empty keeps defaults", "", "", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("INPUT_CHECKOUT", tt.checkout)
			t.Setenv("INPUT_PRODUCTION", tt.production)

			s, err := Load(LoadOptions{Paths: testPaths(t)})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCheckout, s.Checkout)
			assert.Equal(t, tt.wantProduction, s.Production)
		})
	}
}

func TestLoad_UnrecognisedInputsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("INPUT_NODE-VERSION", "20")
	t.Setenv("INPUT_SOMETHING_ELSE", "whatever")

	_, err := Load(LoadOptions{Paths: testPaths(t)})
	assert.NoError(t, err)
}

func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`
production: true
timeout: 90
log:
  level: debug
cache:
  s3:
    prefix: from-file/
`), 0o644))

	t.Setenv("NODEPREP_WORKING_DIRECTORY", dir)
	t.Setenv("NODEPREP_PRODUCTION", "false")
	t.Setenv("INPUT_PRODUCTION", "true")
	t.Setenv("NODEPREP_LOG_LEVEL", "warn")

	flags := testFlags()
	require.NoError(t, flags.Set("timeout", "2m"))

	s, err := Load(LoadOptions{Paths: testPaths(t), Flags: flags})
	require.NoError(t, err)

	assert.True(t, s.Production, "INPUT_* wins over NODEPREP_*")
	assert.Equal(t, 2*time.Minute, s.Timeout, "changed flag wins over file")
	assert.Equal(t, "warn", s.Log.Level, "env wins over file")
	assert.Equal(t, "from-file/", s.Cache.S3.Prefix, "file wins over default")
}

func TestLoad_ConfigFileValues(t *testing.T) {
	clearEnv(t)
	file := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
platform: Linux
timeout: 10m
lockfile-patterns:
  - apps/**/package-lock.json
cache:
  backend: S3
  s3:
    bucket: ci-cache
    region: eu-west-1
log:
  format: JSON
  file: nodeprep.log
`), 0o644))

	paths := testPaths(t)
	s, err := Load(LoadOptions{Paths: paths, ConfigFile: file})
	require.NoError(t, err)

	assert.Equal(t, "Linux", s.Platform)
	assert.Equal(t, 10*time.Minute, s.Timeout)
	assert.Equal(t, []string{"apps/**/package-lock.json"}, s.LockfilePatterns)
	assert.Equal(t, BackendS3, s.Cache.Backend)
	assert.Equal(t, "ci-cache", s.Cache.S3.Bucket)
	assert.Equal(t, "eu-west-1", s.Cache.S3.Region)
	assert.Equal(t, "json", s.Log.Format)
	assert.Equal(t, filepath.Join(paths.Logs, "nodeprep.log"), s.Log.File)
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(LoadOptions{Paths: testPaths(t), ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestLoad_LockfilePatternsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("NODEPREP_LOCKFILE_PATTERNS", "a/package-lock.json, b/**/package-lock.json")

	s, err := Load(LoadOptions{Paths: testPaths(t)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/package-lock.json", "b/**/package-lock.json"}, s.LockfilePatterns)
}

func TestLoad_PlatformFromRunner(t *testing.T) {
	clearEnv(t)
	t.Setenv("RUNNER_OS", "macOS")

	s, err := Load(LoadOptions{Paths: testPaths(t)})
	require.NoError(t, err)
	assert.Equal(t, "macos", s.Platform)
}

func TestSettings_Validate(t *testing.T) {
	valid := func() Settings {
		return Settings{
			VersionFile: ".nvmrc",
			Cache:       CacheConfig{Backend: BackendLocal, Dir: "/tmp/cache"},
			Log:         LogConfig{Level: "info", Format: "text"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr bool
	}{
		{"valid local", func(s *Settings) {}, false},
		{"valid s3", func(s *Settings) { s.Cache.Backend = BackendS3; s.Cache.S3.Bucket = "b" }, false},
		{"unknown backend", func(s *Settings) { s.Cache.Backend = "gcs" }, true},
		{"s3 without bucket", func(s *Settings) { s.Cache.Backend = BackendS3 }, true},
		{"local without dir", func(s *Settings) { s.Cache.Dir = "" }, true},
		{"negative timeout", func(s *Settings) { s.Timeout = -time.Second }, true},
		{"bad log level", func(s *Settings) { s.Log.Level = "loud" }, true},
		{"bad log format", func(s *Settings) { s.Log.Format = "xml" }, true},
		{"empty version file", func(s *Settings) { s.VersionFile = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
