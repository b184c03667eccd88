package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfigFileName is looked up in the working directory when no explicit
// config file is given.
const ConfigFileName = ".nodeprep.yaml"

// Cache backends
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// ErrInvalidConfig indicates a configuration value that cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// Settings is the fully resolved configuration for one invocation.
type Settings struct {
	Checkout         bool          `mapstructure:"checkout"`
	Production       bool          `mapstructure:"production"`
	WorkingDirectory string        `mapstructure:"working-directory"`
	VersionFile      string        `mapstructure:"version-file"`
	Platform         string        `mapstructure:"platform"`
	Timeout          time.Duration `mapstructure:"timeout"`
	NpmPath          string        `mapstructure:"npm-path"`
	LockfilePatterns []string      `mapstructure:"lockfile-patterns"`
	Cache            CacheConfig   `mapstructure:"cache"`
	Log              LogConfig     `mapstructure:"log"`
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	Backend string   `mapstructure:"backend"`
	Dir     string   `mapstructure:"dir"`
	S3      S3Config `mapstructure:"s3"`
}

// S3Config locates the remote cache bucket.
type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// LogConfig controls log level, format and the optional rotating file sink.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max-size"`
	MaxBackups int    `mapstructure:"max-backups"`
	Compress   bool   `mapstructure:"compress"`
}

// LoadOptions tells Load where to look.
type LoadOptions struct {
	// ConfigFile is an explicit config file; it must exist when set
	ConfigFile string

	// Flags are bound on top of every other source; only changed flags win
	Flags *pflag.FlagSet

	// Paths supplies the default cache directory
	Paths *Paths
}

// keys lists every setting with the environment variables bound to it, in
// priority order. Action inputs come first, then NODEPREP_*.
var keys = []struct {
	key  string
	envs []string
}{
	{"checkout", []string{"INPUT_CHECKOUT", "NODEPREP_CHECKOUT"}},
	{"production", []string{"INPUT_PRODUCTION", "NODEPREP_PRODUCTION"}},
	{"working-directory", []string{"INPUT_WORKING-DIRECTORY", "INPUT_WORKING_DIRECTORY", "NODEPREP_WORKING_DIRECTORY"}},
	{"version-file", []string{"INPUT_VERSION-FILE", "INPUT_VERSION_FILE", "NODEPREP_VERSION_FILE"}},
	{"platform", []string{"NODEPREP_PLATFORM"}},
	{"timeout", []string{"INPUT_TIMEOUT", "NODEPREP_TIMEOUT"}},
	{"npm-path", []string{"NODEPREP_NPM_PATH"}},
	{"lockfile-patterns", []string{"NODEPREP_LOCKFILE_PATTERNS"}},
	{"cache.backend", []string{"NODEPREP_CACHE_BACKEND"}},
	{"cache.dir", []string{"NODEPREP_CACHE_DIR"}},
	{"cache.s3.bucket", []string{"NODEPREP_CACHE_S3_BUCKET"}},
	{"cache.s3.prefix", []string{"NODEPREP_CACHE_S3_PREFIX"}},
	{"cache.s3.region", []string{"NODEPREP_CACHE_S3_REGION"}},
	{"cache.s3.endpoint", []string{"NODEPREP_CACHE_S3_ENDPOINT"}},
	{"log.level", []string{"NODEPREP_LOG_LEVEL"}},
	{"log.format", []string{"NODEPREP_LOG_FORMAT"}},
	{"log.file", []string{"NODEPREP_LOG_FILE"}},
	{"log.max-size", []string{"NODEPREP_LOG_MAX_SIZE"}},
	{"log.max-backups", []string{"NODEPREP_LOG_MAX_BACKUPS"}},
	{"log.compress", []string{"NODEPREP_LOG_COMPRESS"}},
}

// flagKeys maps CLI flag names to setting keys.
var flagKeys = map[string]string{
	"checkout":          "checkout",
	"production":        "production",
	"working-directory": "working-directory",
	"version-file":      "version-file",
	"platform":          "platform",
	"timeout":           "timeout",
	"npm-path":          "npm-path",
	"cache-backend":     "cache.backend",
	"cache-dir":         "cache.dir",
	"log-level":         "log.level",
	"log-format":        "log.format",
}

// Load resolves settings from, highest first: changed flags, INPUT_* and
// NODEPREP_* environment variables, the config file, defaults.
func Load(opts LoadOptions) (*Settings, error) {
	v := viper.New()
	setDefaults(v, opts.Paths)

	for _, k := range keys {
		args := append([]string{k.key}, k.envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", k.key, err)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return nil, err
	}

	var s Settings
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&s, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s.applyDefaults()
	if opts.Paths != nil {
		s.Log.File = opts.Paths.LogFile(s.Log.File)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func setDefaults(v *viper.Viper, paths *Paths) {
	v.SetDefault("checkout", true)
	v.SetDefault("production", false)
	v.SetDefault("working-directory", ".")
	v.SetDefault("version-file", ".nvmrc")
	v.SetDefault("platform", "")
	v.SetDefault("timeout", "0s")
	v.SetDefault("npm-path", "npm")
	v.SetDefault("lockfile-patterns", []string{})
	v.SetDefault("cache.backend", BackendLocal)
	if paths != nil {
		v.SetDefault("cache.dir", paths.Cache)
	} else {
		v.SetDefault("cache.dir", "")
	}
	v.SetDefault("cache.s3.bucket", "")
	v.SetDefault("cache.s3.prefix", "nodeprep/")
	v.SetDefault("cache.s3.region", "")
	v.SetDefault("cache.s3.endpoint", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max-size", 50)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.compress", true)
}

// readConfigFile reads an explicit file, or .nodeprep.yaml from the working
// directory when present.
func readConfigFile(v *viper.Viper, explicit string) error {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", explicit, err)
		}
		return nil
	}

	candidate := filepath.Join(v.GetString("working-directory"), ConfigFileName)
	if _, err := os.Stat(candidate); err != nil {
		return nil
	}
	v.SetConfigFile(candidate)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", candidate, err)
	}
	return nil
}

func (s *Settings) applyDefaults() {
	if strings.TrimSpace(s.Platform) == "" {
		s.Platform = DefaultPlatform()
	}
	s.Cache.Backend = strings.ToLower(strings.TrimSpace(s.Cache.Backend))
	s.Log.Format = strings.ToLower(strings.TrimSpace(s.Log.Format))

	patterns := s.LockfilePatterns[:0]
	for _, p := range s.LockfilePatterns {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	s.LockfilePatterns = patterns
}

// Validate rejects settings that cannot produce a working run.
func (s *Settings) Validate() error {
	switch s.Cache.Backend {
	case BackendLocal:
		if s.Cache.Dir == "" {
			return fmt.Errorf("%w: cache.dir is required for the local backend", ErrInvalidConfig)
		}
	case BackendS3:
		if s.Cache.S3.Bucket == "" {
			return fmt.Errorf("%w: cache.s3.bucket is required for the s3 backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, s.Cache.Backend)
	}

	if s.Timeout < 0 {
		return fmt.Errorf("%w: timeout cannot be negative", ErrInvalidConfig)
	}
	if s.VersionFile == "" {
		return fmt.Errorf("%w: version-file cannot be empty", ErrInvalidConfig)
	}
	if _, err := logrus.ParseLevel(s.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if s.Log.Format != "text" && s.Log.Format != "json" {
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalidConfig, s.Log.Format)
	}
	return nil
}

// DefaultPlatform names the runner OS the way the cache key expects it:
// RUNNER_OS lower-cased when running in Actions, else GOOS.
func DefaultPlatform() string {
	if runnerOS := strings.TrimSpace(os.Getenv("RUNNER_OS")); runnerOS != "" {
		return strings.ToLower(runnerOS)
	}
	return runtime.GOOS
}

// durationDecodeHook accepts Go duration strings and bare numbers of seconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	target := reflect.TypeOf(time.Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				return time.Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return parsed, nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return time.Duration(seconds * float64(time.Second)), nil
			}
			return nil, fmt.Errorf("cannot parse duration %q", v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case time.Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type %T", v)
		}
	}
}
