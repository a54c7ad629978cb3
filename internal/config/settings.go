// Package config loads incsearch settings. Values are layered as flags,
// then INCSEARCH_* environment variables, then the config file, then
// defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// EnvPrefix prefixes every environment variable, e.g. INCSEARCH_LOG_LEVEL.
const EnvPrefix = "INCSEARCH"

// DebounceSettings holds the orchestrator delays.
type DebounceSettings struct {
	Run     time.Duration `mapstructure:"run"`
	Restart time.Duration `mapstructure:"restart"`
}

// CacheSettings bounds the per-level result cache.
type CacheSettings struct {
	MaxNodes int `mapstructure:"max_nodes"`
}

// EngineSettings tunes file partitioning and scanning.
type EngineSettings struct {
	MaxWorkers      int `mapstructure:"max_workers"`
	GroupSize       int `mapstructure:"group_size"`
	FileConcurrency int `mapstructure:"file_concurrency"`
	ChunkThreshold  int `mapstructure:"chunk_threshold"`
	ChunkSize       int `mapstructure:"chunk_size"`
	ChunkOverlap    int `mapstructure:"chunk_overlap"`
	YieldEvery      int `mapstructure:"yield_every"`
	ProgressEvery   int `mapstructure:"progress_every"`
}

// ReaderSettings configures file reading.
type ReaderSettings struct {
	MmapThreshold    int64 `mapstructure:"mmap_threshold"`
	DocumentCache    int   `mapstructure:"document_cache"`
	FingerprintCache int   `mapstructure:"fingerprint_cache"`
}

// WalkerSettings configures file enumeration.
type WalkerSettings struct {
	Hidden   bool `mapstructure:"hidden"`
	NoIgnore bool `mapstructure:"no_ignore"`
}

// OutputSettings selects the result format.
type OutputSettings struct {
	JSON  bool   `mapstructure:"json"`
	Color string `mapstructure:"color"`
}

// TransformSettings configures the script pool.
type TransformSettings struct {
	Workers int            `mapstructure:"workers"`
	Timeout time.Duration  `mapstructure:"timeout"`
	Config  map[string]any `mapstructure:"config"` // exposed to scripts as `config`
}

// Settings is the full set of tunables.
type Settings struct {
	LogLevel  string            `mapstructure:"log_level"`
	Debounce  DebounceSettings  `mapstructure:"debounce"`
	Cache     CacheSettings     `mapstructure:"cache"`
	Engine    EngineSettings    `mapstructure:"engine"`
	Reader    ReaderSettings    `mapstructure:"reader"`
	Walker    WalkerSettings    `mapstructure:"walker"`
	Output    OutputSettings    `mapstructure:"output"`
	Transform TransformSettings `mapstructure:"transform"`
}

// flagKeys maps command-line flags to setting keys.
var flagKeys = map[string]string{
	"log-level": "log_level",
	"hidden":    "walker.hidden",
	"no-ignore": "walker.no_ignore",
	"json":      "output.json",
	"color":     "output.color",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "warn")

	v.SetDefault("debounce.run", 100*time.Millisecond)
	v.SetDefault("debounce.restart", 50*time.Millisecond)

	v.SetDefault("cache.max_nodes", 20)

	v.SetDefault("engine.max_workers", 4)
	v.SetDefault("engine.group_size", 50)
	v.SetDefault("engine.file_concurrency", 64)
	v.SetDefault("engine.chunk_threshold", 1<<20)
	v.SetDefault("engine.chunk_size", 512<<10)
	v.SetDefault("engine.chunk_overlap", 1<<10)
	v.SetDefault("engine.yield_every", 100)
	v.SetDefault("engine.progress_every", 25)

	v.SetDefault("reader.mmap_threshold", int64(4<<20))
	v.SetDefault("reader.document_cache", 256)
	v.SetDefault("reader.fingerprint_cache", 4096)

	v.SetDefault("walker.hidden", false)
	v.SetDefault("walker.no_ignore", false)

	v.SetDefault("output.json", false)
	v.SetDefault("output.color", ColorAuto)

	v.SetDefault("transform.workers", 2)
	v.SetDefault("transform.timeout", 5*time.Second)
}

// Load resolves the settings. flags may be nil; flags that were not set
// on the command line do not override lower layers.
func Load(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path := FilePath(); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	s.LogLevel = strings.ToLower(strings.TrimSpace(s.LogLevel))
	s.Output.Color = strings.ToLower(strings.TrimSpace(s.Output.Color))
	return &s, nil
}

// FilePath returns the config file location: $INCSEARCH_CONFIG_PATH, or
// ~/.incsearch.yaml. It returns "" when neither can be determined.
func FilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".incsearch.yaml")
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	if _, err := log.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", s.LogLevel)
	}
	switch s.Output.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("invalid output.color %q: want auto, always or never", s.Output.Color)
	}
	if s.Debounce.Run < 0 || s.Debounce.Restart < 0 {
		return errors.New("debounce delays must not be negative")
	}

	positive := []struct {
		key string
		val int64
	}{
		{"cache.max_nodes", int64(s.Cache.MaxNodes)},
		{"engine.max_workers", int64(s.Engine.MaxWorkers)},
		{"engine.group_size", int64(s.Engine.GroupSize)},
		{"engine.file_concurrency", int64(s.Engine.FileConcurrency)},
		{"engine.chunk_threshold", int64(s.Engine.ChunkThreshold)},
		{"engine.chunk_size", int64(s.Engine.ChunkSize)},
		{"engine.chunk_overlap", int64(s.Engine.ChunkOverlap)},
		{"engine.yield_every", int64(s.Engine.YieldEvery)},
		{"engine.progress_every", int64(s.Engine.ProgressEvery)},
		{"reader.mmap_threshold", s.Reader.MmapThreshold},
		{"reader.document_cache", int64(s.Reader.DocumentCache)},
		{"reader.fingerprint_cache", int64(s.Reader.FingerprintCache)},
		{"transform.workers", int64(s.Transform.Workers)},
		{"transform.timeout", int64(s.Transform.Timeout)},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.key, p.val)
		}
	}
	if s.Engine.ChunkOverlap >= s.Engine.ChunkSize {
		return fmt.Errorf("engine.chunk_overlap (%d) must be smaller than engine.chunk_size (%d)", s.Engine.ChunkOverlap, s.Engine.ChunkSize)
	}
	return nil
}

// Level returns the parsed log level. Call Validate first.
func (s *Settings) Level() log.Level {
	lvl, err := log.ParseLevel(s.LogLevel)
	if err != nil {
		return log.WarnLevel
	}
	return lvl
}
