package protocodec

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/anirudhraja/protocodec/pipe"
	"github.com/anirudhraja/protocodec/wire"
)

// EnvLogLevel overrides the configured log level.
const EnvLogLevel = "PROTOCODEC_LOG_LEVEL"

// Config is the resolved file configuration of a codec.
type Config struct {
	Codec  wire.Options
	Pipe   pipe.Limits
	Log    LogConfig
	Schema SchemaConfig
}

// LogConfig selects the console logger.
type LogConfig struct {
	Level zerolog.Level
	App   string
}

// SchemaConfig lists the schemas to load at startup.
type SchemaConfig struct {
	// Paths are .proto files or directories passed to LoadSchema.
	Paths []string
	// ImportDirs are extra roots for resolving imports.
	ImportDirs []string
}

type fileConfig struct {
	Codec struct {
		MaxMessageSize   int  `toml:"max_message_size"`
		MaxDepth         int  `toml:"max_depth"`
		StrictEnums      bool `toml:"strict_enums"`
		LossyUTF8        bool `toml:"lossy_utf8"`
		PopulateDefaults bool `toml:"populate_defaults"`
		PreserveUnknown  bool `toml:"preserve_unknown"`
	} `toml:"codec"`
	Pipe struct {
		MaxFrameSize int `toml:"max_frame_size"`
	} `toml:"pipe"`
	Log struct {
		Level string `toml:"level"`
		App   string `toml:"app"`
	} `toml:"log"`
	Schema struct {
		Paths      []string `toml:"paths"`
		ImportDirs []string `toml:"import_dirs"`
	} `toml:"schema"`
}

// DefaultConfig returns the library defaults with environment overrides
// applied.
func DefaultConfig() Config {
	cfg := Config{
		Codec: wire.DefaultOptions(),
		Pipe:  pipe.DefaultLimits(),
		Log:   LogConfig{Level: zerolog.InfoLevel, App: "protocodec"},
	}
	applyLogEnv(&cfg.Log)
	return cfg
}

// LoadConfig reads a TOML file over DefaultConfig. Keys absent from the file
// keep their defaults, and environment variables override the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("codec", "max_message_size") {
		cfg.Codec.MaxMessageSize = raw.Codec.MaxMessageSize
	}
	if meta.IsDefined("codec", "max_depth") {
		cfg.Codec.MaxDepth = raw.Codec.MaxDepth
	}
	if meta.IsDefined("codec", "strict_enums") {
		cfg.Codec.UnknownEnums = wire.EnumPassThrough
		if raw.Codec.StrictEnums {
			cfg.Codec.UnknownEnums = wire.EnumFail
		}
	}
	if meta.IsDefined("codec", "lossy_utf8") {
		cfg.Codec.UTF8 = wire.UTF8Strict
		if raw.Codec.LossyUTF8 {
			cfg.Codec.UTF8 = wire.UTF8Replace
		}
	}
	if meta.IsDefined("codec", "populate_defaults") {
		cfg.Codec.PopulateDefaults = raw.Codec.PopulateDefaults
	}
	if meta.IsDefined("codec", "preserve_unknown") {
		cfg.Codec.PreserveUnknown = raw.Codec.PreserveUnknown
	}
	if meta.IsDefined("pipe", "max_frame_size") {
		cfg.Pipe.MaxMessageSize = raw.Pipe.MaxFrameSize
	}
	if meta.IsDefined("log", "level") {
		level, err := zerolog.ParseLevel(strings.TrimSpace(raw.Log.Level))
		if err != nil {
			return Config{}, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Log.Level = level
	}
	if meta.IsDefined("log", "app") {
		cfg.Log.App = strings.TrimSpace(raw.Log.App)
	}
	cfg.Schema.Paths = normalizePaths(raw.Schema.Paths)
	cfg.Schema.ImportDirs = normalizePaths(raw.Schema.ImportDirs)

	wire.ApplyEnv(&cfg.Codec)
	applyLogEnv(&cfg.Log)

	if err := ValidateConfig(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ValidateConfig checks limits for values the codec cannot run with.
func ValidateConfig(cfg Config) error {
	if cfg.Codec.MaxMessageSize <= 0 {
		return fmt.Errorf("codec.max_message_size must be positive")
	}
	if cfg.Codec.MaxDepth <= 0 {
		return fmt.Errorf("codec.max_depth must be positive")
	}
	if cfg.Pipe.MaxMessageSize <= 0 {
		return fmt.Errorf("pipe.max_frame_size must be positive")
	}
	if strings.TrimSpace(cfg.Log.App) == "" {
		return fmt.Errorf("log.app must not be empty")
	}
	return nil
}

// Options converts the configuration into Codec options. logger is shared
// by every component.
func (c Config) Options(logger zerolog.Logger) []Option {
	return []Option{
		WithOptions(c.Codec),
		WithLimits(c.Pipe),
		WithLogger(logger),
		WithProtoDirectories(c.Schema.ImportDirs...),
	}
}

// Logger builds the console logger described by the configuration.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	return newLogger(c.Log.App, c.Log.Level, w)
}

// NewLogger returns a console logger writing to w, or to stdout when w is nil.
func NewLogger(level zerolog.Level, w io.Writer) zerolog.Logger {
	return newLogger("protocodec", level, w)
}

func newLogger(app string, level zerolog.Level, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", app).Logger()
}

func applyLogEnv(cfg *LogConfig) {
	raw := strings.TrimSpace(os.Getenv(EnvLogLevel))
	if raw == "" {
		return
	}
	if level, err := zerolog.ParseLevel(raw); err == nil {
		cfg.Level = level
	}
}

func normalizePaths(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, p := range in {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
