// Package config loads fieldlogic settings using Viper from an optional
// YAML file and FIELDLOGIC_ environment variables, and maps them onto
// engine options and the process logger.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/roach88/fieldlogic/internal/engine"
	"github.com/roach88/fieldlogic/internal/validation"
)

// EnvPrefix prefixes environment overrides: FIELDLOGIC_ENGINE_MAX_ITERATIONS.
const EnvPrefix = "FIELDLOGIC"

// DefaultFile is looked up in the working directory when no file is named.
const DefaultFile = "fieldlogic"

type Settings struct {
	Engine     EngineSettings     `mapstructure:"engine"`
	Validation ValidationSettings `mapstructure:"validation"`
	Log        LogSettings        `mapstructure:"log"`
	Server     ServerSettings     `mapstructure:"server"`
	Journal    JournalSettings    `mapstructure:"journal"`
}

type EngineSettings struct {
	MaxIterations int     `mapstructure:"max_iterations"`
	Epsilon       float64 `mapstructure:"epsilon"`
}

type ValidationSettings struct {
	AsyncTimeout time.Duration `mapstructure:"async_timeout"`
	// HTTPRate is the http validator request rate per second. Zero
	// disables limiting.
	HTTPRate  float64 `mapstructure:"http_rate"`
	HTTPBurst int     `mapstructure:"http_burst"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerSettings struct {
	Addr string `mapstructure:"addr"`
}

// JournalSettings names the SQLite journal. An empty path disables it.
type JournalSettings struct {
	Path string `mapstructure:"path"`
}

// New returns a Viper instance with defaults and environment overrides
// registered.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("engine.max_iterations", engine.DefaultMaxIterations)
	v.SetDefault("engine.epsilon", engine.DefaultEpsilon)
	v.SetDefault("validation.async_timeout", engine.DefaultAsyncTimeout)
	v.SetDefault("validation.http_rate", 10.0)
	v.SetDefault("validation.http_burst", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("journal.path", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads settings into v and decodes them. When file is empty,
// fieldlogic.yaml in the working directory is used if present.
func Load(v *viper.Viper, file string) (*Settings, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(DefaultFile)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	if s.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine.max_iterations must be positive, got %d", s.Engine.MaxIterations)
	}
	if s.Engine.Epsilon < 0 {
		return fmt.Errorf("engine.epsilon must not be negative, got %g", s.Engine.Epsilon)
	}
	if s.Validation.AsyncTimeout < 0 {
		return fmt.Errorf("validation.async_timeout must not be negative, got %s", s.Validation.AsyncTimeout)
	}
	if s.Validation.HTTPRate < 0 {
		return fmt.Errorf("validation.http_rate must not be negative, got %g", s.Validation.HTTPRate)
	}
	if _, err := parseLevel(s.Log.Level); err != nil {
		return err
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", s.Log.Format)
	}
	return nil
}

// EngineOptions maps the settings onto engine options.
func (s *Settings) EngineOptions() []engine.EngineOption {
	return []engine.EngineOption{
		engine.WithMaxIterations(s.Engine.MaxIterations),
		engine.WithEpsilon(s.Engine.Epsilon),
		engine.WithAsyncTimeout(s.Validation.AsyncTimeout),
		engine.WithHTTPClient(validation.NewHTTPClient(http.DefaultClient, s.Validation.HTTPRate, s.Validation.HTTPBurst)),
	}
}

// Logger builds the process logger. verbose forces debug level.
func (s *Settings) Logger(w io.Writer, verbose bool) *slog.Logger {
	level, _ := parseLevel(s.Log.Level)
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if s.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
