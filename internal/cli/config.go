package cli

import (
	"bytes"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/njchilds90/goautogen"
)

// Config holds everything a command needs besides its arguments.
type Config struct {
	Dialect        autogen.Dialect `yaml:"dialect"`
	ScalarType     string          `yaml:"scalar_type"`
	OutDir         string          `yaml:"out_dir"`
	Unit           string          `yaml:"unit"` // namespace or package of generated files
	LogLevel       string          `yaml:"log_level"`
	LogFormat      string          `yaml:"log_format"`
	CollisionCheck bool            `yaml:"collision_check"`
}

// DefaultConfig is used for every field neither the file nor a flag sets.
func DefaultConfig() Config {
	return Config{
		Dialect:   autogen.CXX,
		LogLevel:  "warn",
		LogFormat: "text",
	}
}

// LoadConfig reads a YAML config over the defaults. Unknown keys are
// rejected so that typos do not pass silently.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "failed to read config")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, errors.Wrapf(err, "failed to decode config %s", path)
	}
	return cfg, nil
}

// NewConfig validates cfg.
func NewConfig(cfg Config) (*Config, error) {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}
	if cfg.ScalarType != "" && !autogen.IsIdentifier(cfg.ScalarType) {
		return nil, errors.Errorf("invalid scalar-type %q", cfg.ScalarType)
	}
	if cfg.Unit != "" && (!autogen.IsIdentifier(cfg.Unit) || autogen.Reserved(cfg.Unit)) {
		return nil, errors.Errorf("invalid unit name %q", cfg.Unit)
	}
	return &cfg, nil
}

// Options turns the config into generator options.
func (cfg *Config) Options() []autogen.Option {
	opts := []autogen.Option{
		autogen.WithDialect(cfg.Dialect),
		autogen.WithCollisionCheck(cfg.CollisionCheck),
	}
	if cfg.ScalarType != "" {
		opts = append(opts, autogen.WithScalarType(cfg.ScalarType))
	}
	return opts
}

func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}
	return slog.New(handler)
}
