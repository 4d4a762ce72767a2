package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/dmitrijs2005/donorsync/internal/flagx"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	DefaultEnvPrefix  = "DONORSYNC_"
	DefaultDotEnvFile = ".env"
)

type loader struct {
	k         *koanf.Koanf
	envPrefix string
	dotEnv    string
	args      []string
}

type Option func(*loader)

func WithEnvPrefix(prefix string) Option {
	return func(l *loader) { l.envPrefix = prefix }
}

// WithDotEnv sets the .env file read before the environment; "" disables it.
func WithDotEnv(path string) Option {
	return func(l *loader) { l.dotEnv = path }
}

// WithArgs sets the command-line arguments, without the program name.
func WithArgs(args []string) Option {
	return func(l *loader) { l.args = args }
}

// Load builds a Config from defaults, the config file given with -c/-config,
// the .env file and environment, and command-line flags. Later sources take
// precedence over earlier ones.
func Load(opts ...Option) (*Config, error) {
	l := &loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
		dotEnv:    DefaultDotEnvFile,
		args:      os.Args[1:],
	}
	for _, opt := range opts {
		opt(l)
	}

	var defaults Config
	defaults.LoadDefaults()
	if err := l.k.Load(mapProvider(defaults.toMap()), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := flagx.ConfigFileFlag(l.args); path != "" {
		if err := l.k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := l.loadEnv(); err != nil {
		return nil, err
	}

	flags, err := parseFlags(l.args, &defaults)
	if err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	if err := l.k.Load(mapProvider(flags), nil); err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnv reads variables such as DONORSYNC_SERVER_URL. A double underscore
// separates sections: DONORSYNC_AUTH__LOGIN_PATH sets auth.login_path.
func (l *loader) loadEnv() error {
	if l.dotEnv != "" {
		// variables already present in the environment win over .env
		if err := godotenv.Load(l.dotEnv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", l.dotEnv, err)
		}
	}

	transform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := l.k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

var errReadBytesNotSupported = errors.New("map provider does not support ReadBytes")

// mapProvider feeds an in-memory map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) { return nil, errReadBytesNotSupported }

func (m mapProvider) Read() (map[string]any, error) { return m, nil }
