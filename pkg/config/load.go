package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure returned by the loaders.
var ErrInvalid = errors.New("invalid config")

// LoadClient reads the client config at path over the defaults. A missing
// file yields the defaults.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	if errs := ValidateClient(&cfg); len(errs) > 0 {
		return cfg, invalid(path, errs)
	}
	return cfg, nil
}

// LoadDaemon reads the daemon config at path over the defaults. A missing
// file yields the defaults with no sources.
func LoadDaemon(path string) (Daemon, error) {
	cfg := DefaultDaemon()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.DB = os.ExpandEnv(cfg.DB)
	cfg.Socket = os.ExpandEnv(cfg.Socket)
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		s.Path = os.ExpandEnv(s.Path)
		s.Dir = os.ExpandEnv(s.Dir)
	}
	if errs := ValidateDaemon(&cfg); len(errs) > 0 {
		return cfg, invalid(path, errs)
	}
	return cfg, nil
}

func load(path string, into any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return Parse(path, data, into)
}

// Parse decodes data into the given config, choosing TOML for a .toml path
// and YAML otherwise.
func Parse(path string, data []byte, into any) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), into); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func invalid(path string, errs []error) error {
	return fmt.Errorf("%w %s: %w", ErrInvalid, path, errors.Join(errs...))
}
