// Package config handles unstack.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "unstack.toml"

// Output formats.
const (
	FormatText = "text"
	FormatCBOR = "cbor"
)

// Config represents an unstack.toml file.
type Config struct {
	Decompile Decompile `toml:"decompile"`
	Log       Log       `toml:"log"`
	Store     Store     `toml:"store"`
	Output    Output    `toml:"output"`

	// Dir is the directory containing the unstack.toml file (set at load time).
	Dir string `toml:"-"`
}

// Decompile configures the reconstruction pass.
type Decompile struct {
	// Limit is the number of methods reconstructed at once; 0 means one per CPU.
	Limit int  `toml:"limit"`
	Trace bool `toml:"trace"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Store configures the results database. An empty path disables it.
type Store struct {
	Path string `toml:"path"`
}

// Output configures what the CLI prints.
type Output struct {
	Format string `toml:"format"`
	Disasm bool   `toml:"disasm"`
}

// Default returns the configuration used when no unstack.toml exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Output.Format == "" {
		c.Output.Format = FormatText
	}
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	switch c.Output.Format {
	case FormatText, FormatCBOR:
	default:
		return fmt.Errorf("unknown output format %q (want %s or %s)", c.Output.Format, FormatText, FormatCBOR)
	}
	if c.Decompile.Limit < 0 {
		return fmt.Errorf("decompile limit must not be negative, got %d", c.Decompile.Limit)
	}
	return nil
}

// Load parses an unstack.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	// Relative paths are relative to the config file.
	if c.Store.Path != "" && !filepath.IsAbs(c.Store.Path) {
		c.Store.Path = filepath.Join(c.Dir, c.Store.Path)
	}
	if c.Log.Path != "" && !filepath.IsAbs(c.Log.Path) {
		c.Log.Path = filepath.Join(c.Dir, c.Log.Path)
	}

	return &c, nil
}

// FindAndLoad walks up from startDir to find an unstack.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}
