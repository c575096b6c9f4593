// Package config handles hostbridge.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/hostbridge/bridge"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "hostbridge.toml"

// Config represents a hostbridge.toml file.
type Config struct {
	Bridge  Bridge  `toml:"bridge" json:"bridge"`
	Log     Log     `toml:"log" json:"log"`
	Profile Profile `toml:"profile" json:"profile"`
	Wrap    Wrap    `toml:"wrap" json:"wrap"`

	// Dir is the directory containing the hostbridge.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Bridge configures the bridge itself.
type Bridge struct {
	MaxStack  int    `toml:"max-stack" json:"max-stack"`
	BaseField string `toml:"base-field" json:"base-field"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	Path      string `toml:"path" json:"path,omitempty"`
}

// Profile configures where call-site snapshots go.
type Profile struct {
	Output   string `toml:"output" json:"output,omitempty"`
	Database string `toml:"database" json:"database,omitempty"`
}

// Wrap lists the packages hbwrap generates adapters for.
type Wrap struct {
	Packages []string `toml:"packages" json:"packages"`
	Output   string   `toml:"output" json:"output"`
	Package  string   `toml:"package" json:"package"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Bridge.MaxStack == 0 {
		c.Bridge.MaxStack = bridge.DefaultMaxStack
	}
	if c.Bridge.BaseField == "" {
		c.Bridge.BaseField = bridge.DefaultBaseField
	}
	if c.Wrap.Output == "" {
		c.Wrap.Output = "adapters"
	}
	if c.Wrap.Package == "" {
		c.Wrap.Package = filepath.Base(c.Wrap.Output)
	}
	if c.Wrap.Packages == nil {
		c.Wrap.Packages = []string{}
	}
}

// Load parses a hostbridge.toml file from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes and validates configuration text.
func Parse(data []byte) (*Config, error) {
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	c.applyDefaults()
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a hostbridge.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Options converts the [bridge] section to bridge options.
func (c *Config) Options() []bridge.Option {
	return []bridge.Option{
		bridge.WithMaxStack(c.Bridge.MaxStack),
		bridge.WithBaseField(c.Bridge.BaseField),
	}
}

// Resolve makes a configured path absolute relative to the config
// directory. Empty paths stay empty.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Dir == "" {
		return path
	}
	return filepath.Join(c.Dir, path)
}

// LogPath returns the log file path, or nil for stderr.
func (c *Config) LogPath() *string {
	if c.Log.Path == "" {
		return nil
	}
	p := c.Resolve(c.Log.Path)
	return &p
}
