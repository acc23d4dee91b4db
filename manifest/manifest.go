// Package manifest handles garnet.toml / garnet.yaml engine configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// File names searched for, in order of preference.
const (
	TOMLName = "garnet.toml"
	YAMLName = "garnet.yaml"
)

// Config represents an engine configuration file.
type Config struct {
	Engine Engine    `toml:"engine" yaml:"engine"`
	GC     GCConfig  `toml:"gc" yaml:"gc"`
	Log    LogConfig `toml:"log" yaml:"log"`

	// Path is the file the configuration was loaded from (set at load time).
	Path string `toml:"-" yaml:"-"`
}

// Engine configures the interpreter loop.
type Engine struct {
	// StackSize is the initial operand stack capacity, in values.
	StackSize int `toml:"stack-size" yaml:"stack-size"`
	// MaxDepth bounds nested frames before SystemStackError is raised.
	MaxDepth int `toml:"max-depth" yaml:"max-depth"`
}

// GCConfig configures the mark-and-sweep collector.
type GCConfig struct {
	// Threshold is the number of allocations between automatic collections.
	Threshold int  `toml:"threshold" yaml:"threshold"`
	Disabled  bool `toml:"disabled" yaml:"disabled"`
}

// LogConfig configures commonlog output.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" yaml:"verbosity"`
	Path      string `toml:"path" yaml:"path"`
}

// Defaults used when a field is absent or zero.
const (
	DefaultStackSize   = 1024
	DefaultMaxDepth    = 10000
	DefaultGCThreshold = 100000
)

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Engine.StackSize <= 0 {
		c.Engine.StackSize = DefaultStackSize
	}
	if c.Engine.MaxDepth <= 0 {
		c.Engine.MaxDepth = DefaultMaxDepth
	}
	if c.GC.Threshold <= 0 {
		c.GC.Threshold = DefaultGCThreshold
	}
}

// Load parses garnet.toml (or, failing that, garnet.yaml) from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, TOMLName)
	if _, err := os.Stat(path); err != nil {
		path = filepath.Join(dir, YAMLName)
	}
	return LoadFile(path)
}

// LoadFile parses a single configuration file. The format is chosen by extension.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var c Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		if err := toml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	c.applyDefaults()
	return &c, nil
}

// FindAndLoad walks up from startDir to find a configuration file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		for _, name := range []string{TOMLName, YAMLName} {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return LoadFile(path)
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// LogPath returns the configured log path, or nil for stderr.
func (c *Config) LogPath() *string {
	if c.Log.Path == "" {
		return nil
	}
	p := c.Log.Path
	if !filepath.IsAbs(p) && c.Path != "" {
		p = filepath.Join(filepath.Dir(c.Path), p)
	}
	return &p
}
