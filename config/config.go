// Copyright (c) 2024 The ESGF2-US Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// A Config is an immutable snapshot of the engine's configuration. It is
// created from YAML data and threaded by value into every component that
// needs it, so no component ever observes another's runtime modifications.

// a type with service configuration parameters
type ServiceConfig struct {
	// descriptive service name (used in save files and logs)
	Name string `yaml:"name"`
	// port on which the service listens
	Port int `yaml:"port"`
	// maximum number of allowed incoming connections
	MaxConnections int `yaml:"max_connections"`
	// directory in which the journal and other durable state are kept
	DataDirectory string `yaml:"data_dir"`
	// interval (milliseconds) at which bulk transfer statuses are polled
	PollInterval int `yaml:"poll_interval"`
	// time (seconds) after which completed acquisition records are purged
	DeleteAfter int `yaml:"delete_after"`
}

// local data locations consulted before any network transfer
type DataConfig struct {
	// read-only locations known to already mirror remote holdings
	DataRoots []string `yaml:"data_roots"`
	// read-write cache mirrors (the first writable one receives downloads)
	LocalCache []string `yaml:"local_cache"`
	// path to the performance ledger database
	LedgerFile string `yaml:"ledger_file"`
}

// the whole shebang
type Config struct {
	Service ServiceConfig          `yaml:"service"`
	Data    DataConfig             `yaml:"data"`
	Fetch   FetchConfig            `yaml:"fetch"`
	Globus  GlobusConfig           `yaml:"globus"`
	Indices map[string]IndexConfig `yaml:"indices"`
}

// applies default values for fields left unset by the YAML data
func (c *Config) applyDefaults() {
	if c.Service.Port == 0 {
		c.Service.Port = 8080
	}
	if c.Service.MaxConnections == 0 {
		c.Service.MaxConnections = 100
	}
	if c.Service.PollInterval == 0 {
		c.Service.PollInterval = 1000
	}
	if c.Service.DeleteAfter == 0 {
		c.Service.DeleteAfter = 604800 // 7 days
	}
	if c.Fetch.NumWorkers == 0 {
		c.Fetch.NumWorkers = 6
	}
	if c.Fetch.SlowWindow == 0 {
		c.Fetch.SlowWindow = 10
	}
	if c.Fetch.Exploration == 0 {
		c.Fetch.Exploration = 0.1
	}
	if c.Fetch.HalfLife == 0 {
		c.Fetch.HalfLife = 7
	}
	if c.Data.LedgerFile == "" && c.Service.DataDirectory != "" {
		c.Data.LedgerFile = filepath.Join(c.Service.DataDirectory, "ledger.db")
	}
	for name, index := range c.Indices {
		if index.Name == "" {
			index.Name = name
		}
		if index.Timeout == 0 {
			index.Timeout = 30
		}
		c.Indices[name] = index
	}
}

// This helper validates the given service parameters, returning an
// error indicating success or failure.
func validateServiceParameters(params ServiceConfig) error {
	if params.Port < 0 || params.Port > 65535 {
		return fmt.Errorf("Invalid port: %d (must be 0-65535)", params.Port)
	}
	if params.MaxConnections <= 0 {
		return fmt.Errorf("Invalid max_connections: %d (must be positive)",
			params.MaxConnections)
	}
	return nil
}

// This helper validates the configuration as a whole, returning an error that
// indicates success or failure.
func (c Config) validate() error {
	if err := validateServiceParameters(c.Service); err != nil {
		return err
	}

	// were we given any search indices?
	if len(c.Indices) == 0 {
		return fmt.Errorf("No search indices were provided!")
	}
	anyEnabled := false
	for name, index := range c.Indices {
		if index.Provider == "" {
			return fmt.Errorf("Index '%s' has no provider", name)
		}
		if index.Timeout < 0 {
			return fmt.Errorf("Index '%s' has a negative timeout", name)
		}
		anyEnabled = anyEnabled || index.Enabled
	}
	if !anyEnabled {
		return fmt.Errorf("No search indices are enabled!")
	}

	// is there anywhere to put data?
	if len(c.Data.LocalCache) == 0 {
		return fmt.Errorf("No local cache directories were provided!")
	}

	if c.Fetch.NumWorkers <= 0 {
		return fmt.Errorf("Invalid num_workers: %d (must be positive)",
			c.Fetch.NumWorkers)
	}
	if c.Fetch.SlowThreshold < 0 {
		return fmt.Errorf("Invalid slow_threshold: %g (must be non-negative)",
			c.Fetch.SlowThreshold)
	}
	if c.Fetch.Exploration < 0 || c.Fetch.Exploration > 1 {
		return fmt.Errorf("Invalid exploration: %g (must be a probability)",
			c.Fetch.Exploration)
	}
	return nil
}

// Creates a configuration snapshot from the given YAML byte data. All
// environment variables of the form ${ENV_VAR} are expanded, defaults are
// applied, and the result is validated.
func FromBytes(data []byte) (Config, error) {
	// before we do anything else, expand any provided environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var conf Config
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return Config{}, fmt.Errorf("Couldn't parse configuration data: %s", err.Error())
	}
	conf.applyDefaults()
	if err := conf.validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

// Creates a configuration snapshot from the YAML file at the given path.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return FromBytes(data)
}

// returns the names of all enabled indices in a stable order
func (c Config) EnabledIndices() []string {
	names := make([]string, 0, len(c.Indices))
	for name, index := range c.Indices {
		if index.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// returns a deep copy of the configuration (maps and slices included), so a
// caller can derive a modified snapshot without touching the original
func (c Config) Clone() Config {
	clone := c
	clone.Indices = make(map[string]IndexConfig, len(c.Indices))
	for name, index := range c.Indices {
		clone.Indices[name] = index
	}
	clone.Data.DataRoots = append([]string(nil), c.Data.DataRoots...)
	clone.Data.LocalCache = append([]string(nil), c.Data.LocalCache...)
	return clone
}
