// Package config loads the busdev configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/busdevice"
)

// set at build time
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const (
	AdapterMCP2221 = "mcp2221"
	AdapterGeneric = "generic"
	AdapterNanoPi  = "nanopi"
	AdapterSim     = "sim"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Adapter string `yaml:"adapter"`
	// Device is the host bus name for the generic adapter, e.g. /dev/i2c-1.
	Device string `yaml:"device"`
	// Bus selects the bus number on gobot platforms, -1 uses the board default.
	Bus         int                     `yaml:"bus"`
	LockTimeout time.Duration           `yaml:"lock_timeout"`
	Devices     map[string]DeviceConfig `yaml:"devices"`
}

// DeviceConfig names a device so commands can refer to it instead of
// repeating its address.
type DeviceConfig struct {
	Driver  string            `yaml:"driver"`
	Address busdevice.Address `yaml:"address"`
}

func Default() Config {
	return Config{
		Adapter:     AdapterMCP2221,
		Bus:         -1,
		LockTimeout: time.Second,
		Devices:     map[string]DeviceConfig{},
	}
}

// Parse reads YAML data on top of the defaults.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("could not parse config: %w", err)
	}
	if c.Devices == nil {
		c.Devices = map[string]DeviceConfig{}
	}
	return c, c.Validate()
}

// Load reads the file at path. An empty path or a missing file yields the
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Default(), fmt.Errorf("could not read config file %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.Adapter {
	case AdapterMCP2221, AdapterGeneric, AdapterNanoPi, AdapterSim:
	default:
		return fmt.Errorf("%w: unknown adapter %q", ErrInvalidConfig, c.Adapter)
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("%w: negative lock timeout", ErrInvalidConfig)
	}
	for name, dev := range c.Devices {
		if dev.Address > busdevice.MaxAddress {
			return fmt.Errorf("%w: device %s address %s out of range", ErrInvalidConfig, name, dev.Address)
		}
	}
	return nil
}

// Address returns the address of the named device or fallback when the
// device is not configured.
func (c Config) Address(name string, fallback busdevice.Address) busdevice.Address {
	if dev, ok := c.Devices[name]; ok {
		return dev.Address
	}
	return fallback
}

func VersionString() string {
	return fmt.Sprintf("%s-%s-%s", Version, Date, Commit)
}
