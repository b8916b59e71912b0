package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"github.com/keks/chainfs/blkdev"
	"github.com/keks/chainfs/blkfile"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix = "CHAINFS"
	appName      = "chainfs"
)

// Config is read from the config file, then from CHAINFS_* environment
// variables, then from command line flags; later sources win.
type Config struct {
	Device       string   `envconfig:"DEVICE"         yaml:"device"`
	BlockCount   uint32   `envconfig:"BLOCK_COUNT"    yaml:"blockCount"`
	BlockSize    int      `envconfig:"BLOCK_SIZE"     yaml:"blockSize"`
	TableBlocks  uint32   `envconfig:"TABLE_BLOCKS"   yaml:"tableBlocks"`
	MaxOpenFiles int      `envconfig:"MAX_OPEN_FILES" yaml:"maxOpenFiles"`
	LogLevel     LogLevel `envconfig:"LOG_LEVEL"      yaml:"logLevel"`
}

func DefaultConfig() Config {
	return Config{
		Device:       appName + ".img",
		BlockCount:   blkdev.DefaultGeometry.BlockCount,
		BlockSize:    blkdev.DefaultGeometry.BlockSize,
		TableBlocks:  blkfile.DefaultTableBlocks,
		MaxOpenFiles: blkfile.DefaultMaxOpenFiles,
		LogLevel:     LogLevel(logrus.InfoLevel),
	}
}

func configFile() (string, error) {
	if path := os.Getenv(envVarPrefix + "_CONFIG_FILE"); path != "" {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating config file: %w", err)
	}
	return filepath.Join(home, ".config", appName+".yaml"), nil
}

func LoadConfig() (*Config, error) {
	c := DefaultConfig()

	path, err := configFile()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file `%s`: %w", path, err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	return &c, nil
}

func (c *Config) Validate() error {
	if y, e := func() (string, string) {
		if c.Device == "" {
			return "device", "DEVICE"
		}
		if c.TableBlocks == 0 {
			return "tableBlocks", "TABLE_BLOCKS"
		}
		if c.MaxOpenFiles <= 0 {
			return "maxOpenFiles", "MAX_OPEN_FILES"
		}
		return "", ""
	}(); y != "" {
		return fmt.Errorf(
			"missing or invalid configuration: %s / %s_%s",
			y,
			envVarPrefix,
			e,
		)
	}

	if err := c.Geometry().Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if uint64(c.TableBlocks)+2 > uint64(c.BlockCount) {
		return fmt.Errorf(
			"invalid configuration: `%d` table blocks do not fit in `%d` blocks",
			c.TableBlocks,
			c.BlockCount,
		)
	}
	return nil
}

func (c *Config) Geometry() blkdev.Geometry {
	return blkdev.Geometry{BlockCount: c.BlockCount, BlockSize: c.BlockSize}
}

func (c *Config) Logger(out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrus.Level(c.LogLevel))
	return logger
}

func (c *Config) Options(logger logrus.FieldLogger) blkfile.Options {
	return blkfile.Options{
		TableBlocks:  c.TableBlocks,
		MaxOpenFiles: c.MaxOpenFiles,
		Logger:       logger,
	}
}

// LogLevel is a logrus level that decodes from its name.
type LogLevel logrus.Level

func (lvl *LogLevel) Decode(value string) error {
	parsed, err := logrus.ParseLevel(value)
	if err != nil {
		return err
	}
	*lvl = LogLevel(parsed)
	return nil
}

func (lvl *LogLevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("yaml-unmarshaling *LogLevel: %w", err)
	}

	if err := lvl.Decode(s); err != nil {
		return fmt.Errorf("yaml-unmarshaling *LogLevel: %w", err)
	}

	return nil
}

func (lvl LogLevel) String() string {
	return logrus.Level(lvl).String()
}
