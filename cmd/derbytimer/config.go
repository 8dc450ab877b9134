package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"justapengu.in/derby/internal/hal/periph"
	"justapengu.in/derby/internal/racetimer"
)

type FileConfig struct {
	Timer   racetimer.Config `json:"timer" yaml:"timer"`
	Pins    periph.Config    `json:"pins" yaml:"pins"`
	Console ConsoleConfig    `json:"console" yaml:"console"`
	Metrics MetricsConfig    `json:"metrics" yaml:"metrics"`

	LogLevel string `json:"log_level" yaml:"log_level"`
}

type ConsoleConfig struct {
	TruncateSpeed bool `json:"truncate_speed" yaml:"truncate_speed"`
	NoColor       bool `json:"no_color" yaml:"no_color"`
}

type MetricsConfig struct {
	// ListenAddress enables the /metrics endpoint when set, e.g. ":9100".
	ListenAddress string `json:"listen_address" yaml:"listen_address"`
}

func defaultFileConfig() *FileConfig {
	return &FileConfig{
		Timer:    racetimer.DefaultConfig(),
		Pins:     periph.DefaultConfig(),
		LogLevel: "info",
	}
}

// readConfig decodes the yaml file at path over the defaults. A missing file
// leaves the defaults in place.
func readConfig(path string) (conf *FileConfig, found bool, err error) {
	conf = defaultFileConfig()

	f, err := os.Open(path)

	if os.IsNotExist(err) {
		return conf, false, nil
	} else if err != nil {
		return nil, false, errors.Wrapf(err, "could not open config %s", path)
	}

	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(conf); err != nil && err != io.EOF {
		return nil, true, errors.Wrapf(err, "could not decode config %s", path)
	}

	if err := conf.Timer.Validate(); err != nil {
		return nil, true, errors.Wrapf(err, "invalid timer config in %s", path)
	}

	return conf, true, nil
}
