// Package config loads the engine configuration: YAML file over struct
// defaults, validated before anything starts.
package config

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Instrument struct {
	Symbol string  `yaml:"symbol" default:"ES" validate:"required"`
	Tick   float64 `yaml:"tick" default:"0.25" validate:"gt=0"`
}

type Session struct {
	StartHHmm int `yaml:"start" default:"930" validate:"gte=0,lt=2400"`
	EndHHmm   int `yaml:"end" default:"1600" validate:"gte=0,lt=2400"`
}

type Tune struct {
	Value float64 `yaml:"value" default:"1.2" validate:"gte=0.6,lte=3.0"`
	Auto  bool    `yaml:"auto" default:"true"`
}

type Analysis struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"omitempty,url"`
}

type Training struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" default:"data/training.jsonl"`
}

type SignalLog struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" default:"data/signals.csv"`
}

type Logging struct {
	Level   string `yaml:"level" default:"info"`
	Console bool   `yaml:"console"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" default:":9090"`
}

type Root struct {
	Instrument Instrument `yaml:"instrument"`
	Mode       string     `yaml:"mode" default:"active" validate:"oneof=conservative balanced active"`

	AllowLongs  bool `yaml:"allow_longs" default:"true"`
	AllowShorts bool `yaml:"allow_shorts" default:"true"`
	Quantity    int  `yaml:"quantity" default:"1" validate:"gte=1"`

	ZoneExits bool `yaml:"zone_exits" default:"true"`

	Session   Session   `yaml:"session"`
	Tune      Tune      `yaml:"tune"`
	Analysis  Analysis  `yaml:"analysis"`
	Training  Training  `yaml:"training"`
	SignalLog SignalLog `yaml:"signal_log"`
	Logging   Logging   `yaml:"logging"`
	Metrics   Metrics   `yaml:"metrics"`
}

// Load reads path (optional; empty path yields pure defaults), applies the
// default tags, then validates.
func Load(path string) (Root, error) {
	var c Root
	if err := defaults.Set(&c); err != nil {
		return c, fmt.Errorf("config defaults: %w", err)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := validator.New().Struct(c); err != nil {
		return c, fmt.Errorf("validate config: %w", err)
	}
	if c.Analysis.Enabled && c.Analysis.URL == "" {
		return c, fmt.Errorf("validate config: analysis enabled without url")
	}
	return c, nil
}
