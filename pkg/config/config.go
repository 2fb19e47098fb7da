// Package config loads server settings from configs/config.ini, an optional
// .env file and PRESENCE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/ini.v1"
)

const EnvPrefix = "PRESENCE"

var validate = validator.New()

type General struct {
	Host          string `ini:"bind" validate:"required"`
	Port          int    `ini:"port" validate:"min=1,max=65535"`
	CertFile      string `ini:"cert" split_words:"true" validate:"required_with=KeyFile"`
	KeyFile       string `ini:"key" split_words:"true" validate:"required_with=CertFile"`
	WebSocketPath string `ini:"ws_path" split_words:"true" validate:"required,startswith=/"`
	MetricsPath   string `ini:"metrics_path" split_words:"true" validate:"omitempty,startswith=/"`
}

type Presence struct {
	Area               float64       `ini:"area" validate:"gt=0"`
	Radius             float64       `ini:"radius" validate:"gt=0"`
	Threshold          float64       `ini:"threshold" validate:"gt=0"`
	ExitThreshold      float64       `ini:"exit_threshold" split_words:"true" validate:"gtefield=Threshold"`
	NegotiationTimeout time.Duration `ini:"negotiation_timeout" split_words:"true" validate:"gte=0"`
	SweepInterval      time.Duration `ini:"sweep_interval" split_words:"true" validate:"gt=0"`
	QueueSize          int           `ini:"queue_size" split_words:"true" validate:"gt=0"`
}

type Log struct {
	Level string `ini:"level" validate:"oneof=trace debug info warn error"`
}

type Config struct {
	General  General
	Presence Presence
	Log      Log
}

func Default() Config {
	return Config{
		General: General{
			Host:          "0.0.0.0",
			Port:          8080,
			WebSocketPath: "/ws",
			MetricsPath:   "/metrics",
		},
		Presence: Presence{
			Area:               500,
			Radius:             10,
			Threshold:          50,
			ExitThreshold:      60,
			NegotiationTimeout: 30 * time.Second,
			SweepInterval:      time.Second,
			QueueSize:          256,
		},
		Log: Log{Level: "info"},
	}
}

// Load starts from Default, applies the ini file at path when it is not empty,
// then the .env files and the environment, and validates the result.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		file, err := ini.Load(path)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		sections := map[string]interface{}{
			"general":  &cfg.General,
			"presence": &cfg.Presence,
			"log":      &cfg.Log,
		}
		for name, target := range sections {
			if err := file.Section(name).MapTo(target); err != nil {
				return Config{}, fmt.Errorf("section [%s]: %w", name, err)
			}
		}
	}

	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	envTargets := []struct {
		prefix string
		target interface{}
	}{
		{EnvPrefix, &cfg.General},
		{EnvPrefix, &cfg.Presence},
		{EnvPrefix + "_LOG", &cfg.Log},
	}
	for _, env := range envTargets {
		if err := envconfig.Process(env.prefix, env.target); err != nil {
			return Config{}, fmt.Errorf("environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for _, section := range []interface{}{c.General, c.Presence, c.Log} {
		if err := validate.Struct(section); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}
	return nil
}

func (g General) TLS() bool {
	return g.CertFile != "" && g.KeyFile != ""
}

func (g General) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}
