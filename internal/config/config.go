package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Attempt struct {
		WarningThreshold string `yaml:"warningThreshold"`
		PersistTimeout   string `yaml:"persistTimeout"`
		Retention        string `yaml:"retention"`
		IdleTimeout      string `yaml:"idleTimeout"`
		SweepSchedule    string `yaml:"sweepSchedule"`
	} `yaml:"attempt"`
	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
}

// Load reads YAML config from path. A missing file yields the zero config so
// the server can run on defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// SweepSchedule is the cron spec for evicting finished and abandoned sessions.
func (c Config) SweepSchedule() string {
	if c.Attempt.SweepSchedule == "" {
		return "@every 1m"
	}
	return c.Attempt.SweepSchedule
}

// Exchange is the AMQP topic exchange for attempt events.
func (c Config) Exchange() string {
	if c.AMQP.Exchange == "" {
		return "quiz.attempts"
	}
	return c.AMQP.Exchange
}
