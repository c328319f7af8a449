package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db" validate:"gte=0"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	RabbitMQ struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"rabbitmq"`
	Auth struct {
		JWTSecret string `yaml:"jwtSecret"`
		Issuer    string `yaml:"issuer"`
		Audience  string `yaml:"audience"`
	} `yaml:"auth"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Sessions struct {
		HeartbeatTimeout string `yaml:"heartbeatTimeout"`
	} `yaml:"sessions"`
	Rooms struct {
		DefaultMaxParticipants int    `yaml:"defaultMaxParticipants" validate:"omitempty,min=2,max=50"`
		AutoEndGrace           string `yaml:"autoEndGrace"`
		IdleTimeout            string `yaml:"idleTimeout"`
		CompletedRetention     string `yaml:"completedRetention"`
		SweepInterval          string `yaml:"sweepInterval"`
	} `yaml:"rooms"`
	Scoring struct {
		BasePoints       int     `yaml:"basePoints" validate:"omitempty,min=1"`
		FloorFactor      float64 `yaml:"floorFactor" validate:"omitempty,gte=0,lte=1"`
		DefaultTimeLimit string  `yaml:"defaultTimeLimit"`
	} `yaml:"scoring"`
}

// Load reads YAML config from path and applies environment overrides.
// A missing file yields the zero config so the service can run on defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// Validate checks the numeric ranges declared in struct tags.
func (c Config) Validate() error {
	return validator.New().Struct(c)
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"LOG_LEVEL", &c.Log.Level},
		{"REDIS_ADDR", &c.Redis.Addr},
		{"POSTGRES_URL", &c.Postgres.URL},
		{"RABBITMQ_URL", &c.RabbitMQ.URL},
		{"JWT_SECRET", &c.Auth.JWTSecret},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.env); ok && v != "" {
			*o.target = v
		}
	}
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
