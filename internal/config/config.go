package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the server reads from the environment.
type Config struct {
	Addr string `env:"ADDR" envDefault:":8080"`

	DatabaseDSN string `env:"DB_DSN,required"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	JWTAccessSecret string        `env:"JWT_ACCESS_SECRET,required"`
	JWTEmailSecret  string        `env:"JWT_EMAIL_SECRET,required"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"24h"`
	EmailTokenTTL   time.Duration `env:"EMAIL_TOKEN_TTL" envDefault:"1h"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
