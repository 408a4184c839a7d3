// Package config loads service configuration from defaults, an
// optional YAML file and a handful of environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const defaultsYAML = `
server:
  addr: ":8080"
  read_timeout: 10s
  write_timeout: 10s
redis:
  addr: "localhost:6379"
  password: ""
  db: 0
store:
  path: "ratelimiter.db"
cache:
  ttl: 300s
limiter:
  fail_open: false
  check_timeout: 2s
audit:
  buffer: 1024
`

// Config is the full service configuration.
type Config struct {
	Server struct {
		Addr         string        `koanf:"addr"`
		ReadTimeout  time.Duration `koanf:"read_timeout"`
		WriteTimeout time.Duration `koanf:"write_timeout"`
	} `koanf:"server"`

	Redis struct {
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Store struct {
		Path string `koanf:"path"`
	} `koanf:"store"`

	Cache struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"cache"`

	Limiter struct {
		FailOpen     bool          `koanf:"fail_open"`
		CheckTimeout time.Duration `koanf:"check_timeout"`
	} `koanf:"limiter"`

	Audit struct {
		Buffer int `koanf:"buffer"`
	} `koanf:"audit"`
}

// envOverrides maps environment variables onto config keys.
var envOverrides = map[string]string{
	"RATELIMITER_SERVER_ADDR":    "server.addr",
	"RATELIMITER_REDIS_ADDR":     "redis.addr",
	"RATELIMITER_REDIS_PASSWORD": "redis.password",
	"RATELIMITER_STORE_PATH":     "store.path",
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment overrides apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultsYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load default config: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	for env, key := range envOverrides {
		if v, ok := os.LookupEnv(env); ok {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("apply %s: %w", env, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
