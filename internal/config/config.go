package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		TCPAddr string `yaml:"tcp_addr"`
		UDPAddr string `yaml:"udp_addr"`
		WSAddr  string `yaml:"ws_addr"`
	} `yaml:"server"`
	Game struct {
		TimeLimit   string `yaml:"time_limit"`
		RoundPause  string `yaml:"round_pause"`
		Rebroadcast string `yaml:"rebroadcast_interval"`
		Heartbeat   string `yaml:"heartbeat_interval"`
	} `yaml:"game"`
	Questions struct {
		Path     string `yaml:"path"`
		TTL      string `yaml:"ttl"`
		RedisKey string `yaml:"redis_key"`
	} `yaml:"questions"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
}

// Load reads YAML config from path. A missing file is not an error: every
// setting has a serve-time default, so the zero Config is usable.
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

// Duration parses a duration string or returns the fallback if empty or
// malformed.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
