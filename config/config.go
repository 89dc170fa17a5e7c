// Package config loads executor daemon settings from a JSON file with
// environment-variable defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type Config struct {
	Executor ExecutorConfig `json:"executor"`
	Registry RegistryConfig `json:"registry"`
}

type ExecutorConfig struct {
	// ListenAddr is the TCP address the executor binds, e.g. ":7420".
	ListenAddr string `json:"listen_addr"`

	// AdvertiseAddr is the routable address stored in the registry,
	// e.g. "10.0.0.5:7420". Must not be a bare ":port".
	AdvertiseAddr string `json:"advertise_addr"`

	// WSListenAddr optionally serves the same protocol over websocket,
	// e.g. ":7421". Empty disables the websocket listener.
	WSListenAddr string `json:"ws_listen_addr"`

	// RatePerSecond / RateBurst bound request admission. Zero disables
	// rate limiting.
	RatePerSecond float64 `json:"rate_per_second"`
	RateBurst     int     `json:"rate_burst"`

	// RequestTimeoutSeconds bounds each operation's handling time.
	RequestTimeoutSeconds int `json:"request_timeout_seconds"`
}

type RegistryConfig struct {
	// Endpoints are etcd addresses. Empty disables registration.
	Endpoints []string `json:"endpoints"`

	// Pool is the executor pool name coordinators discover.
	Pool string `json:"pool"`
}

func Default() Config {
	cfg := Config{
		Executor: ExecutorConfig{
			ListenAddr:            envOrDefault("EXECUTOR_LISTEN_ADDR", ":7420"),
			AdvertiseAddr:         os.Getenv("EXECUTOR_ADVERTISE_ADDR"),
			RequestTimeoutSeconds: 30,
		},
		Registry: RegistryConfig{
			Pool: envOrDefault("EXECUTOR_POOL", "default"),
		},
	}
	if eps := os.Getenv("ETCD_ENDPOINTS"); eps != "" {
		cfg.Registry.Endpoints = strings.Split(eps, ",")
	}
	return cfg
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config failed: %w", err)
	}

	if err := json.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config failed: %w", err)
	}

	if cfg.Executor.ListenAddr == "" {
		cfg.Executor.ListenAddr = ":7420"
	}
	if cfg.Executor.RequestTimeoutSeconds <= 0 {
		cfg.Executor.RequestTimeoutSeconds = 30
	}
	if cfg.Registry.Pool == "" {
		cfg.Registry.Pool = "default"
	}

	return cfg, nil
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
