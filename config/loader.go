package config

// loader.go - configuration loading from a YAML file and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (LoadFromEnv)
//   3. Config file  (LoadFile)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	ncerr "tcptunnel/internal/errors"
)

// LoadFile overlays the YAML document at path onto cfg.  Keys absent
// from the file keep their current value.  Durations are written the
// way time.ParseDuration reads them ("1s", "250ms").
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return &ncerr.ConfigError{
			Field:   "config",
			Value:   path,
			Message: err.Error(),
		}
	}
	cfg.ConfigFile = path
	return nil
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the TCPTUNNEL_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept a
// time.ParseDuration string or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := env("LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v := envInt("PORT"); v > 0 {
		cfg.ListenPort = v
	}
	if v := env("REMOTE_HOST"); v != "" {
		cfg.RemoteHost = v
	}
	if v := envInt("REMOTE_PORT"); v > 0 {
		cfg.RemotePort = v
	}
	if envBool("CLIENT") {
		cfg.ClientMode = true
	}
	if envBool("NO_DNS") {
		cfg.NoDNS = true
	}

	// Codec and buffering
	if v := env("CODEC"); v != "" {
		cfg.Codec = strings.ToLower(v)
	}
	if v := envInt("BLOCK_SIZE"); v > 0 {
		cfg.BlockSize = v
	}
	if v := envInt("BUFFER_SIZE"); v > 0 {
		cfg.BufferSize = v
	}

	// Connection lifecycle
	if v, ok := envDuration("LINGER"); ok {
		cfg.Linger = v
	}
	if v, ok := envDuration("DIAL_TIMEOUT"); ok {
		cfg.DialTimeout = v
	}
	if envBool("HALF_CLOSE") {
		cfg.HalfClose = true
	}
	if v, ok := envDuration("STATS_INTERVAL"); ok {
		cfg.StatsInterval = v
	}

	// SSH jump host
	if v := env("JUMP"); v != "" {
		cfg.JumpSpec = v
	}
	if v := env("SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := env("KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := envInt("VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// EnvConfigFile returns the config file named by TCPTUNNEL_CONFIG.
func EnvConfigFile() string {
	return env("CONFIG")
}

// ── helpers ──────────────────────────────────────────────────────────

func env(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func envInt(key string) int {
	v := env(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(env(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) (time.Duration, bool) {
	v := env(key)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d, true
	}
	if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
		return secondsDuration(sec), true
	}
	return 0, false
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
