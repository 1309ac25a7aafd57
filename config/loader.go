package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Worker settings use the RELAY_ prefix.  The channel descriptor and
// serialization mode are also read from the variables Node's
// child_process.fork sets, so a Node parent can spawn the worker
// unchanged; RELAY_CHANNEL_FD wins when both are present.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty,
// well-formed env vars override the existing value.  This should be
// called BEFORE CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v, ok := envInt("NODE_CHANNEL_FD"); ok {
		cfg.ChannelFD = v
	}
	if v, ok := envInt("RELAY_CHANNEL_FD"); ok {
		cfg.ChannelFD = v
	}
	if v := os.Getenv("NODE_CHANNEL_SERIALIZATION_MODE"); v != "" {
		cfg.Serialization = strings.ToLower(v)
	}
	if v, ok := envInt("RELAY_MAX_FRAME"); ok {
		cfg.MaxFrameSize = v
	}
	if v, ok := envInt("RELAY_SEND_TIMEOUT_MS"); ok {
		cfg.SendTimeout = millis(v)
	}

	if v, ok := envInt("RELAY_FAILSAFE_MS"); ok {
		cfg.Failsafe = millis(v)
	}
	if v, ok := envInt("RELAY_DRAIN_MS"); ok {
		cfg.DrainTimeout = millis(v)
	}

	// Output
	if v, ok := envInt("RELAY_VERBOSE"); ok && v > 0 {
		cfg.Verbose = v
	}
	if v := os.Getenv("RELAY_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if envBool("RELAY_DRY_RUN") {
		cfg.DryRun = true
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
