// Package config defines the runtime configuration for relay-worker:
// where the control channel lives and how long a run may take.
package config

import (
	"fmt"
	"time"

	relayerr "ipcrelay/internal/errors"
)

// Config holds every tuneable for a single worker run.
type Config struct {
	// ── Control channel ──────────────────────────────────────────────
	ChannelFD     int    // inherited descriptor, NoChannel if none
	Serialization string // must be SerializationJSON when set
	MaxFrameSize  int
	SendTimeout   time.Duration

	// ── Lifecycle ────────────────────────────────────────────────────
	Failsafe     time.Duration
	DrainTimeout time.Duration

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
	LogFile string // empty: log to stderr
	DryRun  bool
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		ChannelFD:     NoChannel,
		Serialization: SerializationJSON,
		MaxFrameSize:  DefaultMaxFrameSize,
		SendTimeout:   DefaultSendTimeout,
		Failsafe:      DefaultFailsafe,
		DrainTimeout:  DefaultDrainTimeout,
	}
}

// HasChannel reports whether a control channel was configured.
func (c *Config) HasChannel() bool { return c.ChannelFD != NoChannel }

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch {
	case c.ChannelFD < NoChannel:
		return &relayerr.ConfigError{
			Field:   "channel-fd",
			Value:   c.ChannelFD,
			Message: "descriptor must be non-negative",
		}
	case c.ChannelFD >= 0 && c.ChannelFD <= 2:
		return &relayerr.ConfigError{
			Field:   "channel-fd",
			Value:   c.ChannelFD,
			Message: "descriptor collides with stdin/stdout/stderr",
			Hint:    "the parent must pass the channel on a descriptor above 2 (NODE_CHANNEL_FD)",
		}
	}

	if c.Serialization != "" && c.Serialization != SerializationJSON {
		return &relayerr.ConfigError{
			Field:   "serialization",
			Value:   c.Serialization,
			Message: fmt.Sprintf("only %q framing is supported", SerializationJSON),
			Hint:    "spawn the worker with serialization: 'json'",
		}
	}

	if c.Failsafe <= 0 {
		return &relayerr.ConfigError{
			Field:   "failsafe",
			Value:   c.Failsafe,
			Message: "must be positive",
			Hint:    fmt.Sprintf("the default is %v", DefaultFailsafe),
		}
	}
	if c.DrainTimeout < 0 {
		return &relayerr.ConfigError{Field: "drain-timeout", Value: c.DrainTimeout, Message: "must not be negative"}
	}
	if c.SendTimeout <= 0 {
		return &relayerr.ConfigError{
			Field:   "send-timeout",
			Value:   c.SendTimeout,
			Message: "must be positive",
			Hint:    "an unbounded send lets a parent that stops reading stall the worker",
		}
	}
	if c.MaxFrameSize <= 0 {
		return &relayerr.ConfigError{Field: "max-frame", Value: c.MaxFrameSize, Message: "must be positive"}
	}
	return nil
}
