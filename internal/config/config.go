// Package config defines fdc3rootd's runtime configuration, bound
// from cobra flags with environment-variable fallback, generalizing
// the teacher's single os.Getenv("ACP_MULTIPLEX_NAME") read into one
// struct covering every tunable the root agent exposes.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Config is the root agent's complete runtime configuration.
type Config struct {
	// HeartbeatInterval is the fixed ping cadence (§4.7).
	HeartbeatInterval time.Duration
	// HeartbeatMissedLimit is the number of consecutive missed pongs
	// that triggers cleanupDisconnectedProxy (§4.7).
	HeartbeatMissedLimit int
	// RequestTimeout governs connection establishment and, absent a
	// finer-grained override, individual request/response round trips
	// (§5 "Cancellation & timeouts").
	RequestTimeout time.Duration
	// DirectoryURLs are the app-directory sources loaded at startup
	// (§4.5); a URL that fails to load is logged and skipped.
	DirectoryURLs []string
	// SocketPath is the Unix-socket listener address for in-process
	// and same-host proxies.
	SocketPath string
	// ListenAddr is the HTTP address serving the WebSocket bridge and
	// /metrics.
	ListenAddr string
}

// Default values mirrored by both the cobra flag defaults and the
// environment-variable fallback below.
const (
	DefaultHeartbeatInterval    = 15 * time.Second
	DefaultHeartbeatMissedLimit = 3
	DefaultRequestTimeout       = 10 * time.Second
	DefaultSocketPath           = "/tmp/fdc3rootd.sock"
	DefaultListenAddr           = ":4573"
)

// BindFlags registers this Config's flags on cmd, seeding each flag's
// default from its FDC3_* environment variable when set, the same
// precedence the teacher's ACP_MULTIPLEX_NAME read gives the
// environment over a hardcoded default.
func (c *Config) BindFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.DurationVar(&c.HeartbeatInterval, "heartbeat-interval",
		envDuration("FDC3_HEARTBEAT_INTERVAL", DefaultHeartbeatInterval),
		"interval between heartbeat pings to each connected proxy")

	flags.IntVar(&c.HeartbeatMissedLimit, "heartbeat-missed-limit",
		envInt("FDC3_HEARTBEAT_MISSED_LIMIT", DefaultHeartbeatMissedLimit),
		"consecutive missed pongs before a proxy is treated as disconnected")

	flags.DurationVar(&c.RequestTimeout, "request-timeout",
		envDuration("FDC3_REQUEST_TIMEOUT", DefaultRequestTimeout),
		"timeout for connection handshakes and individual requests")

	flags.StringSliceVar(&c.DirectoryURLs, "directory-url",
		envStringSlice("FDC3_DIRECTORY_URLS"),
		"app directory URL to load at startup (repeatable)")

	flags.StringVar(&c.SocketPath, "socket-path",
		envString("FDC3_SOCKET_PATH", DefaultSocketPath),
		"Unix socket path for local proxy connections")

	flags.StringVar(&c.ListenAddr, "listen-addr",
		envString("FDC3_LISTEN_ADDR", DefaultListenAddr),
		"HTTP listen address for the WebSocket bridge and /metrics")
}

// Validate rejects a Config with non-positive durations or limits,
// the only shapes nothing downstream can recover from.
func (c *Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat-interval must be positive, got %s", c.HeartbeatInterval)
	}
	if c.HeartbeatMissedLimit < 1 {
		return fmt.Errorf("heartbeat-missed-limit must be at least 1, got %d", c.HeartbeatMissedLimit)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request-timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envStringSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
