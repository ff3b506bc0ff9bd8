package config

import (
	"fmt"
	"net"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validInputBackends = map[string]bool{
	"xdotool": true,
	"stub":    true,
}

// ValidationResult separates fatal configuration errors (which must block
// startup) from warnings (clamped in place, logged, and otherwise
// ignored), per the teacher's tiered validation contract
// (agent/internal/config/validate.go's Validate, here split into the two
// buckets the session's config.Load expects).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal error was recorded.
func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors returns fatals followed by warnings, for callers that just
// want to log everything found.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks c for invalid values. Clampable tunables (frame
// rate, heartbeat timeout, queue sizes, log level/format/backend name)
// are corrected in place and reported as warnings; structurally invalid
// values that have no safe default (a malformed metrics listen address,
// a negative capture display index) are fatal and block startup, per
// SPEC_FULL.md's AMBIENT STACK configuration section.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.FrameFPS < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("frame_fps %d is below minimum 1, clamping", c.FrameFPS))
		c.FrameFPS = 1
	} else if c.FrameFPS > 60 {
		r.Warnings = append(r.Warnings, fmt.Errorf("frame_fps %d exceeds maximum 60, clamping", c.FrameFPS))
		c.FrameFPS = 60
	}

	if c.HeartbeatTimeoutSeconds < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("heartbeat_timeout_seconds %d is below minimum 1, clamping", c.HeartbeatTimeoutSeconds))
		c.HeartbeatTimeoutSeconds = 1
	} else if c.HeartbeatTimeoutSeconds > 300 {
		r.Warnings = append(r.Warnings, fmt.Errorf("heartbeat_timeout_seconds %d exceeds maximum 300, clamping", c.HeartbeatTimeoutSeconds))
		c.HeartbeatTimeoutSeconds = 300
	}

	if c.InboxQueueSize < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("inbox_queue_size %d is below minimum 1, clamping", c.InboxQueueSize))
		c.InboxQueueSize = 1
	} else if c.InboxQueueSize > 4096 {
		r.Warnings = append(r.Warnings, fmt.Errorf("inbox_queue_size %d exceeds maximum 4096, clamping", c.InboxQueueSize))
		c.InboxQueueSize = 4096
	}

	if c.CaptureDisplayIndex < 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("capture_display_index %d cannot be negative", c.CaptureDisplayIndex))
	}

	if c.InputBackend != "" && !validInputBackends[strings.ToLower(c.InputBackend)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("input_backend %q is not recognized, falling back to %q", c.InputBackend, "stub"))
		c.InputBackend = "stub"
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), defaulting to info", c.LogLevel))
		c.LogLevel = "info"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), defaulting to text", c.LogFormat))
		c.LogFormat = "text"
	}

	if c.LogMaxSizeMB < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_max_size_mb %d is below minimum 1, clamping", c.LogMaxSizeMB))
		c.LogMaxSizeMB = 1
	}

	if c.LogMaxBackups < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_max_backups %d cannot be negative, clamping", c.LogMaxBackups))
		c.LogMaxBackups = 0
	}

	if c.MetricsEnabled {
		if _, _, err := net.SplitHostPort(c.MetricsListenAddr); err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("metrics_listen_addr %q is malformed: %w", c.MetricsListenAddr, err))
		}
	}

	return r
}
