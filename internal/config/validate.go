package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"unicode"
)

var knownStrategies = map[string]bool{
	"x11-shm":      true,
	"x11-getimage": true,
	"screenshot":   true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates errors that must stop startup from values that
// were clamped or ignored.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// ValidateTiered checks the config. Out-of-range numbers are clamped in place
// and reported as warnings; values the server cannot run with are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		r.Fatals = append(r.Fatals, fmt.Errorf("listen_addr %q is not host:port: %w", c.ListenAddr, err))
	}

	for _, ch := range c.AuthToken {
		if unicode.IsControl(ch) || unicode.IsSpace(ch) {
			r.Fatals = append(r.Fatals, fmt.Errorf("auth_token contains whitespace or control characters"))
			break
		}
	}

	switch strings.ToLower(c.ImageFormat) {
	case "png", "jpeg":
		c.ImageFormat = strings.ToLower(c.ImageFormat)
	default:
		r.Fatals = append(r.Fatals, fmt.Errorf("image_format %q is not valid (use png or jpeg)", c.ImageFormat))
	}

	c.MaxClients = clamp(&r, "max_clients", c.MaxClients, 1, 1024)
	c.FrameRate = clamp(&r, "frame_rate", c.FrameRate, 1, 60)
	c.TileSize = clamp(&r, "tile_size", c.TileSize, 16, 1024)
	c.JPEGQuality = clamp(&r, "jpeg_quality", c.JPEGQuality, 1, 100)
	c.MaxInputQueue = clamp(&r, "max_input_queue", c.MaxInputQueue, 1, 4096)
	c.SendQueueSize = clamp(&r, "send_queue_size", c.SendQueueSize, 1, 10000)
	c.EncodeWorkers = clamp(&r, "encode_workers", c.EncodeWorkers, 1, 64)
	c.EncodeQueueSize = clamp(&r, "encode_queue_size", c.EncodeQueueSize, 1, 10000)

	if c.ScaleFactor <= 0 || c.ScaleFactor > 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("scale_factor %.2f outside (0, 1], using 1.0", c.ScaleFactor))
		c.ScaleFactor = 1.0
	}

	for _, name := range c.CaptureStrategies {
		if !knownStrategies[strings.ToLower(name)] {
			r.Warnings = append(r.Warnings, fmt.Errorf("unknown capture strategy %q", name))
		}
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range r.Fatals {
		slog.Error("config validation", "error", err)
	}
	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}

	return r
}

func clamp(r *ValidationResult, key string, v, lo, hi int) int {
	if v < lo {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, v, lo))
		return lo
	}
	if v > hi {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, v, hi))
		return hi
	}
	return v
}
