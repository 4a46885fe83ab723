package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default config has warnings: %v", result.Warnings)
	}
}

func TestValidateTieredBadListenAddrIsFatal(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = "8900"
	if !cfg.ValidateTiered().HasFatals() {
		t.Fatal("listen_addr without a port separator should be fatal")
	}
}

func TestValidateTieredControlCharsInTokenIsFatal(t *testing.T) {
	cfg := Default()
	cfg.AuthToken = "token\x00with\x01control"
	if !cfg.ValidateTiered().HasFatals() {
		t.Fatal("control chars in token should be fatal")
	}
}

func TestValidateTieredImageFormat(t *testing.T) {
	cfg := Default()
	cfg.ImageFormat = "JPEG"
	if result := cfg.ValidateTiered(); result.HasFatals() {
		t.Fatalf("upper-case jpeg should be accepted: %v", result.Fatals)
	}
	if cfg.ImageFormat != "jpeg" {
		t.Fatalf("ImageFormat = %q, want normalised jpeg", cfg.ImageFormat)
	}

	cfg.ImageFormat = "bmp"
	if !cfg.ValidateTiered().HasFatals() {
		t.Fatal("bmp should be fatal")
	}
}

func TestValidateTieredQueueClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.MaxInputQueue = 0
	cfg.SendQueueSize = 50000
	cfg.FrameRate = 500
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped values should be warnings, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) != 3 {
		t.Fatalf("warnings = %v, want 3", result.Warnings)
	}
	if cfg.MaxInputQueue != 1 {
		t.Fatalf("MaxInputQueue = %d, want 1", cfg.MaxInputQueue)
	}
	if cfg.SendQueueSize != 10000 {
		t.Fatalf("SendQueueSize = %d, want 10000", cfg.SendQueueSize)
	}
	if cfg.FrameRate != 60 {
		t.Fatalf("FrameRate = %d, want 60", cfg.FrameRate)
	}
}

func TestValidateTieredScaleFactorReset(t *testing.T) {
	cfg := Default()
	cfg.ScaleFactor = 2.5
	result := cfg.ValidateTiered()
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for scale factor")
	}
	if cfg.ScaleFactor != 1.0 {
		t.Fatalf("ScaleFactor = %v, want 1.0", cfg.ScaleFactor)
	}
}

func TestValidateTieredUnknownStrategyIsWarning(t *testing.T) {
	cfg := Default()
	cfg.CaptureStrategies = []string{"x11-shm", "bogus_strategy"}
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown strategy should not be fatal")
	}
	found := false
	for _, err := range result.Warnings {
		if strings.Contains(err.Error(), "bogus_strategy") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected warning about unknown strategy")
	}
}

func TestValidateTieredLogSettingsAreWarnings(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("log settings should not be fatal")
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("warnings = %v, want 2", result.Warnings)
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = "nope"
	cfg.CaptureStrategies = []string{"fake"}
	all := cfg.ValidateTiered().AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2", len(all))
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screenhost.yaml")

	cfg := Default()
	cfg.ListenAddr = "127.0.0.1:9999"
	cfg.MaxInputQueue = 8
	cfg.CaptureStrategies = []string{"x11-getimage"}
	if err := SaveTo(cfg, path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ListenAddr != "127.0.0.1:9999" || loaded.MaxInputQueue != 8 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if len(loaded.CaptureStrategies) != 1 || loaded.CaptureStrategies[0] != "x11-getimage" {
		t.Fatalf("CaptureStrategies = %v", loaded.CaptureStrategies)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screenhost.yaml")
	if err := SaveTo(Default(), path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	t.Setenv("SCREENHOST_MAX_INPUT_QUEUE", "12")

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.MaxInputQueue != 12 {
		t.Fatalf("MaxInputQueue = %d, want 12 from env", loaded.MaxInputQueue)
	}
}
