package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Namespace != "chainrig" {
		t.Errorf("expected Namespace=chainrig, got %s", cfg.Namespace)
	}
	if cfg.Clock.Source != ClockTempo {
		t.Errorf("expected Clock.Source=tempo, got %s", cfg.Clock.Source)
	}
	if cfg.Chains.DefaultSlots != 6 {
		t.Errorf("expected DefaultSlots=6, got %d", cfg.Chains.DefaultSlots)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("CHAINRIG_OSC_ADDR", "")
	t.Setenv("CHAINRIG_NAMESPACE", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "chainrig.yaml")

	cfg := DefaultConfig()
	cfg.Namespace = "stage"
	cfg.Clock.Source = ClockMIDI
	cfg.Clock.MIDIPort = "IAC"
	cfg.Logging.Categories = map[string]bool{"audio": false}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Namespace != "stage" {
		t.Errorf("expected Namespace=stage, got %s", loaded.Namespace)
	}
	if !loaded.IsMIDIClock() || loaded.Clock.MIDIPort != "IAC" {
		t.Errorf("expected midi clock on IAC, got %+v", loaded.Clock)
	}
	if enabled, ok := loaded.Logging.Logger().Categories["audio"]; !ok || enabled {
		t.Error("expected audio logging disabled")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CHAINRIG_OSC_ADDR", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.OSC.Addr != DefaultConfig().OSC.Addr {
		t.Errorf("expected default OSC addr, got %s", cfg.OSC.Addr)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chainrig.yaml")
	data := []byte("clock:\n  bpm: 90\nscheduler:\n  min_delay: 5ms\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Clock.BPM != 90 {
		t.Errorf("expected BPM=90, got %v", cfg.Clock.BPM)
	}
	if cfg.Clock.Source != ClockTempo {
		t.Errorf("expected Source to keep its default, got %s", cfg.Clock.Source)
	}
	if cfg.GetMinDelay() != 5*time.Millisecond {
		t.Errorf("expected MinDelay=5ms, got %v", cfg.GetMinDelay())
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chainrig.yaml")
	if err := os.WriteFile(path, []byte("clock: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := &Config{}
	if got := cfg.GetMinDelay(); got != 10*time.Millisecond {
		t.Errorf("GetMinDelay fallback = %v", got)
	}
	if got := cfg.GetAudioBuffer(); got != 100*time.Millisecond {
		t.Errorf("GetAudioBuffer fallback = %v", got)
	}
	cfg.Presets.Debounce = "-1s"
	if got := cfg.GetPresetDebounce(); got != 250*time.Millisecond {
		t.Errorf("GetPresetDebounce fallback = %v", got)
	}
	cfg.Audio.Buffer = "50ms"
	if got := cfg.GetAudioBuffer(); got != 50*time.Millisecond {
		t.Errorf("GetAudioBuffer = %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty namespace", func(c *Config) { c.Namespace = "/" }},
		{"nested namespace", func(c *Config) { c.Namespace = "a/b" }},
		{"unknown clock", func(c *Config) { c.Clock.Source = "sundial" }},
		{"zero bpm", func(c *Config) { c.Clock.BPM = 0 }},
		{"bad osc addr", func(c *Config) { c.OSC.Addr = "57130" }},
		{"bad metrics addr", func(c *Config) { c.Metrics.Addr = "localhost" }},
		{"bad sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"one slot", func(c *Config) { c.Chains.DefaultSlots = 1 }},
		{"too many slots", func(c *Config) { c.Chains.DefaultSlots = 1000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected %s to fail validation", tt.name)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Clock.Source = ClockMIDI
	cfg.Clock.BPM = 0
	cfg.Audio.Enabled = false
	cfg.Audio.SampleRate = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected midi clock without bpm to validate, got %v", err)
	}
}

func TestLoggingConfig_Logger(t *testing.T) {
	lc := LoggingConfig{Level: "debug", Format: "json", File: "x.log", Categories: map[string]bool{"clock": false}}
	got := lc.Logger()
	if got.Level != "debug" || got.Format != "json" || got.File != "x.log" {
		t.Errorf("unexpected conversion: %+v", got)
	}
	if got.Categories["clock"] {
		t.Error("expected clock category to carry over disabled")
	}
}
