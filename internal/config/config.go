package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chainrig/internal/chain"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "chainrig.yaml"

// Config holds all chainrig configuration.
type Config struct {
	// Command address namespace: commands arrive at /<namespace>/<command>.
	Namespace string `yaml:"namespace"`

	// Transports
	OSC     OSCConfig     `yaml:"osc"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Timing
	Clock     ClockConfig     `yaml:"clock"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Sound and chains
	Audio  AudioConfig  `yaml:"audio"`
	Chains ChainsConfig `yaml:"chains"`

	// Persistence
	Presets PresetsConfig `yaml:"presets"`
	Journal JournalConfig `yaml:"journal"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// OSCConfig configures the UDP command listener.
type OSCConfig struct {
	Addr string `yaml:"addr"` // host:port, empty disables
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // host:port, empty disables
}

// ClockConfig selects the beat clock used for beat-aligned switches.
type ClockConfig struct {
	Source   string  `yaml:"source"`    // tempo, midi
	BPM      float64 `yaml:"bpm"`       // tempo source only
	MIDIPort string  `yaml:"midi_port"` // midi source only; substring of the input port name
}

// SchedulerConfig configures delayed switches.
type SchedulerConfig struct {
	MinDelay string `yaml:"min_delay"` // floor for switchAfter, e.g. "10ms"
}

// AudioConfig configures the beep audio engine.
type AudioConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SampleRate int    `yaml:"sample_rate"`
	Buffer     string `yaml:"buffer"` // speaker buffer length, e.g. "100ms"
}

// ChainsConfig sets chain defaults.
type ChainsConfig struct {
	DefaultSlots int `yaml:"default_slots"`
}

// PresetsConfig configures the preset directory.
type PresetsConfig struct {
	Dir      string `yaml:"dir"`
	Watch    bool   `yaml:"watch"`
	Debounce string `yaml:"debounce"`
}

// JournalConfig configures the switch journal.
type JournalConfig struct {
	Path string `yaml:"path"` // sqlite file, empty disables
}

// Clock sources.
const (
	ClockTempo = "tempo"
	ClockMIDI  = "midi"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Namespace: "chainrig",

		OSC: OSCConfig{
			Addr: "127.0.0.1:57130",
		},
		Metrics: MetricsConfig{
			Addr: "",
		},

		Clock: ClockConfig{
			Source: ClockTempo,
			BPM:    120,
		},
		Scheduler: SchedulerConfig{
			MinDelay: "10ms",
		},

		Audio: AudioConfig{
			Enabled:    true,
			SampleRate: 44100,
			Buffer:     "100ms",
		},
		Chains: ChainsConfig{
			DefaultSlots: 6,
		},

		Presets: PresetsConfig{
			Dir:      "presets",
			Watch:    true,
			Debounce: "250ms",
		},
		Journal: JournalConfig{
			Path: ".chainrig/journal.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Defaults if the file doesn't exist
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CHAINRIG_NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := os.Getenv("CHAINRIG_OSC_ADDR"); v != "" {
		c.OSC.Addr = v
	}
	if v := os.Getenv("CHAINRIG_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("CHAINRIG_JOURNAL"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("CHAINRIG_PRESETS"); v != "" {
		c.Presets.Dir = v
	}
	if v := os.Getenv("CHAINRIG_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// GetMinDelay returns the scheduler delay floor as a duration.
func (c *Config) GetMinDelay() time.Duration {
	return parseDuration(c.Scheduler.MinDelay, 10*time.Millisecond)
}

// GetAudioBuffer returns the speaker buffer length as a duration.
func (c *Config) GetAudioBuffer() time.Duration {
	return parseDuration(c.Audio.Buffer, 100*time.Millisecond)
}

// GetPresetDebounce returns the preset reload debounce as a duration.
func (c *Config) GetPresetDebounce() time.Duration {
	return parseDuration(c.Presets.Debounce, 250*time.Millisecond)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidClockSources lists the supported beat clock sources.
var ValidClockSources = []string{ClockTempo, ClockMIDI}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.Trim(c.Namespace, "/ ") == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	if strings.Contains(strings.Trim(c.Namespace, "/"), "/") {
		return fmt.Errorf("invalid namespace %q: must be a single address segment", c.Namespace)
	}

	validSource := false
	for _, s := range ValidClockSources {
		if c.Clock.Source == s {
			validSource = true
			break
		}
	}
	if !validSource {
		return fmt.Errorf("invalid clock source: %s (valid: %v)", c.Clock.Source, ValidClockSources)
	}
	if c.Clock.Source == ClockTempo && c.Clock.BPM <= 0 {
		return fmt.Errorf("invalid bpm %v: must be positive", c.Clock.BPM)
	}

	for name, addr := range map[string]string{"osc.addr": c.OSC.Addr, "metrics.addr": c.Metrics.Addr} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, addr, err)
		}
	}

	if c.Audio.Enabled && c.Audio.SampleRate <= 0 {
		return fmt.Errorf("invalid audio sample_rate %d", c.Audio.SampleRate)
	}
	if c.Chains.DefaultSlots < chain.MinSlots || c.Chains.DefaultSlots > chain.MaxSlots {
		return fmt.Errorf("invalid chains default_slots %d: must be %d-%d",
			c.Chains.DefaultSlots, chain.MinSlots, chain.MaxSlots)
	}

	return nil
}

// IsMIDIClock returns whether beat-aligned switches follow an external MIDI clock.
func (c *Config) IsMIDIClock() bool {
	return c.Clock.Source == ClockMIDI
}
