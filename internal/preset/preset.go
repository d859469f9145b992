// Package preset loads chain definitions from YAML files so a set can be
// prepared before a performance, and keeps them applied while the files
// change.
//
// File format:
//
//	chains:
//	  - name: A
//	    slots: [saw, gain, left, thru, thru, thru]
package preset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chainrig/internal/chain"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrUnnamedChain is returned for a preset entry without a name.
var ErrUnnamedChain = errors.New("preset chain has no name")

// Preset describes one chain.
type Preset struct {
	Name  string   `yaml:"name"`
	Slots []string `yaml:"slots"`

	// File the preset was read from; empty for presets built in code.
	Source string `yaml:"-"`
}

// File is the on-disk document.
type File struct {
	Chains []Preset `yaml:"chains"`
}

// IsPresetFile reports whether path has a preset extension.
func IsPresetFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFile reads the presets in one file.
func LoadFile(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse preset file %s: %w", path, err)
	}

	for i := range f.Chains {
		f.Chains[i].Name = strings.TrimSpace(f.Chains[i].Name)
		if f.Chains[i].Name == "" {
			return nil, fmt.Errorf("%s: entry %d: %w", path, i, ErrUnnamedChain)
		}
		f.Chains[i].Source = path
	}
	return f.Chains, nil
}

// LoadDir reads every preset file in dir, in file name order. A missing
// directory yields no presets.
func LoadDir(dir string) ([]Preset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read preset dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !IsPresetFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []Preset
	for _, name := range names {
		ps, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	return out, nil
}

// Save writes presets to path as a single document.
func Save(path string, presets []Preset) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create preset directory: %w", err)
	}
	data, err := yaml.Marshal(File{Chains: presets})
	if err != nil {
		return fmt.Errorf("failed to marshal presets: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write presets: %w", err)
	}
	return nil
}

// Capture returns the registry's chains as presets.
func Capture(reg *chain.Registry) []Preset {
	status := reg.Status()
	out := make([]Preset, len(status))
	for i, s := range status {
		slots := make([]string, len(s.Roles))
		for j, r := range s.Roles {
			slots[j] = string(r)
		}
		out[i] = Preset{Name: s.Name, Slots: slots}
	}
	return out
}

// Result summarizes an Apply.
type Result struct {
	Created []string
	Updated []string
	Errors  []error
}

// Err joins the per-chain errors.
func (r Result) Err() error {
	return errors.Join(r.Errors...)
}

// Apply makes the registry match presets: missing chains are created and
// existing ones get their roles replaced. Chains not mentioned are left
// alone.
func Apply(reg *chain.Registry, presets []Preset, logger *zap.Logger) Result {
	if logger == nil {
		logger = zap.NewNop()
	}

	var res Result
	for _, p := range presets {
		c, ok := reg.Resolve(p.Name)
		if !ok {
			c = reg.Create(p.Name, len(p.Slots))
			res.Created = append(res.Created, c.Name())
		} else {
			res.Updated = append(res.Updated, c.Name())
		}
		if len(p.Slots) == 0 {
			continue
		}
		if err := c.SetRoles(p.Slots); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("preset %s: %w", p.Name, err))
			logger.Warn("preset not applied", zap.String("chain", p.Name), zap.Error(err))
		}
	}

	logger.Info("presets applied",
		zap.Int("created", len(res.Created)),
		zap.Int("updated", len(res.Updated)),
		zap.Int("errors", len(res.Errors)))
	return res
}
