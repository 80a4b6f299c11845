package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/andrewsiemer/matrix-os/internal/domain/app"
)

// Roster lists the apps registered at start-up.
type Roster struct {
	Apps []RosterEntry `yaml:"apps" toml:"apps"`
}

// RosterEntry is one app in the roster. Options are decoded strictly into
// the kind's typed option struct when the entry is resolved.
type RosterEntry struct {
	Kind       string         `yaml:"kind" toml:"kind"`
	Duration   string         `yaml:"duration,omitempty" toml:"duration,omitempty"`
	Priority   int            `yaml:"priority,omitempty" toml:"priority,omitempty"`
	Overlay    bool           `yaml:"overlay,omitempty" toml:"overlay,omitempty"`
	Persistent bool           `yaml:"persistent,omitempty" toml:"persistent,omitempty"`
	Options    map[string]any `yaml:"options,omitempty" toml:"options,omitempty"`
}

// Spec returns the serializable app spec of the entry
func (e RosterEntry) Spec() (app.Spec, error) {
	if len(e.Options) == 0 {
		return app.Spec{Kind: e.Kind}, nil
	}
	return app.NewSpec(e.Kind, e.Options)
}

// DurationOr parses the entry duration, falling back to def when unset
func (e RosterEntry) DurationOr(def time.Duration) (time.Duration, error) {
	if e.Duration == "" {
		return def, nil
	}
	d, err := time.ParseDuration(e.Duration)
	if err != nil {
		return 0, fmt.Errorf("app %s: duration: %w", e.Kind, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("app %s: duration must be positive, got %s", e.Kind, e.Duration)
	}
	return d, nil
}

// LoadRoster reads a roster file. Files ending in .toml are parsed as
// TOML, anything else as YAML.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseRosterTOML(data)
	}
	return ParseRoster(data)
}

// ParseRoster parses a YAML roster
func ParseRoster(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	return r.checked()
}

// ParseRosterTOML parses a TOML roster with one [[apps]] table per entry
func ParseRosterTOML(data []byte) (*Roster, error) {
	var r Roster
	if err := toml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	return r.checked()
}

func (r Roster) checked() (*Roster, error) {
	for i, e := range r.Apps {
		if e.Kind == "" {
			return nil, fmt.Errorf("roster entry %d: missing kind", i)
		}
	}
	return &r, nil
}

// Validate checks every entry against the registry: known kind, valid
// options, positive duration, at most one overlay.
func (r *Roster) Validate(registry *app.Registry) error {
	var errs []error
	overlays := 0
	for i, e := range r.Apps {
		spec, err := e.Spec()
		if err == nil {
			_, err = registry.Resolve(spec)
		}
		if err == nil {
			_, err = e.DurationOr(time.Second)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("roster entry %d: %w", i, err))
		}
		if e.Overlay {
			overlays++
		}
	}
	if overlays > 1 {
		errs = append(errs, fmt.Errorf("roster declares %d overlay apps, at most one is allowed", overlays))
	}
	return errors.Join(errs...)
}
