// Package profile persists named controller profiles as JSON files under the
// daemon's config directory. A profile bundles the output settings and input
// shaping a client wants applied in one shot.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/dualsense-tools/dsud/internal/report"
	"github.com/dualsense-tools/dsud/internal/transform"
)

var (
	ErrNotFound = errors.New("profile: not found")
	ErrBadName  = errors.New("profile: invalid name")
)

// nameRe keeps profile names filesystem-safe on every platform the daemon
// runs on.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]{0,63}$`)

// TriggerEffect is a stored adaptive trigger program.
type TriggerEffect struct {
	Left   bool   `json:"left"`
	Right  bool   `json:"right"`
	Mode   uint8  `json:"mode"`
	Params []byte `json:"params,omitempty"`
}

// Profile is one named settings bundle. Nil fields are left untouched when
// the profile is applied.
type Profile struct {
	Name string `json:"name"`

	Lightbar        *report.LedState   `json:"lightbar,omitempty"`
	LightbarEnabled *bool              `json:"lightbarEnabled,omitempty"`
	PlayerLeds      *uint8             `json:"playerLeds,omitempty"`
	MicLed          *report.MicLedMode `json:"micLed,omitempty"`
	MicMuted        *bool              `json:"micMuted,omitempty"`

	RumbleAttenuation  *uint8         `json:"rumbleAttenuation,omitempty"`
	TriggerAttenuation *uint8         `json:"triggerAttenuation,omitempty"`
	TriggerEffect      *TriggerEffect `json:"triggerEffect,omitempty"`

	Transform *transform.Transform `json:"transform,omitempty"`
}

// Store reads and writes profiles in one directory.
type Store struct {
	dir string
}

// NewStore creates the profile directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("profile dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) (string, error) {
	if !nameRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// List returns the stored profile names, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("profile list: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		if nameRe.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Save writes a profile under its name, replacing any previous version.
func (s *Store) Save(p Profile) error {
	path, err := s.path(p.Name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("profile encode: %w", err)
	}
	data = append(data, '\n')

	// Write-then-rename so a crash never leaves a half-written profile.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("profile write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("profile write: %w", err)
	}
	return nil
}

// Load reads one profile by name.
func (s *Store) Load(name string) (Profile, error) {
	path, err := s.path(name)
	if err != nil {
		return Profile{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Profile{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("profile read: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("profile %q: %w", name, err)
	}
	p.Name = name
	return p, nil
}

// Delete removes one profile by name.
func (s *Store) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return err
}
