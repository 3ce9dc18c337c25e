package touchportal

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// SDKVersion is the entry.tp schema version written by this package.
const SDKVersion = 6

// Entry is the entry.tp plugin description TouchPortal reads at install time.
// Settings and states must be declared here; the host rejects updates for
// anything it does not know about.
type Entry struct {
	SDK            int           `json:"sdk"`
	Version        int           `json:"version"`
	Name           string        `json:"name"`
	ID             string        `json:"id"`
	Configuration  Configuration `json:"configuration"`
	PluginStartCmd string        `json:"plugin_start_cmd,omitempty"`
	Settings       []Setting     `json:"settings"`
	Categories     []Category    `json:"categories"`
}

// Configuration holds the plugin's visual settings.
type Configuration struct {
	ColorDark  string `json:"colorDark"`
	ColorLight string `json:"colorLight"`
}

// Setting is one user-editable plugin setting.
type Setting struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Default    string `json:"default"`
	IsPassword bool   `json:"isPassword,omitempty"`
	ReadOnly   bool   `json:"readOnly,omitempty"`
	MaxLength  int    `json:"maxLength,omitempty"`
}

// Category groups states, events and actions in the host UI.
type Category struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ImagePath string   `json:"imagepath,omitempty"`
	Actions   []Action `json:"actions"`
	Events    []Event  `json:"events"`
	States    []State  `json:"states"`
}

// Action is declared for completeness; this plugin exposes none.
type Action struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`
}

// Event fires when its backing state changes to a matching value.
type Event struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Format       string   `json:"format"`
	Type         string   `json:"type"`
	ValueType    string   `json:"valueType"`
	ValueChoices []string `json:"valueChoices,omitempty"`
	ValueStateID string   `json:"valueStateId"`
}

// State is a value the plugin can push with UpdateState.
type State struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Desc         string   `json:"desc"`
	Default      string   `json:"default"`
	ValueChoices []string `json:"valueChoices,omitempty"`
}

// Validate checks the fields TouchPortal requires.
func (e Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntry)
	}
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}
	if len(e.Categories) == 0 {
		return fmt.Errorf("%w: at least one category is required", ErrInvalidEntry)
	}

	seen := make(map[string]bool)
	for _, cat := range e.Categories {
		for _, s := range cat.States {
			if seen[s.ID] {
				return fmt.Errorf("%w: duplicate state id %q", ErrInvalidEntry, s.ID)
			}
			seen[s.ID] = true
		}
	}
	for _, cat := range e.Categories {
		for _, ev := range cat.Events {
			if ev.ValueStateID != "" && !seen[ev.ValueStateID] {
				return fmt.Errorf("%w: event %q references unknown state %q", ErrInvalidEntry, ev.ID, ev.ValueStateID)
			}
		}
	}
	return nil
}

// WriteEntry validates e and writes it as indented JSON to path on fs,
// creating parent directories as needed.
func WriteEntry(fs afero.Fs, path string, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating entry directory: %w", err)
		}
	}

	if err := afero.WriteFile(fs, path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}
	return nil
}

// ReadEntry loads an entry.tp file from fs.
func ReadEntry(fs afero.Fs, path string) (Entry, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Entry{}, fmt.Errorf("reading entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}
	return e, nil
}
