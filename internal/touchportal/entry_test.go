package touchportal

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
)

func sampleEntry() Entry {
	return Entry{
		SDK:     SDKVersion,
		Version: 1,
		Name:    "Sample",
		ID:      "Sample",
		Settings: []Setting{
			{Name: "Secret", Type: "text", IsPassword: true},
		},
		Categories: []Category{{
			ID:   "Sample.BaseCategory",
			Name: "Sample",
			States: []State{
				{ID: "Sample.state.a", Type: "text", Desc: "A", Default: "{}"},
			},
			Events: []Event{
				{ID: "Sample.event.a", Name: "A", Type: "communicate", ValueType: "choice", ValueStateID: "Sample.state.a"},
			},
		}},
	}
}

func TestWriteEntry_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "plugins/Sample/entry.tp"

	if err := WriteEntry(fs, path, sampleEntry()); err != nil {
		t.Fatalf("WriteEntry() error = %v", err)
	}

	exists, err := afero.Exists(fs, path)
	if err != nil || !exists {
		t.Fatalf("entry file missing: exists=%v err=%v", exists, err)
	}

	got, err := ReadEntry(fs, path)
	if err != nil {
		t.Fatalf("ReadEntry() error = %v", err)
	}
	if got.ID != "Sample" || len(got.Categories) != 1 || !got.Settings[0].IsPassword {
		t.Errorf("ReadEntry() = %+v, want the written entry", got)
	}
}

func TestEntry_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Entry)
	}{
		{name: "missing id", mutate: func(e *Entry) { e.ID = "" }},
		{name: "missing name", mutate: func(e *Entry) { e.Name = "" }},
		{name: "no categories", mutate: func(e *Entry) { e.Categories = nil }},
		{
			name: "duplicate state",
			mutate: func(e *Entry) {
				e.Categories[0].States = append(e.Categories[0].States, e.Categories[0].States[0])
			},
		},
		{
			name:   "event on unknown state",
			mutate: func(e *Entry) { e.Categories[0].Events[0].ValueStateID = "nope" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := sampleEntry()
			tt.mutate(&e)
			if err := WriteEntry(afero.NewMemMapFs(), "entry.tp", e); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("WriteEntry() error = %v, want ErrInvalidEntry", err)
			}
		})
	}
}

func TestReadEntry_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()

	if _, err := ReadEntry(fs, "missing.tp"); err == nil {
		t.Error("ReadEntry() expected error for missing file")
	}

	_ = afero.WriteFile(fs, "bad.tp", []byte("{"), 0o644)
	if _, err := ReadEntry(fs, "bad.tp"); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("ReadEntry() error = %v, want ErrInvalidEntry", err)
	}
}
