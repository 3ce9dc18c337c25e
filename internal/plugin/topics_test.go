package plugin

import (
	"reflect"
	"testing"
)

func TestTopicMap(t *testing.T) {
	m := NewTopicMap([]string{"a", "b", "", ""})

	tests := []struct {
		filter   string
		wantSlot int
		wantOK   bool
	}{
		{"a", 1, true},
		{"b", 2, true},
		{"c", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		slot, ok := m.Lookup(tt.filter)
		if slot != tt.wantSlot || ok != tt.wantOK {
			t.Errorf("Lookup(%q) = %d, %v; want %d, %v", tt.filter, slot, ok, tt.wantSlot, tt.wantOK)
		}
	}

	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
	if got := m.Filters(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Filters() = %v, want [a b]", got)
	}
	if got := m.String(); got != "{1=a, 2=b}" {
		t.Errorf("String() = %q", got)
	}
}

func TestTopicMap_Duplicates(t *testing.T) {
	m := NewTopicMap([]string{"", "x", "y", "x"})

	if slot, _ := m.Lookup("x"); slot != 2 {
		t.Errorf("Lookup(x) = %d, want lowest slot 2", slot)
	}
	if got := m.Filters(); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Errorf("Filters() = %v, want each filter once", got)
	}
	if m.Len() != 3 {
		t.Errorf("Len() = %d, want 3 registered slots", m.Len())
	}
	want := []Slot{{2, "x"}, {3, "y"}, {4, "x"}}
	if got := m.Slots(); !reflect.DeepEqual(got, want) {
		t.Errorf("Slots() = %v, want %v", got, want)
	}
}

func TestTopicMap_BeyondFourSlots(t *testing.T) {
	topics := make([]string, 8)
	topics[7] = "eighth"
	m := NewTopicMap(topics)

	if slot, ok := m.Lookup("eighth"); !ok || slot != 8 {
		t.Errorf("Lookup(eighth) = %d, %v; want 8", slot, ok)
	}
}

func TestTopicMap_Nil(t *testing.T) {
	var m *TopicMap
	if _, ok := m.Lookup("a"); ok {
		t.Error("nil map Lookup() ok = true")
	}
	if m.Len() != 0 || m.Filters() != nil || m.Slots() != nil || m.String() != "{}" {
		t.Error("nil map should behave as empty")
	}
}
