package plugin

import (
	"fmt"
	"strings"
)

// Slot is one registered topic slot.
type Slot struct {
	Index  int    `json:"slot"`
	Filter string `json:"filter"`
}

// TopicMap maps topic slots to MQTT filters and back. It is immutable
// once built; re-initialisation swaps in a new map.
type TopicMap struct {
	slots    []Slot
	byFilter map[string]int
}

// NewTopicMap registers topics[i] as slot i+1, skipping empty strings.
// When a filter appears in several slots the lowest slot owns it.
func NewTopicMap(topics []string) *TopicMap {
	m := &TopicMap{byFilter: make(map[string]int, len(topics))}
	for i, filter := range topics {
		if filter == "" {
			continue
		}
		slot := i + 1
		m.slots = append(m.slots, Slot{Index: slot, Filter: filter})
		if _, taken := m.byFilter[filter]; !taken {
			m.byFilter[filter] = slot
		}
	}
	return m
}

// Lookup returns the slot a subscription filter was registered under.
func (m *TopicMap) Lookup(filter string) (int, bool) {
	if m == nil {
		return 0, false
	}
	slot, ok := m.byFilter[filter]
	return slot, ok
}

// Filters returns each distinct filter once, in slot order.
func (m *TopicMap) Filters() []string {
	if m == nil {
		return nil
	}
	filters := make([]string, 0, len(m.byFilter))
	for _, s := range m.slots {
		if m.byFilter[s.Filter] == s.Index {
			filters = append(filters, s.Filter)
		}
	}
	return filters
}

// Slots returns every registered slot in order, duplicates included.
func (m *TopicMap) Slots() []Slot {
	if m == nil {
		return nil
	}
	return append([]Slot(nil), m.slots...)
}

// Len is the number of registered slots.
func (m *TopicMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.slots)
}

// String renders the mapping for log lines, e.g. "{1=a/b, 3=c}".
func (m *TopicMap) String() string {
	if m == nil {
		return "{}"
	}
	parts := make([]string, len(m.slots))
	for i, s := range m.slots {
		parts[i] = fmt.Sprintf("%d=%s", s.Index, s.Filter)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
