package mqtt

import (
	"fmt"
	"strings"
)

const sharedPrefix = "$share/"

// ValidateFilter checks a subscription filter against the MQTT wildcard rules:
// "#" only as the whole last level, "+" only as a whole level, no NUL bytes.
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: filter cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsRune(filter, 0) {
		return fmt.Errorf("%w: filter contains NUL", ErrInvalidTopic)
	}

	levels := strings.Split(stripShared(filter), "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: %q: '#' must be the whole last level", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: %q: '+' must occupy a whole level", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// ValidateTopic checks a publish topic: non-empty and wildcard free.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#\x00") {
		return fmt.Errorf("%w: %q contains wildcard or NUL", ErrInvalidTopic, topic)
	}
	return nil
}

// MatchTopic reports whether a concrete topic matches a subscription filter.
//
// Wildcards at the first level never match topics starting with '$'.
// Shared-subscription filters ($share/group/...) match on their inner filter.
func MatchTopic(filter, topic string) bool {
	filter = stripShared(filter)
	if filter == "" || topic == "" {
		return false
	}
	if strings.HasPrefix(topic, "$") && (filter[0] == '+' || filter[0] == '#') {
		return false
	}

	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, part := range f {
		if part == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if part != "+" && part != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

func stripShared(filter string) string {
	if !strings.HasPrefix(filter, sharedPrefix) {
		return filter
	}
	rest := strings.TrimPrefix(filter, sharedPrefix)
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return rest[idx+1:]
	}
	return ""
}
