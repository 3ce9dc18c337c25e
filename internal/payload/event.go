// Package payload defines the event that flows from MQTT delivery to the
// TouchPortal state updates and the optional history, metrics and live
// feed sinks.
package payload

import (
	"math"
	"strconv"
	"time"
)

// EventReceived names the live-feed event carrying an Event.
const EventReceived = "payload.received"

// Event is one MQTT message matched to a topic slot.
type Event struct {
	Slot       int       `json:"slot"`
	Filter     string    `json:"filter"`
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// SlotLabel is the value TouchPortal shows for a slot, e.g. "Topic 2".
func SlotLabel(slot int) string {
	return "Topic " + strconv.Itoa(slot)
}

// Numeric reports the payload as a float when it is a plain finite number.
func (e Event) Numeric() (float64, bool) {
	v, err := strconv.ParseFloat(e.Payload, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
