// Package plugin is the TouchPortal MQTT bridge itself.
//
// A Plugin receives the host's settings through the touchportal.Handler
// callbacks, validates them and (re)connects an MQTT client that subscribes
// to every configured topic slot. Each delivered message is queued on an
// in-process watermill channel; a single worker maps it back to its slot
// and pulses the TouchPortal states:
//
//	lastBroadcastedTopic = "Topic N"
//	topicNpayload        = <payload>
//	(reset delay)
//	lastBroadcastedTopic = "Any topic"
//
// The number of slots is configurable, but TouchPortal only accepts
// settings and states declared in entry.tp, so BuildEntry must be run with
// the same count.
package plugin
