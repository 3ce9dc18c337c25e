package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/touchportal-mqtt/internal/payload"
)

// Measurement is the InfluxDB measurement payload points are written to.
const Measurement = "mqtt_payload"

// RecordPayload writes ev as a point when its payload is a plain number.
// Other payloads (JSON, text) are counted as skipped. The write is
// non-blocking; the batch is sent in the background.
func (c *Client) RecordPayload(ev payload.Event) {
	if !c.IsConnected() {
		return
	}

	value, ok := ev.Numeric()
	if !ok {
		c.skipped.Add(1)
		return
	}

	ts := ev.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	c.writeAPI.WritePoint(payloadPoint(ev, value, ts))
	c.written.Add(1)
}

func payloadPoint(ev payload.Event, value float64, ts time.Time) *write.Point {
	return write.NewPoint(
		Measurement,
		map[string]string{
			"slot":  strconv.Itoa(ev.Slot),
			"topic": ev.Topic,
		},
		map[string]any{
			"value": value,
		},
		ts,
	)
}
