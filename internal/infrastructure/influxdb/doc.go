// Package influxdb records numeric MQTT payloads as time-series points.
//
// Each payload that parses as a number becomes a point in the
// "mqtt_payload" measurement tagged with its topic slot and topic, with the
// number in the "value" field. Non-numeric payloads are skipped. Writes go
// through the client's batched write API and never block the caller;
// asynchronous batch failures reach the SetOnError callback.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // metrics are optional
//	}
//	defer client.Close()
//
//	client.RecordPayload(ev)
package influxdb
