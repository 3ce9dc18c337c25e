// Package mqtt provides MQTT client connectivity for the TouchPortal plugin.
//
// This package manages:
//   - Connection to an MQTT broker over 3.1.1 (paho.mqtt.golang) or 5 (autopaho)
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Message publishing
//   - Optional Last Will and Testament on a status topic
//
// Reconnection, QoS delivery and session handling are the libraries'
// defaults; this package only selects the protocol and routes deliveries
// to handlers keyed by subscription filter.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(ctx, "home/+/temperature",
//	    func(filter, topic string, payload []byte) error {
//	        log.Printf("%s (%s) = %s", topic, filter, payload)
//	        return nil
//	    })
package mqtt
