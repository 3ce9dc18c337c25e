// Package config handles loading and validating the TouchPortal MQTT plugin configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (TPMQTT_*)
//   - Validation of required fields
//   - Default value handling
//   - Reloading on file change (Watch)
//
// Broker address, credentials and topic filters are normally supplied by
// TouchPortal's plugin settings at runtime. The mqtt section here only
// provides defaults and the options TouchPortal has no setting for (QoS,
// keepalive, status topic).
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//     or a .env file next to the binary
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.LoadOrDefault("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.TopicSlots)
package config
