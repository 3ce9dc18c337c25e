package plugin

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/touchportal-mqtt/internal/infrastructure/config"
)

// TouchPortal setting names. They must match entry.tp exactly.
const (
	SettingClientID = "MQTT Client Id"
	SettingHost     = "MQTT Hostname"
	SettingPort     = "MQTT Port"
	SettingUseSSL   = "Use SSL / MQTTS"
	SettingUseV3    = "Use older MQTT V3 instead of V5"
	SettingUsername = "Mqtt Username"
	SettingPassword = "Mqtt Password / Secret"

	topicSettingPrefix = "Mqtt Topic #"
)

// TopicSetting returns the setting name for a topic slot, e.g. "Mqtt Topic #2".
func TopicSetting(slot int) string {
	return topicSettingPrefix + strconv.Itoa(slot)
}

var settingsValidator = validator.New()

func init() {
	_ = settingsValidator.RegisterValidation("port", validatePort)
	_ = settingsValidator.RegisterValidation("tpbool", validateTPBool)
}

func validatePort(fl validator.FieldLevel) bool {
	n, err := strconv.Atoi(fl.Field().String())
	return err == nil && n >= 1 && n <= 65535
}

// TouchPortal sends switches as the literal strings "true" and "false".
func validateTPBool(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return v == "true" || v == "false"
}

// Settings is the plugin configuration as TouchPortal stores it: every
// value is a string.
type Settings struct {
	ClientID string `validate:"required"`
	Host     string `validate:"required"`
	Port     string `validate:"required,port"`
	UseSSL   string `validate:"required,tpbool"`
	UseV3    string `validate:"required,tpbool"`
	Username string `validate:"required"`
	Password string `validate:"required"`

	// Topics holds slot 1..N in order; empty strings are unused slots.
	Topics []string
}

// settingFields maps struct fields to the setting name and the label used
// in log lines.
var settingFields = map[string]struct{ setting, label string }{
	"ClientID": {SettingClientID, "Client ID"},
	"Host":     {SettingHost, "MQTT Host"},
	"Port":     {SettingPort, "MQTT Port"},
	"UseSSL":   {SettingUseSSL, "MQTT Use SSL"},
	"UseV3":    {SettingUseV3, "MQTT Version"},
	"Username": {SettingUsername, "MQTT Username"},
	"Password": {SettingPassword, "MQTT Password"},
}

// ParseSettings reads the named settings out of a flattened TouchPortal
// settings map. Missing keys become empty strings. Surrounding whitespace
// is trimmed from everything but the password, so a blank value fails
// "required".
func ParseSettings(values map[string]string, slots int) Settings {
	s := Settings{
		ClientID: strings.TrimSpace(values[SettingClientID]),
		Host:     strings.TrimSpace(values[SettingHost]),
		Port:     strings.TrimSpace(values[SettingPort]),
		UseSSL:   values[SettingUseSSL],
		UseV3:    values[SettingUseV3],
		Username: strings.TrimSpace(values[SettingUsername]),
		Password: values[SettingPassword],
		Topics:   make([]string, max(slots, 0)),
	}
	for i := range s.Topics {
		s.Topics[i] = strings.TrimSpace(values[TopicSetting(i+1)])
	}
	return s
}

// Validate logs one error per missing or malformed field and reports
// whether the connection settings are complete.
func (s Settings) Validate(logger Logger) bool {
	err := settingsValidator.Struct(s)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		logger.Error("validating settings failed", "error", err)
		return false
	}

	for _, fe := range verrs {
		field := settingFields[fe.StructField()]
		switch fe.Tag() {
		case "required":
			logger.Error(field.label+" is not set up", "setting", field.setting)
		case "port":
			logger.Error(field.label+" must be a number between 1 and 65535", "setting", field.setting, "value", fe.Value())
		case "tpbool":
			logger.Error(field.label+" is not set up correctly, should be 'true' or 'false'", "setting", field.setting, "value", fe.Value())
		default:
			logger.Error(field.label+" is invalid", "setting", field.setting, "rule", fe.Tag())
		}
	}
	return false
}

// ValidateTopics reports whether at least one topic slot is filled.
func (s Settings) ValidateTopics(logger Logger) bool {
	for _, t := range s.Topics {
		if t != "" {
			return true
		}
	}
	logger.Error("no MQTT topics set up", "slots", len(s.Topics))
	return false
}

// MQTTConfig overlays the TouchPortal connection settings onto base, which
// carries the YAML defaults (QoS, keep-alive, status topic). Settings must
// have passed Validate.
func (s Settings) MQTTConfig(base config.MQTTConfig) config.MQTTConfig {
	cfg := base
	cfg.Broker.ClientID = s.ClientID
	cfg.Broker.Host = s.Host
	if port, err := strconv.Atoi(s.Port); err == nil {
		cfg.Broker.Port = port
	}
	cfg.Broker.TLS = s.UseSSL == "true"
	cfg.Broker.ProtocolVersion = config.ProtocolV5
	if s.UseV3 == "true" {
		cfg.Broker.ProtocolVersion = config.ProtocolV311
	}
	cfg.Auth.Username = s.Username
	cfg.Auth.Password = s.Password
	return cfg
}
