package plugin

import (
	"strconv"

	"github.com/nerrad567/touchportal-mqtt/internal/payload"
	"github.com/nerrad567/touchportal-mqtt/internal/touchportal"
)

const (
	// DefaultPluginID is the id TouchPortal pairs the plugin under.
	DefaultPluginID = "TouchPortalMQTTPlugin"

	// AnyTopic is the idle value of the last-topic state.
	AnyTopic = "Any topic"

	pluginName   = "TouchPortal MQTT Plugin"
	categoryName = "BaseCategory"
	lastTopicID  = "lastBroadcastedTopic"
	colorDark    = "#203060"
	colorLight   = "#4070F0"
	iconPath     = "%TP_PLUGIN_FOLDER%TouchPortalMQTTPlugin/images/icon-24.png"
)

// CategoryID is the id of the plugin's single category.
func CategoryID(pluginID string) string {
	return pluginID + "." + categoryName
}

// LastTopicStateID is the state holding "Topic N" while a payload is
// announced and "Any topic" otherwise.
func LastTopicStateID(pluginID string) string {
	return CategoryID(pluginID) + ".state." + lastTopicID
}

// PayloadStateID is the state holding the latest payload of a slot.
func PayloadStateID(pluginID string, slot int) string {
	return CategoryID(pluginID) + ".state.topic" + strconv.Itoa(slot) + "payload"
}

// LastTopicEventID is the event fired when the last-topic state changes.
func LastTopicEventID(pluginID string) string {
	return CategoryID(pluginID) + ".event." + lastTopicID
}

// Description parameterises the generated entry.tp.
type Description struct {
	PluginID string
	Version  int
	Slots    int

	// StartCmd is the command TouchPortal runs to launch the plugin.
	StartCmd string
}

// BuildEntry describes the plugin to TouchPortal: the connection settings,
// one topic setting and one payload state per slot, and the last-topic
// state with its event.
func BuildEntry(d Description) touchportal.Entry {
	if d.PluginID == "" {
		d.PluginID = DefaultPluginID
	}
	if d.Slots <= 0 {
		d.Slots = defaultSlots
	}

	settings := []touchportal.Setting{
		{Name: SettingClientID, Type: "text", Default: "mqtt-client-id"},
		{Name: SettingHost, Type: "text", Default: "localhost"},
		{Name: SettingPort, Type: "number", Default: "1883"},
		{Name: SettingUseSSL, Type: "text", Default: "false"},
		{Name: SettingUseV3, Type: "text", Default: "false"},
		{Name: SettingUsername, Type: "text", Default: ""},
		{Name: SettingPassword, Type: "text", Default: "", IsPassword: true},
	}

	choices := make([]string, 0, d.Slots+1)
	choices = append(choices, AnyTopic)

	states := []touchportal.State{{
		ID:      LastTopicStateID(d.PluginID),
		Type:    "text",
		Desc:    "Last broadcasted topic",
		Default: payload.SlotLabel(1),
	}}

	for slot := 1; slot <= d.Slots; slot++ {
		settings = append(settings, touchportal.Setting{Name: TopicSetting(slot), Type: "text", Default: ""})
		choices = append(choices, payload.SlotLabel(slot))
		states = append(states, touchportal.State{
			ID:      PayloadStateID(d.PluginID, slot),
			Type:    "text",
			Desc:    "MQTT Topic " + strconv.Itoa(slot) + " payload",
			Default: "{}",
		})
	}

	return touchportal.Entry{
		SDK:            touchportal.SDKVersion,
		Version:        d.Version,
		Name:           pluginName,
		ID:             d.PluginID,
		Configuration:  touchportal.Configuration{ColorDark: colorDark, ColorLight: colorLight},
		PluginStartCmd: d.StartCmd,
		Settings:       settings,
		Categories: []touchportal.Category{{
			ID:        CategoryID(d.PluginID),
			Name:      pluginName,
			ImagePath: iconPath,
			Actions:   []touchportal.Action{},
			States:    states,
			Events: []touchportal.Event{{
				ID:           LastTopicEventID(d.PluginID),
				Name:         "When MQTT broadcasts a value on",
				Format:       "When MQTT broadcasts a value on $val",
				Type:         "communicate",
				ValueType:    "choice",
				ValueChoices: choices,
				ValueStateID: LastTopicStateID(d.PluginID),
			}},
		}},
	}
}
