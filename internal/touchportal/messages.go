package touchportal

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Host → plugin message types.
const (
	TypeInfo                      = "info"
	TypeSettings                  = "settings"
	TypeClosePlugin               = "closePlugin"
	TypeBroadcast                 = "broadcast"
	TypeListChange                = "listChange"
	TypeAction                    = "action"
	TypeDown                      = "down"
	TypeUp                        = "up"
	TypeNotificationOptionClicked = "notificationOptionClicked"
)

// Plugin → host message types.
const (
	typePair          = "pair"
	typeStateUpdate   = "stateUpdate"
	typeSettingUpdate = "settingUpdate"
)

// Message is a decoded host message. Only the fields relevant to Type are set.
type Message struct {
	Type string `json:"type"`

	// info
	Status          string `json:"status,omitempty"`
	SDKVersion      int    `json:"sdkVersion,omitempty"`
	TPVersionString string `json:"tpVersionString,omitempty"`
	TPVersionCode   int    `json:"tpVersionCode,omitempty"`
	PluginVersion   int    `json:"pluginVersion,omitempty"`

	// info carries settings under "settings", the settings message under "values".
	RawSettings []map[string]any `json:"settings,omitempty"`
	RawValues   []map[string]any `json:"values,omitempty"`

	// action, listChange
	PluginID   string       `json:"pluginId,omitempty"`
	ActionID   string       `json:"actionId,omitempty"`
	Data       []ActionData `json:"data,omitempty"`
	ListID     string       `json:"listId,omitempty"`
	InstanceID string       `json:"instanceId,omitempty"`
	Value      string       `json:"value,omitempty"`

	// broadcast
	Event    string `json:"event,omitempty"`
	PageName string `json:"pageName,omitempty"`

	// notificationOptionClicked
	NotificationID string `json:"notificationId,omitempty"`
	OptionID       string `json:"optionId,omitempty"`
}

// ActionData is one id/value pair of an action's data list.
type ActionData struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Info is the host's reply to pairing.
type Info struct {
	Status          string
	SDKVersion      int
	TPVersionString string
	TPVersionCode   int
	PluginVersion   int
	Settings        map[string]string
}

// Settings returns the message's settings as a flat map, taken from
// "values" for settings messages and "settings" for info messages.
func (m Message) Settings() map[string]string {
	if m.Type == TypeSettings {
		return flattenSettings(m.RawValues)
	}
	return flattenSettings(m.RawSettings)
}

// Info converts an info message.
func (m Message) Info() Info {
	return Info{
		Status:          m.Status,
		SDKVersion:      m.SDKVersion,
		TPVersionString: m.TPVersionString,
		TPVersionCode:   m.TPVersionCode,
		PluginVersion:   m.PluginVersion,
		Settings:        m.Settings(),
	}
}

// flattenSettings converts TouchPortal's [{"Name":"value"}, ...] array into a map.
// Non-string values are rendered in their JSON text form; null becomes "".
func flattenSettings(raw []map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for _, entry := range raw {
		for name, value := range entry {
			out[name] = settingString(value)
		}
	}
	return out
}

func settingString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// decodeMessage parses one line from the plugin socket.
func decodeMessage(line []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}
	return msg, nil
}

type pairMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type stateUpdateMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Value string `json:"value"`
}

type settingUpdateMessage struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

