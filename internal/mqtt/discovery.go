//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/otbr_gateway/channel/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	Device            haDevice `json:"device"`
}

// nodeIdentifier returns the HA node id for a client id, keeping only
// characters that are safe in discovery topics.
func nodeIdentifier(clientID string) string {
	name := strings.ToLower(clientID)
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, name)
	if name == "" {
		return "otbr"
	}
	return name
}

type sensorSpec struct {
	objectID string
	name     string
	field    string
	icon     string
}

var statusSensors = []sensorSpec{
	{"role", "Thread Role", "role", "mdi:lan"},
	{"network_name", "Network Name", "network_name", "mdi:tag"},
	{"channel", "Channel", "channel", "mdi:radio-tower"},
	{"pan_id", "PAN ID", "pan_id", "mdi:identifier"},
	{"ext_pan_id", "Extended PAN ID", "ext_pan_id", "mdi:identifier"},
	{"rloc16", "RLOC16", "rloc16", "mdi:router-network"},
}

var commandButtons = []struct {
	method string
	name   string
	icon   string
}{
	{"threadstart", "Start Thread", "mdi:play"},
	{"threadstop", "Stop Thread", "mdi:stop"},
	{"commissionerstart", "Start Commissioner", "mdi:key-plus"},
}

// buildDiscovery generates HA discovery messages for the border router:
// status sensors, an attached binary sensor and command buttons.
func buildDiscovery(prefix, clientID, version string) []discoveryMsg {
	nodeID := nodeIdentifier(clientID)
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/state"
	dev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "OpenThread",
		Model:        "Border Router",
		Name:         clientID,
		SWVersion:    version,
	}

	msgs := make([]discoveryMsg, 0, len(statusSensors)+len(commandButtons)+1)
	for _, s := range statusSensors {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, s.objectID),
			Payload: mustJSON(haDiscovery{
				Name:              s.name,
				UniqueID:          nodeID + "_" + s.objectID,
				StateTopic:        stateTopic,
				AvailabilityTopic: avail,
				ValueTemplate:     "{{ value_json." + s.field + " }}",
				Icon:              s.icon,
				EntityCategory:    "diagnostic",
				Device:            dev,
			}),
		})
	}

	msgs = append(msgs, discoveryMsg{
		Topic: fmt.Sprintf("homeassistant/binary_sensor/%s/attached/config", nodeID),
		Payload: mustJSON(haDiscovery{
			Name:              "Attached",
			UniqueID:          nodeID + "_attached",
			StateTopic:        stateTopic,
			AvailabilityTopic: avail,
			ValueTemplate:     "{{ 'ON' if value_json.role in ['child', 'router', 'leader'] else 'OFF' }}",
			PayloadOn:         "ON",
			PayloadOff:        "OFF",
			Icon:              "mdi:link-variant",
			Device:            dev,
		}),
	})

	for _, b := range commandButtons {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("homeassistant/button/%s/%s/config", nodeID, b.method),
			Payload: mustJSON(haDiscovery{
				Name:              b.name,
				UniqueID:          nodeID + "_" + b.method,
				CommandTopic:      prefix + "/request/" + b.method,
				AvailabilityTopic: avail,
				PayloadPress:      "{}",
				Icon:              b.icon,
				EntityCategory:    "config",
				Device:            dev,
			}),
		})
	}
	return msgs
}

// buildRemoveDiscovery generates empty retained messages that remove the
// border router from HA. Published on connect when discovery is off so that
// configs retained by an earlier run disappear.
func buildRemoveDiscovery(clientID string) []discoveryMsg {
	nodeID := nodeIdentifier(clientID)

	var msgs []discoveryMsg
	for _, s := range statusSensors {
		msgs = append(msgs, discoveryMsg{Topic: fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, s.objectID)})
	}
	msgs = append(msgs, discoveryMsg{Topic: fmt.Sprintf("homeassistant/binary_sensor/%s/attached/config", nodeID)})
	for _, b := range commandButtons {
		msgs = append(msgs, discoveryMsg{Topic: fmt.Sprintf("homeassistant/button/%s/%s/config", nodeID, b.method)})
	}
	return msgs
}
