package store

import (
	"encoding/json"
	"time"
)

// NetworkState holds the parameters the gateway last applied to the stack.
// NetworkKey is hidden from API/JSON serialization via json:"-".
type NetworkState struct {
	Channel     uint8     `json:"channel"`
	PanID       uint16    `json:"pan_id"`
	ExtPanID    string    `json:"ext_pan_id"`
	NetworkName string    `json:"network_name"`
	NetworkKey  string    `json:"-"`
	Formed      bool      `json:"formed"`
	FormedAt    time.Time `json:"formed_at"`
}

// networkStateStorage is the on-disk form, which keeps the network key.
type networkStateStorage struct {
	Channel     uint8     `json:"channel"`
	PanID       uint16    `json:"pan_id"`
	ExtPanID    string    `json:"ext_pan_id"`
	NetworkName string    `json:"network_name"`
	NetworkKey  string    `json:"network_key,omitempty"`
	Formed      bool      `json:"formed"`
	FormedAt    time.Time `json:"formed_at"`
}

// DiagnosticsSnapshot is one published diagnostics document.
type DiagnosticsSnapshot struct {
	Document  json.RawMessage `json:"document"`
	Responses int             `json:"responses"`
	UpdatedAt time.Time       `json:"updated_at"`
}
