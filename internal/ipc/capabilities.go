package ipc

import "encoding/json"

// Capabilities is the reply body for a capabilities query, per spec.md
// §4.5: "supported protocol versions, supported message types,
// max_payload_size, and an optional features list".
type Capabilities struct {
	ProtocolVersions []int    `json:"protocol_versions"`
	MessageTypes     []string `json:"message_types"`
	MaxPayloadSize   int      `json:"max_payload_size"`
	Features         []string `json:"features,omitempty"`
}

// DefaultCapabilities describes this server's support surface.
func DefaultCapabilities(features ...string) Capabilities {
	return Capabilities{
		ProtocolVersions: []int{int(ProtocolVersion)},
		MessageTypes: []string{
			"TASK_SUBMIT", "TASK_QUERY", "TASK_CANCEL",
			"RESPONSE_OK", "RESPONSE_ERROR", "PING", "PONG",
		},
		MaxPayloadSize: MaxPayloadSize,
		Features:       features,
	}
}

// Encode marshals the capabilities payload to JSON bytes.
func (c Capabilities) Encode() []byte {
	b, _ := json.Marshal(c)
	return b
}
