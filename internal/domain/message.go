package domain

import (
	"encoding/json"
	"fmt"
)

// Error strings sent to clients in {"error": ...} frames.
const (
	ErrorInvalidAuth      = "invalid auth"
	ErrorPatchFailed      = "patch failed"
	ErrorInvalidHandshake = "invalid handshake"
	ErrorInvalidMessage   = "invalid message"
	ErrorSlowConsumer     = "slow consumer"
)

// EmptyPatch is the patch carried by the initial synchronization packet.
var EmptyPatch = json.RawMessage("[]")

// Credentials is the opaque auth payload of a handshake.
type Credentials map[string]interface{}

// Handshake is the first value a client sends on a connection
type Handshake struct {
	Name       string      `json:"name"`
	Auth       Credentials `json:"auth,omitempty"`
	ConsumerID string      `json:"consumerId,omitempty"`
}

// UpdateFrame is encoded on the wire as [patch, version]
type UpdateFrame struct {
	Patch   json.RawMessage
	Version uint64
}

// NewUpdateFrame converts a commit into its outbound frame
func NewUpdateFrame(c *Commit) UpdateFrame {
	return UpdateFrame{Patch: c.Patch, Version: c.Version}
}

// MarshalJSON implements json.Marshaler
func (f UpdateFrame) MarshalJSON() ([]byte, error) {
	patch := f.Patch
	if len(patch) == 0 {
		patch = EmptyPatch
	}
	return json.Marshal([]interface{}{patch, f.Version})
}

// UnmarshalJSON implements json.Unmarshaler
func (f *UpdateFrame) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("update frame must have 2 elements, got %d", len(pair))
	}
	var version uint64
	if err := json.Unmarshal(pair[1], &version); err != nil {
		return fmt.Errorf("invalid update version: %w", err)
	}
	f.Patch = pair[0]
	f.Version = version
	return nil
}

// ErrorFrame is an {"error": ...} object sent to a single connection
type ErrorFrame struct {
	Error string          `json:"error"`
	Patch json.RawMessage `json:"patch,omitempty"`
}

// NewPatchRejectedFrame reports a failed batch back to its sender
func NewPatchRejectedFrame(batch json.RawMessage) ErrorFrame {
	return ErrorFrame{Error: ErrorPatchFailed, Patch: batch}
}
