package engine

import (
	"encoding/json"
	"fmt"
)

// Well-known option keys understood by engines.
const (
	// OptionResetCheckpoint instructs the engine to discard the persisted
	// checkpoint when the session is created, forcing a full re-sync.
	OptionResetCheckpoint = "resetCheckpoint"

	// OptionAuthType, OptionAuthUsername, OptionAuthPassword and
	// OptionAuthToken carry authenticator credentials.
	OptionAuthType     = "authType"
	OptionAuthUsername = "username"
	OptionAuthPassword = "password"
	OptionAuthToken    = "token"

	// OptionCookieName names the session cookie for token auth.
	OptionCookieName = "cookieName"
)

// Authentication type values for OptionAuthType.
const (
	AuthTypeBasic   = "basic"
	AuthTypeSession = "session"
)

// EncodeOptions serializes an options map into the blob form carried by
// Params.Options. A nil or empty map encodes to an empty JSON object.
func EncodeOptions(opts map[string]any) ([]byte, error) {
	if opts == nil {
		opts = map[string]any{}
	}
	data, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("encode session options: %w", err)
	}
	return data, nil
}

// DecodeOptions parses an options blob produced by EncodeOptions.
// A nil or empty blob decodes to an empty map.
func DecodeOptions(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var opts map[string]any
	if err := json.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("decode session options: %w", err)
	}
	return opts, nil
}

// ResetCheckpointRequested reports whether an options map carries the
// reset-checkpoint marker.
func ResetCheckpointRequested(opts map[string]any) bool {
	v, ok := opts[OptionResetCheckpoint].(bool)
	return ok && v
}
