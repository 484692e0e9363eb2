package config

import "strings"

// HandlingMode selects how operation failures are treated by the recovery
// engine. The semantics are fixed here so every script-era interpretation
// collapses to one behavior:
//
//   - permissive: one recovery action, never fatal
//   - strict: bounded retries, fatal on exhaustion
//   - graceful: bounded retries, fatal on exhaustion only for
//     non-continuable operations
type HandlingMode string

const (
	HandlingGraceful   HandlingMode = "graceful"
	HandlingStrict     HandlingMode = "strict"
	HandlingPermissive HandlingMode = "permissive"
)

// NormalizeHandlingMode converts user input (case-insensitive) into a typed
// mode, returning empty string for unknown input.
func NormalizeHandlingMode(raw string) HandlingMode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(HandlingGraceful):
		return HandlingGraceful
	case string(HandlingStrict):
		return HandlingStrict
	case string(HandlingPermissive):
		return HandlingPermissive
	default:
		return ""
	}
}
