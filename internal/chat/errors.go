package chat

import "errors"

// Configuration errors are returned before any network activity.
var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrProviderDisabled = errors.New("provider disabled")
	ErrModelNotFound    = errors.New("model not configured for provider")
)

// ErrMaxRoundsExceeded is returned when the tool-call loop hits its bound.
// It is distinct from configuration and transport failures so callers can
// tell "the model kept asking for tools" apart from "the network failed".
var ErrMaxRoundsExceeded = errors.New("tool-call loop exceeded maximum rounds")
