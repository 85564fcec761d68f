package hook

import (
	"encoding/json"
	"io"
)

// Decision is the single JSON document a hook handler emits on stdout.
type Decision struct {
	Continue           *bool          `json:"continue,omitempty"`
	Decision           string         `json:"decision,omitempty"`
	Reason             string         `json:"reason,omitempty"`
	SystemMessage      string         `json:"systemMessage,omitempty"`
	HookSpecificOutput map[string]any `json:"hookSpecificOutput,omitempty"`
}

// Allow lets the triggering action proceed unchanged.
func Allow() Decision {
	return Decision{}
}

// AllowWithMessage lets the action proceed and surfaces an informational
// message to the user.
func AllowWithMessage(msg string) Decision {
	return Decision{SystemMessage: msg}
}

// Block stops the specific action with a human-readable reason. Only the
// contended operation is affected; the session keeps running.
func Block(reason string) Decision {
	return Decision{Decision: "block", Reason: reason}
}

// Write emits the decision as one JSON document.
func (d Decision) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	return enc.Encode(d)
}
