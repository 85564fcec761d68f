// Package hook implements the thin adapters between the host runtime's hook
// protocol and the coordination stores. Each handler consumes exactly one
// JSON event from stdin and produces exactly one JSON decision on stdout;
// every failure mode degrades to an allow decision so coordination
// bookkeeping can never block legitimate work.
package hook

import (
	"encoding/json"
	"fmt"
	"io"
)

// Hook event names as delivered by the host runtime.
const (
	EventPreToolUse   = "PreToolUse"
	EventPostToolUse  = "PostToolUse"
	EventSessionStart = "SessionStart"
	EventSessionEnd   = "SessionEnd"
	EventSubagentStop = "SubagentStop"
)

// maxEventBytes caps stdin reads. Hook payloads are small JSON objects; 1 MB
// is generous headroom that prevents unbounded allocation.
const maxEventBytes = 1 << 20

// Event is one hook invocation payload. Unknown fields are ignored; absent
// fields default to zero values so partial payloads never fail parsing.
type Event struct {
	SessionID      string          `json:"session_id"`
	TranscriptPath string          `json:"transcript_path,omitempty"`
	CWD            string          `json:"cwd,omitempty"`
	ProjectDir     string          `json:"project_dir,omitempty"`
	HookEventName  string          `json:"hook_event_name,omitempty"`
	ToolName       string          `json:"tool_name,omitempty"`
	ToolInput      map[string]any  `json:"tool_input,omitempty"`
	ToolResponse   json.RawMessage `json:"tool_response,omitempty"`
	AgentLabel     string          `json:"agent_label,omitempty"`
	ExitCode       *int            `json:"exit_code,omitempty"`
	Error          string          `json:"error,omitempty"`
	DurationMS     int64           `json:"duration_ms,omitempty"`
}

// ParseEvent reads one event document from r, validating it against the
// embedded schema before unmarshalling.
func ParseEvent(r io.Reader) (*Event, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxEventBytes))
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty event payload")
	}

	if err := validateEvent(raw); err != nil {
		return nil, fmt.Errorf("event schema: %w", err)
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}
	return &ev, nil
}

// filePath extracts the edited file path from the tool input, trying the
// field names the host's editing tools use.
func (ev *Event) filePath() string {
	for _, field := range []string{"file_path", "notebook_path", "path"} {
		if v, ok := ev.ToolInput[field].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// exitCode returns the reported exit code, defaulting to 0.
func (ev *Event) exitCode() int {
	if ev.ExitCode == nil {
		return 0
	}
	return *ev.ExitCode
}

// failed reports whether the event describes a failed action.
func (ev *Event) failed() bool {
	return ev.Error != "" || ev.exitCode() != 0
}
