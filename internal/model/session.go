package model

// Task is one in-flight (or recently finished) delegated sub-task. It doubles
// as the retry-state entry: retry_count lives here and increments only on a
// retry decision.
type Task struct {
	ID          string  `json:"id"`
	AgentLabel  string  `json:"agent_label"`
	Description string  `json:"description,omitempty"`
	Status      Status  `json:"status"`
	RetryCount  int     `json:"retry_count"`
	LastError   *string `json:"last_error,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// RoutingDecision records the most recent classification/routing choice so a
// later hook invocation can correlate an outcome with the confidence that was
// assigned before the task ran.
type RoutingDecision struct {
	AgentLabel  string  `json:"agent_label"`
	CategoryKey string  `json:"category_key"`
	Confidence  float64 `json:"confidence"`
	DecidedAt   string  `json:"decided_at"`
}

// State is the single session/orchestration handoff document. Every field
// defaults to an empty/neutral value; a missing or corrupt file only ever
// costs optional context, never a crash.
type State struct {
	SchemaVersion int                    `json:"schema_version"`
	FileType      string                 `json:"file_type"`
	SessionID     string                 `json:"session_id,omitempty"`
	CurrentTask   string                 `json:"current_task,omitempty"`
	NextSteps     []string               `json:"next_steps,omitempty"`
	Blockers      []string               `json:"blockers,omitempty"`
	Agents        map[string]AgentStatus `json:"agents,omitempty"`
	Tasks         []Task                 `json:"tasks,omitempty"`
	LastRouting   *RoutingDecision       `json:"last_routing,omitempty"`
	UpdatedAt     string                 `json:"updated_at,omitempty"`
}

const FileTypeSessionState = "session_state"

func NewState() State {
	return State{
		SchemaVersion: 1,
		FileType:      FileTypeSessionState,
		Agents:        map[string]AgentStatus{},
	}
}
