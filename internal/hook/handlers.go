package hook

import (
	"fmt"
	"strings"
	"time"

	"github.com/stagehq/stagehand/internal/identity"
	"github.com/stagehq/stagehand/internal/lock"
	"github.com/stagehq/stagehand/internal/lockstore"
	"github.com/stagehq/stagehand/internal/logging"
	"github.com/stagehq/stagehand/internal/model"
	"github.com/stagehq/stagehand/internal/retry"
	"github.com/stagehq/stagehand/internal/session"
	"github.com/stagehq/stagehand/internal/setup"
)

// editTools are the host tools that write to source files and therefore get
// a write lock for the duration of the TTL.
var editTools = map[string]bool{
	"Edit":         true,
	"MultiEdit":    true,
	"Write":        true,
	"NotebookEdit": true,
}

// Handler wires one hook invocation to the coordination stores.
type Handler struct {
	projectRoot string
	stageDir    string
	cfg         model.Config
	locks       *lockstore.Store
	sessions    *session.Store
	engine      *retry.Engine
	logger      *logging.Logger
}

func NewHandler(projectRoot, stageDir string, cfg model.Config, logger *logging.Logger) *Handler {
	mu := lock.NewMutexMap()
	sessions := session.New(stageDir, mu, logger.WithComponent("session_store"))
	return &Handler{
		projectRoot: projectRoot,
		stageDir:    stageDir,
		cfg:         cfg,
		locks:       lockstore.New(stageDir, projectRoot, mu, logger.WithComponent("lock_store")),
		sessions:    sessions,
		engine:      retry.NewEngine(stageDir, cfg, sessions, mu, logger.WithComponent("retry_engine")),
		logger:      logger,
	}
}

// Handle dispatches one event to its handler. It never returns an error:
// anything unexpected is logged and turned into an allow decision.
func (h *Handler) Handle(eventName string, ev *Event) Decision {
	switch eventName {
	case EventPreToolUse:
		return h.PreToolUse(ev)
	case EventPostToolUse:
		return h.PostToolUse(ev)
	case EventSessionStart:
		return h.SessionStart(ev)
	case EventSessionEnd:
		return h.SessionEnd(ev)
	case EventSubagentStop:
		return h.SubagentStop(ev)
	default:
		h.logger.Warnf("unknown hook event %q", eventName)
		return Allow()
	}
}

// PreToolUse acquires an exclusive_write lock on the file an editing tool is
// about to touch. Contention blocks only this one tool call and names the
// holder; anything else falls open.
func (h *Handler) PreToolUse(ev *Event) Decision {
	if !editTools[ev.ToolName] {
		return Allow()
	}
	path := ev.filePath()
	if path == "" {
		return Allow()
	}

	owner := identity.InstanceID(ev.SessionID)
	ttl := time.Duration(h.cfg.Locks.TTLSec) * time.Second
	reason := "edit via " + ev.ToolName

	_, err := h.locks.Acquire(path, model.LockExclusiveWrite, owner, ttl, reason)
	if err == nil {
		return Allow()
	}
	if denied, ok := err.(*lockstore.DeniedError); ok {
		return Block(fmt.Sprintf(
			"%s is being edited by another instance (%s); its lock expires at %s. Retry after that or pick a different file.",
			denied.ResourceKey, denied.Owner, denied.ExpiresAt))
	}
	h.logger.Errorf("pre_tool_use acquire path=%s error=%v", path, err)
	return Allow()
}

// PostToolUse releases the edit lock and records the tool outcome for
// calibration.
func (h *Handler) PostToolUse(ev *Event) Decision {
	owner := identity.InstanceID(ev.SessionID)

	if editTools[ev.ToolName] {
		if path := ev.filePath(); path != "" {
			if err := h.locks.Release(path, owner); err != nil {
				// Not-owner release is a courtesy no-op, worth a log line only.
				h.logger.Warnf("post_tool_use release path=%s error=%v", path, err)
			}
		}
	}

	if ev.ToolName != "" {
		result := model.ResultSuccess
		if ev.failed() {
			result = model.ResultFailure
		}
		category := "tool:" + strings.ToLower(ev.ToolName)
		duration := time.Duration(ev.DurationMS) * time.Millisecond
		if err := h.engine.RecordOutcome(category, 1.0, result, duration); err != nil {
			h.logger.Warnf("post_tool_use outcome category=%s error=%v", category, err)
		}
	}
	return Allow()
}

// SessionStart makes sure the coordination directory exists and binds the
// session id into the shared state, then hands prior context back to the
// host.
func (h *Handler) SessionStart(ev *Event) Decision {
	if err := setup.EnsureLayout(h.stageDir); err != nil {
		h.logger.Errorf("session_start layout: %v", err)
		return Allow()
	}

	var st model.State
	err := h.sessions.Mutate(func(s *model.State) error {
		if ev.SessionID != "" {
			s.SessionID = ev.SessionID
		}
		st = *s
		return nil
	})
	if err != nil {
		h.logger.Errorf("session_start state: %v", err)
		return Allow()
	}

	context := describeState(st)
	if context == "" {
		return Allow()
	}
	return Decision{
		HookSpecificOutput: map[string]any{
			"hookEventName":     EventSessionStart,
			"additionalContext": context,
		},
	}
}

// SessionEnd releases every lock this instance still holds and marks all
// agents idle. Locks held by other instances are untouched; their TTLs
// self-heal if those instances are gone.
func (h *Handler) SessionEnd(ev *Event) Decision {
	owner := identity.InstanceID(ev.SessionID)
	removed, err := h.locks.ReleaseAll(owner)
	if err != nil {
		h.logger.Errorf("session_end release_all owner=%s error=%v", owner, err)
	} else if removed > 0 {
		h.logger.Infof("session_end released=%d owner=%s", removed, owner)
	}

	err = h.sessions.Mutate(func(st *model.State) error {
		for label := range st.Agents {
			st.Agents[label] = model.AgentIdle
		}
		return nil
	})
	if err != nil {
		h.logger.Errorf("session_end agents: %v", err)
	}
	return Allow()
}

// SubagentStop records the delegated task's outcome and runs the retry
// deliberation when it failed.
func (h *Handler) SubagentStop(ev *Event) Decision {
	label := ev.AgentLabel
	if label == "" {
		label = "subagent"
	}

	task, ok := h.sessions.GetTaskByAgent(label)
	category, confidence := h.routingFor(label)
	duration := time.Duration(ev.DurationMS) * time.Millisecond

	if !ev.failed() {
		if err := h.engine.RecordOutcome(category, confidence, model.ResultSuccess, duration); err != nil {
			h.logger.Warnf("subagent_stop outcome error=%v", err)
		}
		if ok {
			if err := h.sessions.UpdateTaskStatus(task.ID, model.StatusCompleted); err != nil {
				h.logger.Warnf("subagent_stop complete task=%s error=%v", task.ID, err)
			}
		}
		h.setAgentIdle(label)
		return Allow()
	}

	result := resultForClass(retry.ClassifyFailure(ev.Error, ev.exitCode()))
	if err := h.engine.RecordOutcome(category, confidence, result, duration); err != nil {
		h.logger.Warnf("subagent_stop outcome error=%v", err)
	}

	if !ok {
		return Allow()
	}

	decision := h.engine.DecideRetry(task.ID, ev.Error, ev.exitCode())
	switch decision.Kind {
	case retry.DecisionRetry:
		return Decision{
			SystemMessage: fmt.Sprintf("task %s (%s) failed; retrying in %s",
				task.ID, label, decision.Delay.Round(time.Millisecond)),
			HookSpecificOutput: map[string]any{
				"hookEventName": EventSubagentStop,
				"taskId":        task.ID,
				"retryInMs":     decision.Delay.Milliseconds(),
			},
		}
	case retry.DecisionFail:
		h.setAgentIdle(label)
		return AllowWithMessage(fmt.Sprintf("task %s (%s) failed permanently: %s",
			task.ID, label, decision.Reason))
	default:
		return Allow()
	}
}

// routingFor resolves the category key and pre-run confidence for an agent
// label, preferring the routing decision recorded before the task ran.
func (h *Handler) routingFor(label string) (string, float64) {
	st := h.sessions.Load()
	if st.LastRouting != nil && st.LastRouting.AgentLabel == label {
		return st.LastRouting.CategoryKey, st.LastRouting.Confidence
	}
	return "agent:" + label, 0.5
}

func (h *Handler) setAgentIdle(label string) {
	if err := h.sessions.UpdateAgentStatus(label, model.AgentIdle); err != nil {
		h.logger.Warnf("agent_status label=%s error=%v", label, err)
	}
}

func resultForClass(c retry.Class) model.Result {
	switch c {
	case retry.ClassRejected:
		return model.ResultRejected
	case retry.ClassPartial:
		return model.ResultPartial
	default:
		return model.ResultFailure
	}
}

// describeState renders the handoff context injected at session start.
func describeState(st model.State) string {
	var b strings.Builder
	if st.CurrentTask != "" {
		fmt.Fprintf(&b, "Current task: %s\n", st.CurrentTask)
	}
	if len(st.NextSteps) > 0 {
		fmt.Fprintf(&b, "Next steps: %s\n", strings.Join(st.NextSteps, "; "))
	}
	if len(st.Blockers) > 0 {
		fmt.Fprintf(&b, "Blockers: %s\n", strings.Join(st.Blockers, "; "))
	}
	inFlight := 0
	for _, t := range st.Tasks {
		if !model.IsTerminal(t.Status) {
			inFlight++
		}
	}
	if inFlight > 0 {
		fmt.Fprintf(&b, "Delegated tasks in flight: %d\n", inFlight)
	}
	return strings.TrimSpace(b.String())
}

// Sessions exposes the session store for the CLI diagnostics.
func (h *Handler) Sessions() *session.Store { return h.sessions }

// Locks exposes the lock store for the CLI diagnostics.
func (h *Handler) Locks() *lockstore.Store { return h.locks }

// Engine exposes the retry engine for the CLI diagnostics.
func (h *Handler) Engine() *retry.Engine { return h.engine }
