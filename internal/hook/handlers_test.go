package hook

import (
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehq/stagehand/internal/identity"
	"github.com/stagehq/stagehand/internal/logging"
	"github.com/stagehq/stagehand/internal/model"
	"github.com/stagehq/stagehand/internal/setup"
)

func newTestHandler(t *testing.T) (*Handler, string) {
	t.Helper()
	t.Setenv(identity.EnvInstanceID, "")
	root := t.TempDir()
	stageDir := filepath.Join(root, setup.StageDirName)
	require.NoError(t, setup.EnsureLayout(stageDir))

	var cfg model.Config
	cfg.ApplyDefaults()
	cfg.Retry.MaxRetries = 1

	logger := logging.New(io.Discard, logging.LevelError, "hook")
	return NewHandler(root, stageDir, cfg, logger), root
}

func editEvent(sessionID, tool, path string) *Event {
	return &Event{
		SessionID: sessionID,
		ToolName:  tool,
		ToolInput: map[string]any{"file_path": path},
	}
}

func TestPreToolUse_AcquiresLock(t *testing.T) {
	h, _ := newTestHandler(t)

	d := h.PreToolUse(editEvent("sess-a", "Edit", "src/main.go"))
	assert.Empty(t, d.Decision)

	active, err := h.Locks().ListActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "src/main.go", active[0].ResourceKey)
	assert.Equal(t, identity.InstanceID("sess-a"), active[0].OwnerInstanceID)
}

func TestPreToolUse_BlocksContendedFile(t *testing.T) {
	h, _ := newTestHandler(t)

	d := h.PreToolUse(editEvent("sess-a", "Edit", "src/main.go"))
	require.Empty(t, d.Decision)

	d = h.PreToolUse(editEvent("sess-b", "Write", "src/main.go"))
	assert.Equal(t, "block", d.Decision)
	assert.Contains(t, d.Reason, "src/main.go")
	assert.Contains(t, d.Reason, identity.InstanceID("sess-a"))
}

func TestPreToolUse_SameSessionReacquires(t *testing.T) {
	h, _ := newTestHandler(t)

	d := h.PreToolUse(editEvent("sess-a", "Edit", "src/main.go"))
	require.Empty(t, d.Decision)
	d = h.PreToolUse(editEvent("sess-a", "Edit", "src/main.go"))
	assert.Empty(t, d.Decision)
}

func TestPreToolUse_NonEditToolAllowed(t *testing.T) {
	h, _ := newTestHandler(t)

	d := h.PreToolUse(&Event{SessionID: "sess-a", ToolName: "Read",
		ToolInput: map[string]any{"file_path": "src/main.go"}})
	assert.Empty(t, d.Decision)

	active, err := h.Locks().ListActive()
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestPostToolUse_ReleasesLock(t *testing.T) {
	h, _ := newTestHandler(t)

	require.Empty(t, h.PreToolUse(editEvent("sess-a", "Edit", "src/main.go")).Decision)
	h.PostToolUse(editEvent("sess-a", "Edit", "src/main.go"))

	// The other session can now take the file.
	d := h.PreToolUse(editEvent("sess-b", "Edit", "src/main.go"))
	assert.Empty(t, d.Decision)
}

func TestPostToolUse_RecordsOutcome(t *testing.T) {
	h, _ := newTestHandler(t)

	ev := editEvent("sess-a", "Edit", "src/main.go")
	ev.DurationMS = 1200
	h.PostToolUse(ev)

	st, ok := h.Engine().Stats("tool:edit")
	require.True(t, ok)
	assert.Equal(t, 1, st.Samples)
	assert.Equal(t, 1, st.Successes)
}

func TestSessionStart_BindsSessionAndInjectsContext(t *testing.T) {
	h, _ := newTestHandler(t)

	// Seed handoff context from a previous session.
	st := h.Sessions().Load()
	st.CurrentTask = "finish the importer"
	st.NextSteps = []string{"add tests"}
	require.NoError(t, h.Sessions().Save(st))

	d := h.SessionStart(&Event{SessionID: "sess-a"})
	require.NotNil(t, d.HookSpecificOutput)
	ctx, _ := d.HookSpecificOutput["additionalContext"].(string)
	assert.Contains(t, ctx, "finish the importer")
	assert.Contains(t, ctx, "add tests")

	got := h.Sessions().Load()
	assert.Equal(t, "sess-a", got.SessionID)
}

func TestSessionStart_EmptyStateAllowsQuietly(t *testing.T) {
	h, _ := newTestHandler(t)

	d := h.SessionStart(&Event{SessionID: "sess-a"})
	assert.Nil(t, d.HookSpecificOutput)
	assert.Empty(t, d.Decision)
}

func TestSessionEnd_ReleasesOwnLocksOnly(t *testing.T) {
	h, _ := newTestHandler(t)

	require.Empty(t, h.PreToolUse(editEvent("sess-a", "Edit", "a.go")).Decision)
	require.Empty(t, h.PreToolUse(editEvent("sess-a", "Edit", "b.go")).Decision)
	require.Empty(t, h.PreToolUse(editEvent("sess-b", "Edit", "c.go")).Decision)

	h.SessionEnd(&Event{SessionID: "sess-a"})

	active, err := h.Locks().ListActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c.go", active[0].ResourceKey)
}

func TestSessionEnd_MarksAgentsIdle(t *testing.T) {
	h, _ := newTestHandler(t)

	require.NoError(t, h.Sessions().UpdateAgentStatus("backend", model.AgentWorking))
	require.NoError(t, h.Sessions().UpdateAgentStatus("frontend", model.AgentWorking))

	h.SessionEnd(&Event{SessionID: "sess-a"})

	st := h.Sessions().Load()
	assert.Equal(t, model.AgentIdle, st.Agents["backend"])
	assert.Equal(t, model.AgentIdle, st.Agents["frontend"])
}

func TestSubagentStop_SuccessCompletesTask(t *testing.T) {
	h, _ := newTestHandler(t)

	require.NoError(t, h.Sessions().UpsertTask(model.Task{
		ID: "task_1234567890_deadbeef", AgentLabel: "backend", Status: model.StatusInProgress,
	}))

	d := h.SubagentStop(&Event{SessionID: "sess-a", AgentLabel: "backend", DurationMS: 3000})
	assert.Empty(t, d.Decision)

	task, ok := h.Sessions().GetTask("task_1234567890_deadbeef")
	require.True(t, ok)
	assert.Equal(t, model.StatusCompleted, task.Status)

	st := h.Sessions().Load()
	assert.Equal(t, model.AgentIdle, st.Agents["backend"])

	stats, ok := h.Engine().Stats("agent:backend")
	require.True(t, ok)
	assert.Equal(t, 1, stats.Successes)
}

func TestSubagentStop_FailureRetriesThenFails(t *testing.T) {
	h, _ := newTestHandler(t)

	require.NoError(t, h.Sessions().UpsertTask(model.Task{
		ID: "task_1234567890_deadbeef", AgentLabel: "backend", Status: model.StatusInProgress,
	}))

	exit := 1
	fail := &Event{SessionID: "sess-a", AgentLabel: "backend",
		Error: "connection reset by peer", ExitCode: &exit}

	// MaxRetries=1: first failure schedules a retry.
	d := h.SubagentStop(fail)
	require.NotNil(t, d.HookSpecificOutput)
	assert.Equal(t, "task_1234567890_deadbeef", d.HookSpecificOutput["taskId"])
	retryMs, _ := d.HookSpecificOutput["retryInMs"].(int64)
	assert.Positive(t, retryMs)
	assert.Contains(t, d.SystemMessage, "retrying")

	// Second failure exhausts the budget.
	d = h.SubagentStop(fail)
	assert.Nil(t, d.HookSpecificOutput)
	assert.Contains(t, d.SystemMessage, "failed permanently")

	task, ok := h.Sessions().GetTask("task_1234567890_deadbeef")
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, task.Status)
}

func TestSubagentStop_RejectionNeverRetries(t *testing.T) {
	h, _ := newTestHandler(t)

	require.NoError(t, h.Sessions().UpsertTask(model.Task{
		ID: "task_1234567890_deadbeef", AgentLabel: "backend", Status: model.StatusInProgress,
	}))

	d := h.SubagentStop(&Event{SessionID: "sess-a", AgentLabel: "backend",
		Error: "I cannot make this change"})
	assert.Nil(t, d.HookSpecificOutput)
	assert.Contains(t, d.SystemMessage, "failed permanently")

	// The rejection was recorded as such for calibration.
	stats, ok := h.Engine().Stats("agent:backend")
	require.True(t, ok)
	assert.Equal(t, 0, stats.Successes)
	assert.Equal(t, 1, stats.Samples)
}

func TestSubagentStop_NoTrackedTaskStillRecordsOutcome(t *testing.T) {
	h, _ := newTestHandler(t)

	d := h.SubagentStop(&Event{SessionID: "sess-a", AgentLabel: "backend", Error: "boom"})
	assert.Empty(t, d.Decision)
	assert.Nil(t, d.HookSpecificOutput)

	_, ok := h.Engine().Stats("agent:backend")
	assert.True(t, ok)
}

func TestSubagentStop_UsesRoutingDecision(t *testing.T) {
	h, _ := newTestHandler(t)

	require.NoError(t, h.Sessions().Mutate(func(st *model.State) error {
		st.LastRouting = &model.RoutingDecision{
			AgentLabel: "backend", CategoryKey: "refactor", Confidence: 0.7,
		}
		return nil
	}))

	h.SubagentStop(&Event{SessionID: "sess-a", AgentLabel: "backend"})

	st, ok := h.Engine().Stats("refactor")
	require.True(t, ok)
	assert.InDelta(t, 0.7, st.MeanConfidence, 1e-9)
}

func TestHandle_UnknownEventAllows(t *testing.T) {
	h, _ := newTestHandler(t)

	d := h.Handle("Notification", &Event{SessionID: "sess-a"})
	assert.Empty(t, d.Decision)
}

func TestDecision_BlockSerialization(t *testing.T) {
	var b strings.Builder
	require.NoError(t, Block("file contended").Write(&b))
	assert.Contains(t, b.String(), `"decision":"block"`)
	assert.Contains(t, b.String(), `"reason":"file contended"`)
}
