// Package session implements the shared session/orchestration state file, the
// handoff surface between hook invocations. Loading never fails: a missing or
// corrupt file degrades to the default empty state so bookkeeping problems
// can never block the user's tool usage.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stagehq/stagehand/internal/fsjson"
	"github.com/stagehq/stagehand/internal/lock"
	"github.com/stagehq/stagehand/internal/logging"
	"github.com/stagehq/stagehand/internal/model"
)

const stateFileName = "session.json"

// ErrTaskNotFound is returned by mutators that name an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

type Store struct {
	stageDir string
	mu       *lock.MutexMap
	logger   *logging.Logger
	now      func() time.Time
}

func New(stageDir string, mu *lock.MutexMap, logger *logging.Logger) *Store {
	return &Store{
		stageDir: stageDir,
		mu:       mu,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) path() string {
	return filepath.Join(s.stageDir, stateFileName)
}

// Load returns the current state, or the default empty state when the file is
// absent or unparsable. Corrupt files are quarantined before the fallback.
func (s *Store) Load() model.State {
	var st model.State
	err := fsjson.ReadInto(s.path(), &st)
	if err == nil {
		if st.Agents == nil {
			st.Agents = map[string]model.AgentStatus{}
		}
		return st
	}
	if !os.IsNotExist(err) {
		s.logger.Warnf("corrupt session state, recovering: %v", err)
		if rerr := fsjson.RecoverCorruptedFile(s.stageDir, s.path(), model.FileTypeSessionState); rerr != nil {
			s.logger.Errorf("session state recovery failed: %v", rerr)
		}
		var restored model.State
		if rerr := fsjson.ReadInto(s.path(), &restored); rerr == nil {
			if restored.Agents == nil {
				restored.Agents = map[string]model.AgentStatus{}
			}
			return restored
		}
	}
	return model.NewState()
}

// Save persists the state atomically, stamping UpdatedAt.
func (s *Store) Save(st model.State) error {
	return s.mu.WithLock(stateFileName, func() error {
		return s.persist(st)
	})
}

// Mutate runs fn against the freshly loaded state and persists the result.
// The whole cycle holds the in-process mutex for the state file.
func (s *Store) Mutate(fn func(*model.State) error) error {
	return s.mu.WithLock(stateFileName, func() error {
		st := s.Load()
		if err := fn(&st); err != nil {
			return err
		}
		return s.persist(st)
	})
}

func (s *Store) persist(st model.State) error {
	st.SchemaVersion = 1
	st.FileType = model.FileTypeSessionState
	st.UpdatedAt = s.now().Format(time.RFC3339)
	if err := fsjson.AtomicWrite(s.path(), st); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}

// UpdateAgentStatus records the coarse status of one agent label.
func (s *Store) UpdateAgentStatus(agentLabel string, status model.AgentStatus) error {
	return s.Mutate(func(st *model.State) error {
		if st.Agents == nil {
			st.Agents = map[string]model.AgentStatus{}
		}
		st.Agents[agentLabel] = status
		return nil
	})
}

// GetTask returns the task with the given id.
func (s *Store) GetTask(taskID string) (model.Task, bool) {
	st := s.Load()
	for _, t := range st.Tasks {
		if t.ID == taskID {
			return t, true
		}
	}
	return model.Task{}, false
}

// GetTaskByAgent returns the most recently updated non-terminal task assigned
// to the given agent label.
func (s *Store) GetTaskByAgent(agentLabel string) (model.Task, bool) {
	st := s.Load()
	var found model.Task
	ok := false
	for _, t := range st.Tasks {
		if t.AgentLabel != agentLabel || model.IsTerminal(t.Status) {
			continue
		}
		if !ok || t.UpdatedAt > found.UpdatedAt {
			found = t
			ok = true
		}
	}
	return found, ok
}

// UpsertTask inserts the task or replaces an existing entry with the same id.
// Status changes on existing tasks are validated against the task state
// machine; terminal tasks are never resurrected.
func (s *Store) UpsertTask(task model.Task) error {
	return s.Mutate(func(st *model.State) error {
		now := s.now().Format(time.RFC3339)
		task.UpdatedAt = now
		for i := range st.Tasks {
			if st.Tasks[i].ID != task.ID {
				continue
			}
			if st.Tasks[i].Status != task.Status {
				if err := model.ValidateTaskTransition(st.Tasks[i].Status, task.Status); err != nil {
					return err
				}
			}
			if task.CreatedAt == "" {
				task.CreatedAt = st.Tasks[i].CreatedAt
			}
			st.Tasks[i] = task
			return nil
		}
		if task.CreatedAt == "" {
			task.CreatedAt = now
		}
		st.Tasks = append(st.Tasks, task)
		return nil
	})
}

// UpdateTaskStatus transitions one task through the state machine.
func (s *Store) UpdateTaskStatus(taskID string, status model.Status) error {
	return s.Mutate(func(st *model.State) error {
		for i := range st.Tasks {
			if st.Tasks[i].ID != taskID {
				continue
			}
			if err := model.ValidateTaskTransition(st.Tasks[i].Status, status); err != nil {
				return err
			}
			st.Tasks[i].Status = status
			st.Tasks[i].UpdatedAt = s.now().Format(time.RFC3339)
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	})
}

// IncrementRetry bumps retry_count on an in_progress task and records the
// error that triggered the retry. The coarse status does not change.
func (s *Store) IncrementRetry(taskID, lastError string) (model.Task, error) {
	var out model.Task
	err := s.Mutate(func(st *model.State) error {
		for i := range st.Tasks {
			if st.Tasks[i].ID != taskID {
				continue
			}
			if err := model.ValidateTaskTransition(st.Tasks[i].Status, model.StatusInProgress); err != nil {
				return err
			}
			st.Tasks[i].Status = model.StatusInProgress
			st.Tasks[i].RetryCount++
			if lastError != "" {
				msg := lastError
				st.Tasks[i].LastError = &msg
			}
			st.Tasks[i].UpdatedAt = s.now().Format(time.RFC3339)
			out = st.Tasks[i]
			return nil
		}
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	})
	return out, err
}

// RemoveTask deletes a task entry; removing an absent task is a no-op.
func (s *Store) RemoveTask(taskID string) error {
	return s.Mutate(func(st *model.State) error {
		kept := st.Tasks[:0]
		for _, t := range st.Tasks {
			if t.ID == taskID {
				continue
			}
			kept = append(kept, t)
		}
		st.Tasks = kept
		return nil
	})
}
