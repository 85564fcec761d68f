// Package retry records delegated sub-task outcomes, maintains rolling
// calibration statistics per category, and decides whether a failed task is
// retried and with what backoff. Outcome recording always happens and feeds
// calibration; the retry decision depends on the failure class and the
// remaining budget, so "we will retry" never gets conflated with "this
// usually works".
package retry

import (
	"math/rand"
	"time"

	"github.com/stagehq/stagehand/internal/lock"
	"github.com/stagehq/stagehand/internal/logging"
	"github.com/stagehq/stagehand/internal/model"
	"github.com/stagehq/stagehand/internal/session"
)

// DecisionKind enumerates DecideRetry results.
type DecisionKind string

const (
	DecisionRetry           DecisionKind = "retry"
	DecisionFail            DecisionKind = "fail"
	DecisionAlreadyTerminal DecisionKind = "already_terminal"
)

// Decision is the outcome of one retry deliberation. Delay is set only for
// DecisionRetry.
type Decision struct {
	Kind   DecisionKind
	Delay  time.Duration
	Class  Class
	Reason string
}

type Engine struct {
	stageDir string
	cfg      model.Config
	sessions *session.Store
	mu       *lock.MutexMap
	logger   *logging.Logger
	rng      *rand.Rand
	now      func() time.Time
}

func NewEngine(stageDir string, cfg model.Config, sessions *session.Store, mu *lock.MutexMap, logger *logging.Logger) *Engine {
	return &Engine{
		stageDir: stageDir,
		cfg:      cfg,
		sessions: sessions,
		mu:       mu,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetRand overrides the jitter source for tests.
func (e *Engine) SetRand(rng *rand.Rand) { e.rng = rng }

// DecideRetry inspects the retry state for taskID and the failure that was
// just observed. Rejected and fatal failures fail immediately; partial
// results get at most one retry; retryable failures are retried with
// exponential backoff until max_retries is exhausted. A Fail decision marks
// the task terminally failed in the session store so no later hook invocation
// attempts it again.
func (e *Engine) DecideRetry(taskID, errText string, exitCode int) Decision {
	task, ok := e.sessions.GetTask(taskID)
	if !ok {
		return Decision{Kind: DecisionAlreadyTerminal, Reason: "no retry state for task"}
	}
	if model.IsTerminal(task.Status) {
		return Decision{Kind: DecisionAlreadyTerminal, Reason: "task already " + string(task.Status)}
	}

	class := ClassifyFailure(errText, exitCode)

	switch class {
	case ClassRejected, ClassFatal:
		return e.fail(taskID, class, "non-retryable failure ("+string(class)+")")
	case ClassPartial:
		if task.RetryCount >= 1 {
			return e.fail(taskID, class, "partial result already retried once")
		}
	}

	if task.RetryCount >= e.cfg.Retry.MaxRetries {
		return e.fail(taskID, class, "max retries exceeded")
	}

	updated, err := e.sessions.IncrementRetry(taskID, errText)
	if err != nil {
		e.logger.Warnf("retry_bookkeeping task=%s error=%v", taskID, err)
		return Decision{Kind: DecisionAlreadyTerminal, Class: class, Reason: err.Error()}
	}

	delay := Backoff(
		time.Duration(e.cfg.Retry.BaseDelayMS)*time.Millisecond,
		updated.RetryCount,
		time.Duration(e.cfg.Retry.MaxDelayMS)*time.Millisecond,
		e.rng,
	)
	e.logger.Infof("retry task=%s attempt=%d class=%s delay_ms=%d",
		taskID, updated.RetryCount, class, delay.Milliseconds())
	return Decision{Kind: DecisionRetry, Delay: delay, Class: class}
}

func (e *Engine) fail(taskID string, class Class, reason string) Decision {
	if err := e.sessions.UpdateTaskStatus(taskID, model.StatusFailed); err != nil {
		e.logger.Warnf("mark_failed task=%s error=%v", taskID, err)
	}
	e.logger.Warnf("retry_exhausted task=%s class=%s reason=%s", taskID, class, reason)
	return Decision{Kind: DecisionFail, Class: class, Reason: reason}
}
