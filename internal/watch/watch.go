// Package watch implements the long-lived diagnostic watcher. It is operator
// tooling only: coordination never depends on it, and the hook path works the
// same whether or not a watcher is running.
package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/stagehq/stagehand/internal/lock"
	"github.com/stagehq/stagehand/internal/lockstore"
	"github.com/stagehq/stagehand/internal/logging"
	"github.com/stagehq/stagehand/internal/model"
	"github.com/stagehq/stagehand/internal/notify"
	"github.com/stagehq/stagehand/internal/session"
)

// Watcher tails the coordination directory and reports lock and task
// transitions. At most one watcher runs per project, enforced with a flock
// guard the same way a second copy of any resident process is kept out.
type Watcher struct {
	stageDir string
	cfg      model.Config
	locks    *lockstore.Store
	sessions *session.Store
	logger   *logging.Logger
	out      io.Writer

	fileLock     *lock.FileLock
	sf           singleflight.Group
	notifySender func(title, message string) error

	// diffMu serializes diff: the event loop and the ticker loop both call
	// refresh, and the previous-snapshot maps must not be written concurrently.
	diffMu    sync.Mutex
	prevTasks map[string]model.Status
	prevLocks map[string]string
}

func New(stageDir, projectRoot string, cfg model.Config, logger *logging.Logger, out io.Writer) *Watcher {
	mu := lock.NewMutexMap()
	return &Watcher{
		stageDir:     stageDir,
		cfg:          cfg,
		locks:        lockstore.New(stageDir, projectRoot, mu, logger.WithComponent("lock_store")),
		sessions:     session.New(stageDir, mu, logger.WithComponent("session_store")),
		logger:       logger,
		out:          out,
		fileLock:     lock.NewFileLock(filepath.Join(stageDir, "watch.lock")),
		notifySender: notify.Send,
		prevTasks:    map[string]model.Status{},
		prevLocks:    map[string]string{},
	}
}

// SetNotifySender overrides the desktop notification sender for testing.
func (w *Watcher) SetNotifySender(f func(string, string) error) {
	w.notifySender = f
}

// Run blocks until ctx is cancelled, printing transitions as they happen.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.fileLock.TryLock(); err != nil {
		return fmt.Errorf("watch lock: %w", err)
	}
	defer w.fileLock.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := os.MkdirAll(w.stageDir, 0755); err != nil {
		return fmt.Errorf("ensure stage dir: %w", err)
	}
	if err := fsw.Add(w.stageDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.stageDir, err)
	}

	w.logger.Infof("watch starting pid=%d dir=%s", os.Getpid(), w.stageDir)
	w.refresh()

	ticker := time.NewTicker(time.Duration(w.cfg.Watch.ScanIntervalSec) * time.Second)
	defer ticker.Stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case event, ok := <-fsw.Events:
				if !ok {
					return nil
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				switch filepath.Base(event.Name) {
				case "locks.json", "session.json":
					w.logger.Debugf("fsnotify event=%s file=%s", event.Op, event.Name)
					w.refresh()
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return nil
				}
				w.logger.Errorf("fsnotify error=%v", err)
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				// Periodic refresh also sweeps expired locks via ListActive.
				w.refresh()
			}
		}
	})

	err = g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

type snapshot struct {
	locks []model.Lock
	tasks []model.Task
}

// refresh reloads the stores and prints any transitions since the previous
// snapshot. Bursts of file events collapse into one reload via singleflight.
func (w *Watcher) refresh() {
	v, err, _ := w.sf.Do("snapshot", func() (any, error) {
		locks, err := w.locks.ListActive()
		if err != nil {
			return nil, err
		}
		st := w.sessions.Load()
		return snapshot{locks: locks, tasks: st.Tasks}, nil
	})
	if err != nil {
		w.logger.Errorf("snapshot error=%v", err)
		return
	}
	w.diff(v.(snapshot))
}

func (w *Watcher) diff(snap snapshot) {
	w.diffMu.Lock()
	defer w.diffMu.Unlock()

	currentLocks := map[string]string{}
	for _, l := range snap.locks {
		currentLocks[l.ResourceKey] = l.OwnerInstanceID
		if prev, ok := w.prevLocks[l.ResourceKey]; !ok || prev != l.OwnerInstanceID {
			fmt.Fprintf(w.out, "lock    %-40s owner=%s expires=%s\n", l.ResourceKey, l.OwnerInstanceID, l.ExpiresAt)
		}
	}
	for key, owner := range w.prevLocks {
		if _, ok := currentLocks[key]; !ok {
			fmt.Fprintf(w.out, "unlock  %-40s owner=%s\n", key, owner)
		}
	}
	w.prevLocks = currentLocks

	currentTasks := map[string]model.Status{}
	for _, t := range snap.tasks {
		currentTasks[t.ID] = t.Status
		prev, seen := w.prevTasks[t.ID]
		if seen && prev == t.Status {
			continue
		}
		fmt.Fprintf(w.out, "task    %-40s agent=%s status=%s retries=%d\n", t.ID, t.AgentLabel, t.Status, t.RetryCount)
		if t.Status == model.StatusFailed && w.cfg.Watch.Notify {
			msg := fmt.Sprintf("task %s (%s) failed permanently", t.ID, t.AgentLabel)
			if err := w.notifySender("Stagehand Alert", msg); err != nil {
				w.logger.Warnf("notify error=%v", err)
			}
		}
	}
	w.prevTasks = currentTasks
}
