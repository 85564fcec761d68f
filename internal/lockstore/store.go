// Package lockstore implements the shared resource-lock file. Locks are a
// cooperative courtesy between host instances sharing one project tree: the
// load → sweep → mutate → atomic-rename cycle keeps the file consistent, and
// the narrow check-then-act window between load and rename is tolerated by
// design because the protected resources are edited through the host's own
// tool layer.
package lockstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/stagehq/stagehand/internal/fsjson"
	"github.com/stagehq/stagehand/internal/lock"
	"github.com/stagehq/stagehand/internal/logging"
	"github.com/stagehq/stagehand/internal/model"
)

const lockFileName = "locks.json"

// ErrNotOwner is returned when a release names a lock held by someone else.
// Callers treat it as a no-op, never as a hard failure.
var ErrNotOwner = errors.New("lock held by another owner")

// DeniedError reports a live exclusive_write lock held by a different owner.
type DeniedError struct {
	ResourceKey string
	Owner       string
	ExpiresAt   string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("resource %q locked by %s until %s", e.ResourceKey, e.Owner, e.ExpiresAt)
}

// Store provides acquire/release/list over the shared lock file.
type Store struct {
	stageDir    string
	projectRoot string
	mu          *lock.MutexMap
	logger      *logging.Logger
	now         func() time.Time
}

func New(stageDir, projectRoot string, mu *lock.MutexMap, logger *logging.Logger) *Store {
	return &Store{
		stageDir:    stageDir,
		projectRoot: projectRoot,
		mu:          mu,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) path() string {
	return filepath.Join(s.stageDir, lockFileName)
}

// Acquire takes (or refreshes) a lock on resource for owner. It fails with a
// *DeniedError only when an unexpired exclusive_write lock on the same key is
// held by a different owner. Every call sweeps dead locks first, so expiry is
// self-healing with no background process.
func (s *Store) Acquire(resource string, kind model.LockKind, owner string, ttl time.Duration, reason string) (model.Lock, error) {
	key := NormalizeResource(s.projectRoot, resource)

	var acquired model.Lock
	err := s.mu.WithLock(lockFileName, func() error {
		lf := s.load()
		now := s.now()
		lf.Locks = sweep(lf.Locks, now)

		for i := range lf.Locks {
			existing := &lf.Locks[i]
			if existing.ResourceKey != key {
				continue
			}
			if existing.OwnerInstanceID == owner {
				continue // replaced below
			}
			// Only a live exclusive_write lock denies acquisition; advisory
			// locks never block anyone.
			if existing.Kind == model.LockExclusiveWrite {
				return &DeniedError{
					ResourceKey: key,
					Owner:       existing.OwnerInstanceID,
					ExpiresAt:   existing.ExpiresAt,
				}
			}
		}

		// Same-owner locks on this key are superseded by the new one
		// (re-acquire is the heartbeat pattern).
		kept := lf.Locks[:0]
		for _, l := range lf.Locks {
			if l.ResourceKey == key && l.OwnerInstanceID == owner {
				continue
			}
			kept = append(kept, l)
		}
		lf.Locks = kept

		id, err := model.GenerateID(model.IDTypeLock)
		if err != nil {
			return fmt.Errorf("generate lock ID: %w", err)
		}
		acquired = model.Lock{
			LockID:          id,
			ResourceKey:     key,
			Kind:            kind,
			OwnerInstanceID: owner,
			AcquiredAt:      now.Format(time.RFC3339),
			ExpiresAt:       now.Add(ttl).Format(time.RFC3339),
			Reason:          reason,
		}
		lf.Locks = append(lf.Locks, acquired)

		return s.persist(lf)
	})
	if err != nil {
		return model.Lock{}, err
	}

	s.logger.Infof("acquire resource=%s kind=%s owner=%s expires=%s", key, kind, owner, acquired.ExpiresAt)
	return acquired, nil
}

// Release drops the lock on resource if owner holds it. Releasing an absent
// lock is a silent no-op; releasing someone else's lock returns ErrNotOwner
// and leaves the lock in place.
func (s *Store) Release(resource, owner string) error {
	key := NormalizeResource(s.projectRoot, resource)

	return s.mu.WithLock(lockFileName, func() error {
		lf := s.load()
		before := len(lf.Locks)
		lf.Locks = sweep(lf.Locks, s.now())

		var notOwner error
		kept := lf.Locks[:0]
		removed := 0
		for _, l := range lf.Locks {
			if l.ResourceKey == key {
				if l.OwnerInstanceID == owner {
					removed++
					continue
				}
				notOwner = ErrNotOwner
			}
			kept = append(kept, l)
		}
		lf.Locks = kept

		if removed > 0 || len(lf.Locks) != before {
			if err := s.persist(lf); err != nil {
				return err
			}
		}
		if removed > 0 {
			s.logger.Infof("release resource=%s owner=%s", key, owner)
		}
		if notOwner != nil {
			s.logger.Warnf("release_not_owner resource=%s caller=%s", key, owner)
		}
		return notOwner
	})
}

// ReleaseAll drops every lock held by owner and returns how many were removed.
func (s *Store) ReleaseAll(owner string) (int, error) {
	removed := 0
	err := s.mu.WithLock(lockFileName, func() error {
		lf := s.load()
		before := len(lf.Locks)
		lf.Locks = sweep(lf.Locks, s.now())

		kept := lf.Locks[:0]
		for _, l := range lf.Locks {
			if l.OwnerInstanceID == owner {
				removed++
				continue
			}
			kept = append(kept, l)
		}
		lf.Locks = kept

		if removed > 0 || len(lf.Locks) != before {
			return s.persist(lf)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Infof("release_all owner=%s removed=%d", owner, removed)
	}
	return removed, nil
}

// ListActive returns the unexpired locks ordered by resource key. Dead locks
// noticed during the read are dropped from the store opportunistically.
func (s *Store) ListActive() ([]model.Lock, error) {
	var active []model.Lock
	err := s.mu.WithLock(lockFileName, func() error {
		lf := s.load()
		before := len(lf.Locks)
		lf.Locks = sweep(lf.Locks, s.now())
		if len(lf.Locks) != before {
			if err := s.persist(lf); err != nil {
				return err
			}
		}
		active = append(active, lf.Locks...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].ResourceKey < active[j].ResourceKey
	})
	return active, nil
}

// load reads the lock file, degrading to an empty set when the file is
// missing and quarantining it when it is corrupt. Loading never fails.
func (s *Store) load() model.LockFile {
	var lf model.LockFile
	err := fsjson.ReadInto(s.path(), &lf)
	if err == nil {
		if lf.Locks == nil {
			lf.Locks = []model.Lock{}
		}
		return lf
	}
	if !os.IsNotExist(err) {
		s.logger.Warnf("corrupt lock store, recovering: %v", err)
		if rerr := fsjson.RecoverCorruptedFile(s.stageDir, s.path(), model.FileTypeLockStore); rerr != nil {
			s.logger.Errorf("lock store recovery failed: %v", rerr)
		}
		// Retry once; a restored backup may hold valid locks.
		var restored model.LockFile
		if rerr := fsjson.ReadInto(s.path(), &restored); rerr == nil && restored.Locks != nil {
			return restored
		}
	}
	return model.NewLockFile()
}

func (s *Store) persist(lf model.LockFile) error {
	lf.SchemaVersion = 1
	lf.FileType = model.FileTypeLockStore
	if err := fsjson.AtomicWrite(s.path(), lf); err != nil {
		return fmt.Errorf("write lock store: %w", err)
	}
	return nil
}

func sweep(locks []model.Lock, now time.Time) []model.Lock {
	kept := locks[:0]
	for _, l := range locks {
		if l.Expired(now) {
			continue
		}
		kept = append(kept, l)
	}
	return kept
}
