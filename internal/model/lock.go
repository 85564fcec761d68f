package model

import "time"

type LockKind string

const (
	LockExclusiveWrite LockKind = "exclusive_write"
	LockAdvisory       LockKind = "advisory"
)

// Lock is an advisory ownership record over one resource key. Timestamps are
// RFC3339 UTC strings so the store file stays greppable and diff-friendly.
type Lock struct {
	LockID          string   `json:"lock_id"`
	ResourceKey     string   `json:"resource_key"`
	Kind            LockKind `json:"kind"`
	OwnerInstanceID string   `json:"owner_instance_id"`
	AcquiredAt      string   `json:"acquired_at"`
	ExpiresAt       string   `json:"expires_at"`
	Reason          string   `json:"reason,omitempty"`
}

// Expired reports whether the lock is dead at the given instant. A lock with
// an unparsable expiry is treated as dead so it cannot wedge a resource.
func (l *Lock) Expired(now time.Time) bool {
	expires, err := time.Parse(time.RFC3339, l.ExpiresAt)
	if err != nil {
		return true
	}
	return now.After(expires)
}

type LockFile struct {
	SchemaVersion int    `json:"schema_version"`
	FileType      string `json:"file_type"`
	Locks         []Lock `json:"locks"`
}

const FileTypeLockStore = "lock_store"

func NewLockFile() LockFile {
	return LockFile{
		SchemaVersion: 1,
		FileType:      FileTypeLockStore,
		Locks:         []Lock{},
	}
}
