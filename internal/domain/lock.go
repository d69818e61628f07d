package domain

import "time"

// DefaultLockTTL bounds how long an unreleased file lock stays authoritative.
const DefaultLockTTL = 30 * time.Minute

// FileLock is an exclusive claim on a filesystem path.
type FileLock struct {
	FilePath  string     `json:"file_path"`
	AgentID   string     `json:"agent_id"`
	TaskID    string     `json:"task_id"`
	LockedAt  time.Time  `json:"locked_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the lock has lapsed at the given instant.
// A nil ExpiresAt never expires.
func (l *FileLock) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}
