package domain

import "time"

// ReconciliationLock is a TTL-bounded exclusive claim on a knowledge base for
// whole-KB reconciliation sweeps. A crashed holder is tolerated via takeover
// once ExpiresAt has passed.
type ReconciliationLock struct {
	KBID       string
	WorkerID   string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lock's TTL has passed at the given instant.
func (l *ReconciliationLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
