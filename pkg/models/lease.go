package models

import "time"

// Lease is an advisory, time-bounded exclusive claim on one entity id.
type Lease struct {
	EntityID            string `json:"entityId"`
	LeasedBy            string `json:"leasedBy"`
	LeasedAt            int64  `json:"leasedAt"`
	LeaseDurationMillis int64  `json:"leaseDuration"`
}

// NewLease creates a lease taken by owner at now.
func NewLease(entityID, owner string, now time.Time, duration time.Duration) Lease {
	return Lease{
		EntityID:            entityID,
		LeasedBy:            owner,
		LeasedAt:            now.UnixMilli(),
		LeaseDurationMillis: duration.Milliseconds(),
	}
}

// ExpiresAt is the epoch millisecond at which the lease stops being live,
// not counting any grace period.
func (l Lease) ExpiresAt() int64 {
	return l.LeasedAt + l.LeaseDurationMillis
}

// IsLive reports whether the lease still excludes other owners at now. The
// grace period widens the window to tolerate clock skew between runtimes.
func (l Lease) IsLive(now time.Time, grace time.Duration) bool {
	return l.ExpiresAt()+grace.Milliseconds() > now.UnixMilli()
}
