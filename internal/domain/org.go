package domain

import "time"

// Organization owns knowledge bases and carries the embedding credit balance
// the quota guard checks against.
type Organization struct {
	ID            string
	Name          string
	CreditBalance int64
	CreatedAt     time.Time
}

// UsageRecord is one metered embedding charge.
type UsageRecord struct {
	ID        string
	OrgID     string
	Units     int64
	Provider  string
	Model     string
	CreatedAt time.Time
}
