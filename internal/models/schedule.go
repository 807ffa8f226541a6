package models

// Schedule is a recurring scan definition. IsActive only changes through the
// toggle endpoint, whose response is authoritative.
type Schedule struct {
	ID             int64      `json:"id"`
	Domain         string     `json:"domain"`
	CronExpression string     `json:"cron_expression"`
	IsActive       bool       `json:"is_active"`
	LastRun        *Timestamp `json:"last_run"`
	NextRun        *Timestamp `json:"next_run,omitempty"`
	CreatedAt      *Timestamp `json:"created_at,omitempty"`
}

// Clone returns a deep copy of the schedule.
func (s Schedule) Clone() Schedule {
	out := s
	out.LastRun = cloneTimestamp(s.LastRun)
	out.NextRun = cloneTimestamp(s.NextRun)
	out.CreatedAt = cloneTimestamp(s.CreatedAt)
	return out
}

func cloneTimestamp(ts *Timestamp) *Timestamp {
	if ts == nil {
		return nil
	}
	out := *ts
	return &out
}
