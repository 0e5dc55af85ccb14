package session

import "time"

// Snapshot is a point-in-time view of the controller for status reporting.
type Snapshot struct {
	State   State    `json:"state"`
	Session *Session `json:"session,omitempty"`
	// StopAt is when a stopping session will be finalized without a new match.
	StopAt    *time.Time `json:"stop_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Snapshot copies the controller state.
func (c *Controller) Snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		State:     c.state,
		Session:   c.Session(),
		UpdatedAt: now,
	}
	if c.state == StateStopping {
		at := c.since.Add(c.opts.GracePeriod)
		snap.StopAt = &at
	}
	return snap
}
