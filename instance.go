package main

import (
	"time"

	"github.com/google/uuid"
)

// Instance identifies one running process; its ID is printed in the
// startup log line. Grounded on the teacher's session.go UUID-per-session
// convention applied at process scope instead of per-connection scope.
type Instance struct {
	ID        string
	StartTime time.Time
}

// NewInstance stamps a fresh process identity.
func NewInstance() *Instance {
	return &Instance{
		ID:        uuid.New().String(),
		StartTime: time.Now(),
	}
}

// Uptime reports how long this process has been running.
func (i *Instance) Uptime() time.Duration {
	return time.Since(i.StartTime)
}
