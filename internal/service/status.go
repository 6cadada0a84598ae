package service

import "fmt"

// State is the phase of the most recent sync request.
type State string

const (
	StateIdle       State = "idle"
	StateInProgress State = "in_progress"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Status is the presentation view of sync progress.
type Status struct {
	State   State  `json:"state"`
	Message string `json:"message,omitempty"`
}

func (s Status) String() string {
	if s.Message == "" {
		return string(s.State)
	}
	return fmt.Sprintf("%s: %s", s.State, s.Message)
}

// Messages shown for sync outcomes.
const (
	msgAlreadySynced = "All inspections are already synced"
	msgSyncedFmt     = "Successfully synced %d inspection(s)"
	msgFailedFmt     = "Sync failed: %v"
)

func idle() Status       { return Status{State: StateIdle} }
func inProgress() Status { return Status{State: StateInProgress, Message: "Syncing inspections..."} }
