package model

import "fmt"

// ServerState represents possible server states reported by the simulator
const (
	ServerStateInactive    = "inactive"
	ServerStateBooting     = "booting"
	ServerStateIdle        = "idle"
	ServerStateActive      = "active"
	ServerStateUnavailable = "unavailable"
)

// ValidServerState reports whether s is one of the known server states.
func ValidServerState(s string) bool {
	switch s {
	case ServerStateInactive, ServerStateBooting, ServerStateIdle, ServerStateActive, ServerStateUnavailable:
		return true
	}
	return false
}

// ServerRecord is the latest known snapshot of one simulator server.
// Records are replaced wholesale on every directory refresh, never merged.
// Total capacities are only present when the simulator reports them
// (HasTotals); older protocol builds send available capacity only.
type ServerRecord struct {
	Type        string `json:"type"`
	ID          int    `json:"id"`
	State       string `json:"state"`
	StartTime   int    `json:"start_time"` // boot completion estimate while booting, 0 while inactive
	AvailCores  int    `json:"avail_cores"`
	AvailMemory int    `json:"avail_memory"`
	AvailDisk   int    `json:"avail_disk"`
	TotalCores  int    `json:"total_cores,omitempty"`
	TotalMemory int    `json:"total_memory,omitempty"`
	TotalDisk   int    `json:"total_disk,omitempty"`
	HasTotals   bool   `json:"has_totals"`
	WaitingJobs int    `json:"waiting_jobs"`
	RunningJobs int    `json:"running_jobs"`
}

// Key returns the directory key for this record. Server ids are only unique
// within a type, so the key is the (type, id) pair.
func (s ServerRecord) Key() string {
	return fmt.Sprintf("%s/%d", s.Type, s.ID)
}

// CanFit reports whether the server's available capacity covers the job's
// demand on every axis.
func (s ServerRecord) CanFit(j Job) bool {
	return s.AvailCores >= j.Cores &&
		s.AvailMemory >= j.Memory &&
		s.AvailDisk >= j.Disk
}

// CanRun reports whether the server is a placement candidate for the job:
// not unavailable and with sufficient available resources. An unavailable
// server is never eligible regardless of resource fit.
func (s ServerRecord) CanRun(j Job) bool {
	return s.State != ServerStateUnavailable && s.CanFit(j)
}

// ImmediatelyAvailable reports whether the server can start a job without
// any boot delay: idle, or active with an empty waiting queue.
func (s ServerRecord) ImmediatelyAvailable() bool {
	return s.State == ServerStateIdle ||
		(s.State == ServerStateActive && s.WaitingJobs == 0)
}

// TotalAvail returns the summed available capacity across all three axes.
func (s ServerRecord) TotalAvail() int {
	return s.AvailCores + s.AvailMemory + s.AvailDisk
}
