package model

import "time"

// SessionStatus represents the current state of the scheduling session,
// served by the diagnostic status API.
type SessionStatus struct {
	Connected      bool      `json:"connected"`       // Whether the simulator connection is up
	JobsSeen       int       `json:"jobs_seen"`       // Job submissions received (JOBN + JOBP)
	JobsPlaced     int       `json:"jobs_placed"`     // Placement commands emitted
	BackfillPlaced int       `json:"backfill_placed"` // Placements made by the backfill fast-path
	FallbackPlaced int       `json:"fallback_placed"` // Placements made by the no-candidate fallback
	Completions    int       `json:"completions"`     // Job completion notices received
	ParseFailures  int       `json:"parse_failures"`  // Malformed server records skipped
	Timeouts       int       `json:"timeouts"`        // Read timeouts observed
	KnownServers   int       `json:"known_servers"`   // Live entries in the server directory
	LastActivity   time.Time `json:"last_activity"`   // Wall-clock time of the last handled message
}
