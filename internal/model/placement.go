package model

// Placement identifies the server chosen for a job. The zero value is a
// valid placement (server id 0 exists), so callers must use the boolean
// returned alongside it to detect the no-candidate outcome.
type Placement struct {
	ServerType string `json:"server_type"`
	ServerID   int    `json:"server_id"`
	Backfill   bool   `json:"backfill"` // chosen by the short-job backfill pass
}
