package session

import (
	"sync"
	"time"

	"github.com/dsgrid/ds-client/internal/model"
)

// Stats tracks per-session counters. The session loop is the writer; the
// status API and watchdog read concurrently.
type Stats struct {
	mu              sync.Mutex
	connected       bool
	jobsSeen        int
	jobsPlaced      int
	backfillPlaced  int
	fallbackPlaced  int
	completions     int
	parseFailures   int
	timeouts        int
	messagesHandled int
	lastActivity    time.Time
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{}
}

// SetConnected records connection state transitions.
func (s *Stats) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// Touch records that a protocol message was handled.
func (s *Stats) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messagesHandled++
	s.lastActivity = time.Now()
}

// JobSeen counts a job submission (JOBN or JOBP).
func (s *Stats) JobSeen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobsSeen++
}

// JobPlaced counts an emitted placement command.
func (s *Stats) JobPlaced(backfill bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobsPlaced++
	if backfill {
		s.backfillPlaced++
	}
}

// FallbackPlaced counts a placement made by the no-candidate fallback.
func (s *Stats) FallbackPlaced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbackPlaced++
}

// Completion counts a job completion notice.
func (s *Stats) Completion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions++
}

// RecordFailures counts malformed server records skipped in a bulk block.
func (s *Stats) RecordFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parseFailures += n
}

// Timeout counts a read timeout.
func (s *Stats) Timeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeouts++
}

// MessagesHandled returns the monotonic count of handled messages, used by
// the watchdog as its progress signal.
func (s *Stats) MessagesHandled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesHandled
}

// Snapshot returns the counters as a SessionStatus. KnownServers is filled
// in by the caller, which owns the directory.
func (s *Stats) Snapshot() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SessionStatus{
		Connected:      s.connected,
		JobsSeen:       s.jobsSeen,
		JobsPlaced:     s.jobsPlaced,
		BackfillPlaced: s.backfillPlaced,
		FallbackPlaced: s.fallbackPlaced,
		Completions:    s.completions,
		ParseFailures:  s.parseFailures,
		Timeouts:       s.timeouts,
		LastActivity:   s.lastActivity,
	}
}
