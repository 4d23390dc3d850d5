package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/dsgrid/ds-client/internal/config"
	"github.com/dsgrid/ds-client/internal/protocol"
	"github.com/dsgrid/ds-client/internal/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(conn net.Conn, queryMode string) (*Controller, *Stats) {
	log := testLogger()
	directory := scheduler.NewDirectory(time.Minute)
	engine := scheduler.NewEngine(config.SchedulerConfig{
		BackfillMaxRunTime: 600,
		DefaultBootTime:    60,
	}, directory, log)
	stats := NewStats()
	transport := protocol.NewTransport(conn, time.Second, log)
	return New(transport, engine, "tester", queryMode, stats, log), stats
}

// step pairs one expected client line with the simulator's scripted reply.
type step struct {
	expect string
	send   []string
}

// runScript plays the simulator side of the conversation and reports the
// first deviation.
func runScript(conn net.Conn, steps []step) <-chan error {
	done := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(conn)
		for _, s := range steps {
			if !scanner.Scan() {
				done <- fmt.Errorf("connection ended while awaiting %q", s.expect)
				return
			}
			if got := scanner.Text(); got != s.expect {
				done <- fmt.Errorf("client sent %q, want %q", got, s.expect)
				return
			}
			for _, line := range s.send {
				if _, err := conn.Write([]byte(line + "\n")); err != nil {
					done <- fmt.Errorf("replying to %q: %w", s.expect, err)
					return
				}
			}
		}
		done <- nil
	}()
	return done
}

func TestSessionEndToEnd(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctrl, stats := newTestController(client, config.QueryModeAll)

	// The 1000-unit run time keeps the job out of the backfill band, so
	// the idle server beats the loaded active one on the base-state term.
	done := runScript(server, []step{
		{expect: "HELO", send: []string{"OK"}},
		{expect: "AUTH tester", send: []string{"OK"}},
		{expect: "REDY", send: []string{"JOBN 1 0 1000 2 1024 10"}},
		{expect: "GETS All", send: []string{"DATA 2 124"}},
		{expect: "OK", send: []string{
			"type1 0 idle 0 4 2048 20 0 0",
			"type1 1 active 0 4 2048 20 1 1",
			".",
		}},
		{expect: "SCHD 1 type1 0", send: []string{"OK"}},
		{expect: "REDY", send: []string{"NONE"}},
		{expect: "QUIT"},
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("script: %v", err)
	}

	status := stats.Snapshot()
	if status.JobsSeen != 1 || status.JobsPlaced != 1 {
		t.Errorf("jobs seen/placed = %d/%d, want 1/1", status.JobsSeen, status.JobsPlaced)
	}
}

func TestSessionShortJobBackfills(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctrl, stats := newTestController(client, config.QueryModeAll)

	done := runScript(server, []step{
		{expect: "HELO", send: []string{"OK"}},
		{expect: "AUTH tester", send: []string{"OK"}},
		{expect: "REDY", send: []string{"JOBN 1 0 100 2 1024 10"}},
		{expect: "GETS All", send: []string{"DATA 2 124"}},
		{expect: "OK", send: []string{
			"type1 0 idle 0 4 2048 20 0 0",
			"type1 1 active 0 4 2048 20 1 1",
			".",
		}},
		{expect: "SCHD 1 type1 1", send: []string{"OK"}},
		{expect: "REDY", send: []string{"NONE"}},
		{expect: "QUIT"},
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("script: %v", err)
	}

	if status := stats.Snapshot(); status.BackfillPlaced != 1 {
		t.Errorf("backfill placed = %d, want 1", status.BackfillPlaced)
	}
}

func TestSessionCapableModeFallsBackToAvail(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctrl, stats := newTestController(client, config.QueryModeCapable)

	// No capable servers; the Avail requery returns one server that still
	// does not fit, so the controller degrades to the first record.
	done := runScript(server, []step{
		{expect: "HELO", send: []string{"OK"}},
		{expect: "AUTH tester", send: []string{"OK"}},
		{expect: "REDY", send: []string{"JOBN 9 0 1000 8 4096 100"}},
		{expect: "GETS Capable 8 4096 100", send: []string{"DATA 0 0"}},
		{expect: "OK", send: []string{"."}},
		{expect: "GETS Avail 8 4096 100", send: []string{"DATA 1 124"}},
		{expect: "OK", send: []string{
			"type1 0 idle 0 1 512 5 0 0",
			".",
		}},
		{expect: "SCHD 9 type1 0", send: []string{"OK"}},
		{expect: "REDY", send: []string{"NONE"}},
		{expect: "QUIT"},
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("script: %v", err)
	}

	status := stats.Snapshot()
	if status.FallbackPlaced != 1 {
		t.Errorf("fallback placed = %d, want 1", status.FallbackPlaced)
	}
}

func TestSessionSkipsMalformedRecords(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctrl, stats := newTestController(client, config.QueryModeAll)

	done := runScript(server, []step{
		{expect: "HELO", send: []string{"OK"}},
		{expect: "AUTH tester", send: []string{"OK"}},
		{expect: "REDY", send: []string{"JOBN 1 0 1000 2 1024 10"}},
		{expect: "GETS All", send: []string{"DATA 2 124"}},
		{expect: "OK", send: []string{
			"type1 zzz idle 0 4 2048 20 0 0",
			"type1 1 idle 0 4 2048 20 0 0",
			".",
		}},
		{expect: "SCHD 1 type1 1", send: []string{"OK"}},
		{expect: "REDY", send: []string{"NONE"}},
		{expect: "QUIT"},
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("script: %v", err)
	}

	if status := stats.Snapshot(); status.ParseFailures != 1 {
		t.Errorf("parse failures = %d, want 1", status.ParseFailures)
	}
}

func TestSessionCompletionNoticesNeedNoAction(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctrl, stats := newTestController(client, config.QueryModeAll)

	done := runScript(server, []step{
		{expect: "HELO", send: []string{"OK"}},
		{expect: "AUTH tester", send: []string{"OK"}},
		{expect: "REDY", send: []string{"JCPL 3 type1 0"}},
		{expect: "REDY", send: []string{"RESF type1 0 77"}},
		{expect: "REDY", send: []string{"NONE"}},
		{expect: "QUIT"},
	})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("script: %v", err)
	}

	if status := stats.Snapshot(); status.Completions != 1 {
		t.Errorf("completions = %d, want 1", status.Completions)
	}
}

func TestSessionHandshakeRejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctrl, _ := newTestController(client, config.QueryModeAll)

	done := runScript(server, []step{
		{expect: "HELO", send: []string{"ERR unknown client"}},
	})

	err := ctrl.Run(context.Background())
	if !errors.Is(err, protocol.ErrUnexpectedReply) {
		t.Errorf("err = %v, want ErrUnexpectedReply", err)
	}
	if scriptErr := <-done; scriptErr != nil {
		t.Fatalf("script: %v", scriptErr)
	}
}

func TestSessionSchedulingRejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctrl, _ := newTestController(client, config.QueryModeAll)

	done := runScript(server, []step{
		{expect: "HELO", send: []string{"OK"}},
		{expect: "AUTH tester", send: []string{"OK"}},
		{expect: "REDY", send: []string{"JOBN 1 0 1000 2 1024 10"}},
		{expect: "GETS All", send: []string{"DATA 1 124"}},
		{expect: "OK", send: []string{
			"type1 0 idle 0 4 2048 20 0 0",
			".",
		}},
		{expect: "SCHD 1 type1 0", send: []string{"ERR job already scheduled"}},
	})

	err := ctrl.Run(context.Background())
	if !errors.Is(err, protocol.ErrUnexpectedReply) {
		t.Errorf("err = %v, want ErrUnexpectedReply", err)
	}
	if scriptErr := <-done; scriptErr != nil {
		t.Fatalf("script: %v", scriptErr)
	}
}
