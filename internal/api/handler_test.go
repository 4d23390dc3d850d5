package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dsgrid/ds-client/internal/model"
	"github.com/dsgrid/ds-client/internal/scheduler"
	"github.com/dsgrid/ds-client/internal/session"
)

func testHandler() (*Handler, *session.Stats, *scheduler.Directory) {
	stats := session.NewStats()
	directory := scheduler.NewDirectory(time.Minute)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(stats, directory, log), stats, directory
}

func TestGetStatus(t *testing.T) {
	h, stats, directory := testHandler()

	stats.JobSeen()
	stats.JobPlaced(true)
	directory.ReplaceAll([]model.ServerRecord{
		{Type: "type1", ID: 0, State: model.ServerStateIdle},
	})

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var status model.SessionStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if status.JobsSeen != 1 || status.JobsPlaced != 1 || status.BackfillPlaced != 1 {
		t.Errorf("counters = %+v, want 1/1/1", status)
	}
	if status.KnownServers != 1 {
		t.Errorf("known servers = %d, want 1", status.KnownServers)
	}
}

func TestListServers(t *testing.T) {
	h, _, directory := testHandler()

	directory.ReplaceAll([]model.ServerRecord{
		{Type: "type1", ID: 0, State: model.ServerStateIdle, AvailCores: 4},
		{Type: "type2", ID: 3, State: model.ServerStateBooting, StartTime: 120},
	})

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/servers", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var servers []model.ServerRecord
	if err := json.NewDecoder(rec.Body).Decode(&servers); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if servers[0].Type != "type1" || servers[1].Type != "type2" {
		t.Errorf("unexpected order: %s, %s", servers[0].Type, servers[1].Type)
	}
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	h, _, _ := testHandler()

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
