package scheduler

import (
	"log/slog"

	"github.com/dsgrid/ds-client/internal/config"
	"github.com/dsgrid/ds-client/internal/model"
)

// Engine owns the server directory and turns (directory, job) into a
// placement decision. Each job is scored independently and statelessly
// against the directory snapshot current at decision time; the only
// cross-job state is the directory itself and the latest simulator clock
// observation used for boot-delay estimates.
type Engine struct {
	weights            Weights
	backfillMaxRunTime int
	defaultBootTime    int
	bootTimes          map[string]int
	directory          *Directory
	logger             *slog.Logger
	now                int // latest simulator clock value observed
}

// NewEngine creates an engine over the given directory with the default
// scoring weights.
func NewEngine(cfg config.SchedulerConfig, directory *Directory, logger *slog.Logger) *Engine {
	return &Engine{
		weights:            DefaultWeights(),
		backfillMaxRunTime: cfg.BackfillMaxRunTime,
		defaultBootTime:    cfg.DefaultBootTime,
		bootTimes:          cfg.BootTimes,
		directory:          directory,
		logger:             logger,
	}
}

// Directory exposes the engine's server directory for diagnostics.
func (e *Engine) Directory() *Directory {
	return e.directory
}

// ObserveTime records the latest simulator clock value. The clock never
// runs backwards; stale observations are ignored.
func (e *Engine) ObserveTime(t int) {
	if t > e.now {
		e.now = t
	}
}

// Refresh replaces the directory contents with a freshly parsed bulk block.
func (e *Engine) Refresh(records []model.ServerRecord) {
	e.directory.ReplaceAll(records)
}

// Place selects a server for the job, or reports false when no server
// passes the eligibility filter. Short jobs first try the backfill
// fast-path; otherwise every eligible candidate is scored and the highest
// score wins. Candidates are visited in first-seen order and compared
// strictly, so exact ties resolve to the earliest candidate
// deterministically.
func (e *Engine) Place(job model.Job) (model.Placement, bool) {
	candidates := e.directory.Snapshot()

	if placement, ok := e.backfill(job, candidates); ok {
		e.logger.Debug("backfill placement",
			slog.Int("job_id", job.ID),
			slog.String("server_type", placement.ServerType),
			slog.Int("server_id", placement.ServerID),
		)
		return placement, true
	}

	var best model.Placement
	bestScore := ineligibleScore
	found := false

	for _, s := range candidates {
		if !s.CanRun(job) {
			continue
		}
		sc := e.score(s, job)
		if !found || sc > bestScore {
			best = model.Placement{ServerType: s.Type, ServerID: s.ID}
			bestScore = sc
			found = true
		}
	}

	if !found {
		return model.Placement{}, false
	}

	e.logger.Debug("placement decided",
		slog.Int("job_id", job.ID),
		slog.String("server_type", best.ServerType),
		slog.Int("server_id", best.ServerID),
		slog.Float64("score", bestScore),
	)
	return best, true
}

// backfill packs short jobs onto active servers that are already running
// work but still have room, scored by fit alone plus a small bonus for
// lightly loaded hosts. When any such candidate exists it wins outright
// and the general scoring pass is skipped: filling a busy server raises
// utilization without provoking a new activation or taking queue position
// from longer jobs.
func (e *Engine) backfill(job model.Job, candidates []model.ServerRecord) (model.Placement, bool) {
	if job.EstRunTime > e.backfillMaxRunTime {
		return model.Placement{}, false
	}

	var best model.Placement
	bestScore := ineligibleScore
	found := false

	for _, s := range candidates {
		if s.State != model.ServerStateActive || s.RunningJobs == 0 || !s.CanFit(job) {
			continue
		}

		var sc float64
		if waste, ok := resourceWaste(s, job); ok {
			sc = -waste
		}
		if s.RunningJobs <= e.weights.BackfillBusyMax {
			sc += e.weights.BackfillBusyBonus
		}

		if !found || sc > bestScore {
			best = model.Placement{ServerType: s.Type, ServerID: s.ID, Backfill: true}
			bestScore = sc
			found = true
		}
	}

	return best, found
}
