package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dsgrid/ds-client/internal/config"
	"github.com/dsgrid/ds-client/internal/model"
	"github.com/dsgrid/ds-client/internal/protocol"
	"github.com/dsgrid/ds-client/internal/scheduler"
)

// Transport is the protocol surface the controller drives.
type Transport interface {
	SendLine(text string) error
	ReadLine() (string, error)
	ReadBulk(header protocol.DataHeader) ([]string, error)
}

// Controller runs one scheduling session end-to-end: handshake, then a
// strict request/response loop that feeds parsed simulator state into the
// engine and emits the resulting placement commands. There is never more
// than one outstanding request.
type Controller struct {
	transport Transport
	engine    *scheduler.Engine
	username  string
	queryMode string
	stats     *Stats
	logger    *slog.Logger
}

// New creates a session controller. queryMode selects how server state is
// requested per job: config.QueryModeAll asks for the whole directory,
// config.QueryModeCapable narrows to capable servers with a GETS Avail
// fallback.
func New(transport Transport, engine *scheduler.Engine, username, queryMode string, stats *Stats, logger *slog.Logger) *Controller {
	return &Controller{
		transport: transport,
		engine:    engine,
		username:  username,
		queryMode: queryMode,
		stats:     stats,
		logger:    logger,
	}
}

// Run drives the session until the simulator reports no more work, a fatal
// protocol condition occurs, or ctx is cancelled. The QUIT farewell is
// sent on the orderly path only; fatal errors terminate the session as-is.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.handshake(); err != nil {
		return err
	}

	c.stats.SetConnected(true)
	defer c.stats.SetConnected(false)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.transport.SendLine("REDY"); err != nil {
			return err
		}

		msg, err := c.transport.ReadLine()
		if err != nil {
			if errors.Is(err, protocol.ErrTimeout) {
				c.stats.Timeout()
			}
			return fmt.Errorf("awaiting work: %w", err)
		}
		c.stats.Touch()

		fields := strings.Fields(msg)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "JOBN", "JOBP":
			job, err := protocol.ParseJob(msg)
			if err != nil {
				c.logger.Warn("skipping malformed job message",
					slog.String("message", msg),
					slog.String("error", err.Error()),
				)
				continue
			}
			c.stats.JobSeen()
			c.engine.ObserveTime(job.SubmitTime)
			if err := c.handleJob(job); err != nil {
				return err
			}

		case "JCPL":
			// Completion notices need no action from the engine.
			c.stats.Completion()

		case "RESF", "RESR":
			// Resource failure and recovery notices; the session continues.
			c.logger.Debug("resource notice", slog.String("message", msg))

		case "NONE":
			c.logger.Info("no more work, ending session")
			if err := c.transport.SendLine("QUIT"); err != nil {
				return err
			}
			return nil

		default:
			c.logger.Debug("ignoring unexpected message", slog.String("message", msg))
		}
	}
}

// handshake performs the HELO/AUTH exchange. Any reply other than OK is a
// fatal protocol-sequence error; no scheduling happens after a failed
// handshake.
func (c *Controller) handshake() error {
	if err := c.transport.SendLine("HELO"); err != nil {
		return err
	}
	if err := c.expectOK("HELO"); err != nil {
		return err
	}

	if err := c.transport.SendLine("AUTH " + c.username); err != nil {
		return err
	}
	if err := c.expectOK("AUTH"); err != nil {
		return err
	}

	c.logger.Info("handshake complete", slog.String("username", c.username))
	return nil
}

// expectOK reads one line and requires it to be OK.
func (c *Controller) expectOK(stage string) error {
	reply, err := c.transport.ReadLine()
	if err != nil {
		return fmt.Errorf("%s reply: %w", stage, err)
	}
	if strings.TrimSpace(reply) != "OK" {
		return fmt.Errorf("%w: %s: expected OK, got %q", protocol.ErrUnexpectedReply, stage, reply)
	}
	return nil
}

// handleJob queries for capable servers, asks the engine for a placement,
// and emits the SCHD command. When the engine finds no eligible candidate
// the controller widens the query to GETS Avail and, as a last resort,
// schedules to the first reported server regardless of fit; a job with
// nowhere to go at all is logged and skipped, which is a normal outcome,
// not an error.
func (c *Controller) handleJob(job model.Job) error {
	cmd := "GETS All"
	if c.queryMode == config.QueryModeCapable {
		cmd = fmt.Sprintf("GETS Capable %d %d %d", job.Cores, job.Memory, job.Disk)
	}
	records, err := c.query(cmd)
	if err != nil {
		return err
	}
	c.engine.Refresh(records)

	placement, ok := c.engine.Place(job)
	if !ok {
		placement, ok, err = c.fallback(job, records)
		if err != nil {
			return err
		}
	}
	if !ok {
		c.logger.Warn("no server can take job",
			slog.Int("job_id", job.ID),
			slog.Int("cores", job.Cores),
			slog.Int("memory", job.Memory),
			slog.Int("disk", job.Disk),
		)
		return nil
	}

	schd := fmt.Sprintf("SCHD %d %s %d", job.ID, placement.ServerType, placement.ServerID)
	if err := c.transport.SendLine(schd); err != nil {
		return err
	}

	reply, err := c.transport.ReadLine()
	if err != nil {
		return fmt.Errorf("SCHD reply: %w", err)
	}
	if strings.HasPrefix(strings.TrimSpace(reply), "ERR") {
		return fmt.Errorf("%w: SCHD rejected: %q", protocol.ErrUnexpectedReply, reply)
	}

	c.stats.JobPlaced(placement.Backfill)
	return nil
}

// fallback handles the no-eligible-server outcome. In capable mode the
// query is first widened to GETS Avail; if the engine still has no
// candidate the controller degrades to the first reported server
// regardless of fit.
func (c *Controller) fallback(job model.Job, records []model.ServerRecord) (model.Placement, bool, error) {
	if c.queryMode == config.QueryModeCapable {
		wider, err := c.query(fmt.Sprintf("GETS Avail %d %d %d", job.Cores, job.Memory, job.Disk))
		if err != nil {
			return model.Placement{}, false, err
		}
		c.engine.Refresh(wider)
		records = wider

		if placement, ok := c.engine.Place(job); ok {
			return placement, true, nil
		}
	}

	if len(records) == 0 {
		return model.Placement{}, false, nil
	}

	first := records[0]
	c.logger.Warn("degrading to first reported server",
		slog.Int("job_id", job.ID),
		slog.String("server_type", first.Type),
		slog.Int("server_id", first.ID),
	)
	c.stats.FallbackPlaced()
	return model.Placement{ServerType: first.Type, ServerID: first.ID}, true, nil
}

// query sends one GETS command and returns the parsed records of its bulk
// reply. Malformed records are skipped and counted; they never abort the
// block.
func (c *Controller) query(cmd string) ([]model.ServerRecord, error) {
	if err := c.transport.SendLine(cmd); err != nil {
		return nil, err
	}

	headerLine, err := c.transport.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("%s header: %w", cmd, err)
	}
	header, err := protocol.ParseDataHeader(headerLine)
	if err != nil {
		return nil, err
	}

	lines, err := c.transport.ReadBulk(header)
	if err != nil {
		return nil, err
	}

	records := make([]model.ServerRecord, 0, len(lines))
	failures := 0
	for _, line := range lines {
		rec, err := protocol.ParseServerRecord(line)
		if err != nil {
			failures++
			c.logger.Warn("skipping malformed server record",
				slog.String("line", line),
				slog.String("error", err.Error()),
			)
			continue
		}
		records = append(records, rec)
	}
	if failures > 0 {
		c.stats.RecordFailures(failures)
	}

	return records, nil
}
