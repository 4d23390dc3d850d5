package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dsgrid/ds-client/internal/model"
)

// Job messages carry the verb plus six integer fields.
const jobFieldCount = 7

// Canonical server record shape:
// type id state start_time cores mem disk waiting_jobs running_jobs
const recordFieldCount = 9

// ParseJob parses a JOBN or JOBP message into a Job. Both verbs carry the
// same payload and are handled identically.
func ParseJob(line string) (model.Job, error) {
	fields := strings.Fields(line)
	if len(fields) < jobFieldCount {
		return model.Job{}, fmt.Errorf("job message %q: expected %d fields, got %d",
			line, jobFieldCount, len(fields))
	}
	if fields[0] != "JOBN" && fields[0] != "JOBP" {
		return model.Job{}, fmt.Errorf("job message %q: unexpected verb %s", line, fields[0])
	}

	values := make([]int, 0, jobFieldCount-1)
	for _, field := range fields[1:jobFieldCount] {
		v, err := strconv.Atoi(field)
		if err != nil {
			return model.Job{}, fmt.Errorf("job message %q: non-numeric field %q", line, field)
		}
		values = append(values, v)
	}

	job := model.Job{
		ID:         values[0],
		SubmitTime: values[1],
		EstRunTime: values[2],
		Cores:      values[3],
		Memory:     values[4],
		Disk:       values[5],
	}
	if job.Cores < 0 || job.Memory < 0 || job.Disk < 0 {
		return model.Job{}, fmt.Errorf("job message %q: negative resource demand", line)
	}

	return job, nil
}

// ParseServerRecord parses one record line from a bulk block into a
// validated ServerRecord. The adapter tolerates the shapes the simulator
// variants are known to produce: an optional leading SENT token, an
// optional total-capacity triple before the canonical fields, a "-" start
// time, and trailing extras after the canonical fields. Anything else is a
// parse failure the caller skips per record.
func ParseServerRecord(line string) (model.ServerRecord, error) {
	fields := strings.Fields(line)
	if len(fields) > 0 && fields[0] == "SENT" {
		fields = fields[1:]
	}

	// Leading numeric extras before the type name are total capacities.
	var extras []int
	for len(fields) > recordFieldCount {
		v, err := strconv.Atoi(fields[0])
		if err != nil {
			break
		}
		extras = append(extras, v)
		fields = fields[1:]
	}

	if len(fields) < recordFieldCount {
		return model.ServerRecord{}, fmt.Errorf("server record %q: expected %d fields, got %d",
			line, recordFieldCount, len(fields))
	}

	rec := model.ServerRecord{Type: fields[0]}
	if rec.Type == "" {
		return model.ServerRecord{}, fmt.Errorf("server record %q: empty server type", line)
	}

	id, err := strconv.Atoi(fields[1])
	if err != nil {
		return model.ServerRecord{}, fmt.Errorf("server record %q: bad server id %q", line, fields[1])
	}
	rec.ID = id

	rec.State = strings.ToLower(fields[2])
	if !model.ValidServerState(rec.State) {
		return model.ServerRecord{}, fmt.Errorf("server record %q: unknown state %q", line, fields[2])
	}

	// An inactive server has no boot estimate; some builds send "-".
	if fields[3] == "-" {
		rec.StartTime = 0
	} else {
		start, err := strconv.Atoi(fields[3])
		if err != nil {
			return model.ServerRecord{}, fmt.Errorf("server record %q: bad start time %q", line, fields[3])
		}
		rec.StartTime = start
	}

	counters := []struct {
		name string
		dst  *int
	}{
		{"avail cores", &rec.AvailCores},
		{"avail memory", &rec.AvailMemory},
		{"avail disk", &rec.AvailDisk},
		{"waiting jobs", &rec.WaitingJobs},
		{"running jobs", &rec.RunningJobs},
	}
	for i, c := range counters {
		v, err := strconv.Atoi(fields[4+i])
		if err != nil || v < 0 {
			return model.ServerRecord{}, fmt.Errorf("server record %q: bad %s %q", line, c.name, fields[4+i])
		}
		*c.dst = v
	}

	if len(extras) == 3 {
		rec.TotalCores, rec.TotalMemory, rec.TotalDisk = extras[0], extras[1], extras[2]
		rec.HasTotals = true
		if rec.AvailCores > rec.TotalCores ||
			rec.AvailMemory > rec.TotalMemory ||
			rec.AvailDisk > rec.TotalDisk {
			return model.ServerRecord{}, fmt.Errorf("server record %q: available capacity exceeds total", line)
		}
	} else if len(extras) != 0 {
		return model.ServerRecord{}, fmt.Errorf("server record %q: %d unrecognized leading fields", line, len(extras))
	}

	return rec, nil
}
