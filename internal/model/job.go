package model

// Job represents a single job submission announced by the simulator.
// Jobs are immutable once parsed; the client forgets them as soon as a
// placement command has been emitted.
type Job struct {
	ID         int `json:"id"`
	SubmitTime int `json:"submit_time"`  // simulator clock units
	EstRunTime int `json:"est_run_time"` // estimated run time in clock units
	Cores      int `json:"cores"`
	Memory     int `json:"memory"`
	Disk       int `json:"disk"`
}

// TotalDemand returns the job's summed demand across all three resource axes.
func (j Job) TotalDemand() int {
	return j.Cores + j.Memory + j.Disk
}
