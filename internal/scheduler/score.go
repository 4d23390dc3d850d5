package scheduler

import (
	"math"

	"github.com/dsgrid/ds-client/internal/model"
)

// Weights tunes the placement scoring terms. The availability-state
// bonuses dominate every other term combined so that a server's readiness
// always outranks queue, load, and fit adjustments.
type Weights struct {
	Immediate    float64 // idle, or active with an empty queue
	BootingMax   float64 // booting with no remaining delay
	BootingFloor float64 // booting bonus never decays below this
	Inactive     float64 // needs a full boot before it can run anything

	WaitingPenalty      float64 // per waiting job
	RunningPenalty      float64 // per running job up to RunningHeavyAfter
	RunningPenaltyHeavy float64 // per running job beyond RunningHeavyAfter
	RunningHeavyAfter   int

	WastePenalty float64 // per unit of normalized resource waste
	FitBonus     float64 // scaled by 1/(1 + waste*FitSharpness)
	FitSharpness float64

	UtilizationBonus float64 // scaled by min(1, demand/available)
	UtilizationFloor float64 // ratio below which no utilization bonus applies

	BackfillBusyBonus float64 // backfill candidates running few enough jobs
	BackfillBusyMax   int
}

// DefaultWeights returns the tuning the client ships with.
func DefaultWeights() Weights {
	return Weights{
		Immediate:    2000.0,
		BootingMax:   800.0,
		BootingFloor: 200.0,
		Inactive:     50.0,

		WaitingPenalty:      15.0,
		RunningPenalty:      8.0,
		RunningPenaltyHeavy: 18.0,
		RunningHeavyAfter:   2,

		WastePenalty: 100.0,
		FitBonus:     200.0,
		FitSharpness: 20.0,

		UtilizationBonus: 100.0,
		UtilizationFloor: 0.3,

		BackfillBusyBonus: 10.0,
		BackfillBusyMax:   3,
	}
}

// ineligibleScore is strictly below every attainable score of an eligible
// candidate, so an ineligible server can never win a comparison.
var ineligibleScore = math.Inf(-1)

// resourceWaste returns the normalized leftover capacity in [0, 1] the
// server would have after taking the job, averaged over the three axes.
// Lower is a tighter fit. ok is false when every axis is degenerate
// (zero demand against zero capacity), in which case fit terms are skipped.
func resourceWaste(s model.ServerRecord, j model.Job) (waste float64, ok bool) {
	axes := [3][2]int{
		{s.AvailCores, j.Cores},
		{s.AvailMemory, j.Memory},
		{s.AvailDisk, j.Disk},
	}

	var sum float64
	counted := 0
	for _, axis := range axes {
		spare := axis[0] - axis[1]
		if spare < 0 {
			spare = 0
		}
		total := spare + axis[1]
		if total == 0 {
			continue
		}
		sum += float64(spare) / float64(total)
		counted++
	}

	if counted == 0 {
		return 0, false
	}
	return sum / float64(counted), true
}

// score rates one eligible candidate for the job; higher wins. Ineligible
// servers get the sentinel score and are excluded before any arithmetic
// can produce division or sign artifacts.
func (e *Engine) score(s model.ServerRecord, j model.Job) float64 {
	if !s.CanRun(j) {
		return ineligibleScore
	}

	w := e.weights
	var score float64

	switch {
	case s.ImmediatelyAvailable():
		score += w.Immediate
	case s.State == model.ServerStateBooting:
		score += e.bootingBonus(s)
	case s.State == model.ServerStateInactive:
		score += w.Inactive
	}

	score -= w.WaitingPenalty * float64(s.WaitingJobs)

	light := s.RunningJobs
	if light > w.RunningHeavyAfter {
		light = w.RunningHeavyAfter
		score -= w.RunningPenaltyHeavy * float64(s.RunningJobs-w.RunningHeavyAfter)
	}
	score -= w.RunningPenalty * float64(light)

	waste, ok := resourceWaste(s, j)
	if ok {
		score -= w.WastePenalty * waste
		score += w.FitBonus / (1.0 + waste*w.FitSharpness)

		if avail := s.TotalAvail(); avail > 0 {
			utilization := float64(j.TotalDemand()) / float64(avail)
			if utilization > w.UtilizationFloor {
				score += w.UtilizationBonus * math.Min(1.0, utilization)
			}
		}
	}

	return score
}

// bootingBonus decays linearly from BootingMax (boot about to finish) as
// the remaining boot time grows, floored at BootingFloor. A record without
// a usable completion estimate gets the floor.
func (e *Engine) bootingBonus(s model.ServerRecord) float64 {
	w := e.weights
	if s.StartTime <= 0 {
		return w.BootingFloor
	}

	bootTime := e.bootTime(s.Type)
	remaining := s.StartTime - e.now
	if remaining < 0 {
		remaining = 0
	}

	frac := float64(remaining) / float64(bootTime)
	bonus := w.BootingMax * (1.0 - math.Min(1.0, frac))
	return math.Max(bonus, w.BootingFloor)
}

// bootTime returns the configured boot duration for a server type.
func (e *Engine) bootTime(serverType string) int {
	if t, ok := e.bootTimes[serverType]; ok {
		return t
	}
	return e.defaultBootTime
}
