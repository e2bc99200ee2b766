// Package guidance declares the planner-side contracts the collision checker
// talks to: the arbitrator that owns the active trajectory and the handle
// used to request a new plan.
package guidance

import "sync"

// Trajectory identifies a trajectory held by the arbitrator. The checker
// never inspects it; only its presence matters.
type Trajectory interface {
	ID() string
}

// Arbitrator reports the trajectory the planner is currently executing.
type Arbitrator interface {
	// CurrentTrajectory returns the active trajectory and true, or false
	// when the planner holds nothing that could be replaced.
	CurrentTrajectory() (Trajectory, bool)
}

// ReplanHandle asks the upstream planner for a new plan. Calls are
// fire-and-forget: the caller never learns whether the replan succeeded.
type ReplanHandle interface {
	TriggerNewPlan(forceTotalReplan bool)
}

// ReplanFunc adapts a function to ReplanHandle.
type ReplanFunc func(forceTotalReplan bool)

func (f ReplanFunc) TriggerNewPlan(forceTotalReplan bool) { f(forceTotalReplan) }

// TrajectoryID is a Trajectory identified by a plain string.
type TrajectoryID string

func (id TrajectoryID) ID() string { return string(id) }

// ActiveTrajectory is an Arbitrator holding at most one trajectory. It is
// safe for concurrent use by the planning and perception streams.
type ActiveTrajectory struct {
	mu      sync.RWMutex
	current Trajectory
}

// Set replaces the active trajectory. Passing nil clears it.
func (a *ActiveTrajectory) Set(t Trajectory) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = t
}

func (a *ActiveTrajectory) CurrentTrajectory() (Trajectory, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current, a.current != nil
}

var _ Arbitrator = (*ActiveTrajectory)(nil)
