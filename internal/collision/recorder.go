package collision

import "time"

// ReplanEvent describes one replan request sent to the planner.
type ReplanEvent struct {
	Reason         Reason
	TriggeredAt    time.Time
	TrackedObjects int
}

// HostPlanEvent describes one published host plan.
type HostPlanEvent struct {
	PublishedAt    time.Time
	Points         int
	StartTime      float64 // s
	StartDowntrack float64 // m
	EndTime        float64 // s, equal to StartTime for an empty plan
}

// EventRecorder persists the checker's audit trail. Implementations must be
// safe for concurrent use; failures are logged and never abort a cycle.
type EventRecorder interface {
	RecordReplan(ev ReplanEvent) error
	RecordHostPlan(ev HostPlanEvent) error
}
