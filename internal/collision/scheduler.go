package collision

import "time"

// Reason explains why a replan was requested.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonFirstDetection Reason = "first_detection" // first cycle with an active trajectory
	ReasonTimer          Reason = "timer"           // replan period elapsed
)

// Decision is the scheduler's verdict for one update cycle.
type Decision struct {
	Replan        bool
	Reason        Reason
	DetectionTime time.Time // detection clock after the decision
}

// ReplanScheduler rate-limits replan requests.
//
// It starts idle. The first cycle that sees an active trajectory requests a
// replan and starts the detection clock. From then on a replan is requested
// whenever more than Period has elapsed since the last one, and the clock
// restarts at that cycle. There is no return to idle, and the periodic
// request does not wait for a confirmed conflict.
//
// ReplanScheduler is not safe for concurrent use.
type ReplanScheduler struct {
	period        time.Duration
	detectionTime time.Time
	pending       bool
}

// NewReplanScheduler returns an idle scheduler.
func NewReplanScheduler(period time.Duration) *ReplanScheduler {
	return &ReplanScheduler{period: period}
}

// Period returns the configured replan period.
func (s *ReplanScheduler) Period() time.Duration {
	return s.period
}

// Pending returns the detection time and whether a detection is active.
func (s *ReplanScheduler) Pending() (time.Time, bool) {
	return s.detectionTime, s.pending
}

// OnUpdateCycleCompleted advances the policy for a cycle finishing at now.
func (s *ReplanScheduler) OnUpdateCycleCompleted(hasActiveTrajectory bool, now time.Time) Decision {
	switch {
	case !s.pending && hasActiveTrajectory:
		s.pending = true
		s.detectionTime = now
		return Decision{Replan: true, Reason: ReasonFirstDetection, DetectionTime: now}
	case s.pending && now.Sub(s.detectionTime) > s.period:
		s.detectionTime = now
		return Decision{Replan: true, Reason: ReasonTimer, DetectionTime: now}
	default:
		return Decision{DetectionTime: s.detectionTime}
	}
}
