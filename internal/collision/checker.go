package collision

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/ncvguard/internal/conflict"
	"github.com/banshee-data/ncvguard/internal/guidance"
	"github.com/banshee-data/ncvguard/internal/interpolation"
	"github.com/banshee-data/ncvguard/internal/monitoring"
	"github.com/banshee-data/ncvguard/internal/perception"
	"github.com/banshee-data/ncvguard/internal/prediction"
	"github.com/banshee-data/ncvguard/internal/route"
	"github.com/banshee-data/ncvguard/internal/timeutil"
)

// Deps are the collaborators of a Checker. Route, Arbitrator and Replan are
// required. A nil Predictor is resolved from Params.PredictorModel; the
// remaining nil fields get the package defaults.
type Deps struct {
	Route        route.Service
	Arbitrator   guidance.Arbitrator
	Replan       guidance.ReplanHandle
	Clock        timeutil.Clock
	Predictor    prediction.Predictor
	Interpolator interpolation.Interpolator
	Detector     conflict.Detector
	IndexFactory conflict.IndexFactory
	Recorder     EventRecorder
}

// Checker tracks in-lane objects ahead of the host, caches their predicted
// motion and answers whether a candidate trajectory would collide with them.
//
// Update is driven by perception; HasCollision and SetHostPlan by the
// planner. All three may run concurrently. Histories, predictions and the
// scheduler share one lock so every evaluation sees the state of exactly
// one completed cycle.
type Checker struct {
	params Params

	routeSvc     route.Service
	arbitrator   guidance.Arbitrator
	replan       guidance.ReplanHandle
	clock        timeutil.Clock
	interpolator interpolation.Interpolator
	recorder     EventRecorder

	hostPlan hostPlanSnapshot

	mu          sync.Mutex
	history     *historyStore
	predictions *predictionCache
	scheduler   *ReplanScheduler
	evaluator   *evaluator
}

// NewChecker wires a Checker from its parameters and collaborators.
func NewChecker(params Params, deps Deps) (*Checker, error) {
	if deps.Route == nil {
		return nil, errors.New("collision: route service is required")
	}
	if deps.Arbitrator == nil {
		return nil, errors.New("collision: arbitrator is required")
	}
	if deps.Replan == nil {
		return nil, errors.New("collision: replan handle is required")
	}
	if params.DistanceStep <= 0 {
		return nil, fmt.Errorf("collision: distance step must be positive, got %f", params.DistanceStep)
	}

	predictor := deps.Predictor
	if predictor == nil {
		var err error
		if predictor, err = prediction.New(params.PredictorModel); err != nil {
			return nil, fmt.Errorf("collision: %w", err)
		}
	}
	clock := deps.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interp := deps.Interpolator
	if interp == nil {
		interp = interpolation.Linear{}
	}
	detector := deps.Detector
	if detector == nil {
		detector = conflict.MarginDetector{}
	}
	factory := deps.IndexFactory
	if factory == nil {
		factory = conflict.HashGridFactory{
			DowntrackCell:  params.CellDowntrackSize,
			CrosstrackCell: params.CellCrosstrackSize,
			TimeCell:       params.CellTimeSize,
		}
	}

	monitoring.Logf("[collision] replan period: %d ms", params.ReplanPeriod.Milliseconds())

	return &Checker{
		params:       params,
		routeSvc:     deps.Route,
		arbitrator:   deps.Arbitrator,
		replan:       deps.Replan,
		clock:        clock,
		interpolator: interp,
		recorder:     deps.Recorder,
		history:      newHistoryStore(),
		predictions:  newPredictionCache(predictor, params.DistanceStep, params.TimeDuration),
		scheduler:    NewReplanScheduler(params.ReplanPeriod),
		evaluator:    newEvaluator(params, detector, factory),
	}, nil
}

// hostContext is the host localization sampled at the start of a cycle.
type hostContext struct {
	lane      int
	downtrack float64
}

// Update runs one perception cycle: filter and record observations, prune
// expired history, refresh predictions and apply the replan policy.
//
// When route data is unavailable the cycle is skipped and nothing changes.
// A predictor failure aborts the cycle and is returned; objects refreshed
// before the failure keep their new predictions.
func (c *Checker) Update(obstacles []perception.Obstacle) error {
	if !c.routeSvc.IsRouteDataAvailable() {
		updateCyclesTotal.WithLabelValues(CycleSkipped).Inc()
		return nil
	}
	segment := c.routeSvc.CurrentSegment()
	if segment == nil {
		updateCyclesTotal.WithLabelValues(CycleSkipped).Inc()
		return nil
	}
	host := hostContext{
		lane:      segment.DeterminePrimaryLane(c.routeSvc.CurrentCrosstrack()),
		downtrack: c.routeSvc.CurrentDowntrack(),
	}

	decision, tracked, err := c.runCycle(obstacles, host, c.clock.Now())
	if err != nil {
		updateCyclesTotal.WithLabelValues(CycleError).Inc()
		return err
	}
	updateCyclesTotal.WithLabelValues(CycleProcessed).Inc()
	trackedObjects.Set(float64(tracked))

	if decision.Replan {
		c.requestReplan(decision, tracked)
	}
	return nil
}

func (c *Checker) runCycle(obstacles []perception.Obstacle, host hostContext, now time.Time) (Decision, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rejected := 0
	for _, obs := range obstacles {
		if !obs.Finite() {
			rejected++
			continue
		}
		if !c.eligible(obs, host) {
			continue
		}
		if c.params.CollapseObjectIDs {
			obs = obs.WithObjectID(SharedObjectID)
		}
		c.history.record(obs)
		observationsRecordedTotal.Inc()
	}

	if rejected > 0 {
		observationsRejectedTotal.Add(float64(rejected))
		monitoring.Logf("[collision] dropped %d observations with non-finite position", rejected)
	}

	minAllowed := now.Add(-c.params.MaxHistoricalDataAge)
	var expired []int
	for _, id := range c.history.ids() {
		c.history.prune(id, minAllowed)
		if c.history.isEmpty(id) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		c.history.evict(id)
		c.predictions.drop(id)
	}

	for _, id := range c.history.ids() {
		if err := c.predictions.refresh(id, c.history.history(id)); err != nil {
			return Decision{}, c.history.len(), err
		}
	}

	_, hasTrajectory := c.arbitrator.CurrentTrajectory()
	return c.scheduler.OnUpdateCycleCompleted(hasTrajectory, now), c.history.len(), nil
}

// eligible reports whether obs is in the host lane and not behind the host.
// The comparison is written so a NaN on either side rejects the observation.
func (c *Checker) eligible(obs perception.Obstacle, host hostContext) bool {
	if !(obs.Downtrack >= host.downtrack) {
		return false
	}
	if obs.PrimaryLane == host.lane {
		return true
	}
	if !c.params.IncludeAdjacentSecondaryLanes {
		return false
	}
	adjacent := obs.PrimaryLane == host.lane+1 || obs.PrimaryLane == host.lane-1
	return adjacent && obs.OccupiesSecondaryLane(host.lane)
}

// requestReplan notifies the planner outside the state lock so a planner
// that validates candidates from inside TriggerNewPlan cannot deadlock.
func (c *Checker) requestReplan(d Decision, tracked int) {
	switch d.Reason {
	case ReasonFirstDetection:
		monitoring.Logf("[collision] NEW PLAN: first ncv detection")
	default:
		monitoring.Logf("[collision] NEW PLAN: timer triggered")
	}
	replansTotal.WithLabelValues(string(d.Reason)).Inc()
	c.replan.TriggerNewPlan(true)

	if c.recorder == nil {
		return
	}
	ev := ReplanEvent{Reason: d.Reason, TriggeredAt: d.DetectionTime, TrackedObjects: tracked}
	if err := c.recorder.RecordReplan(ev); err != nil {
		monitoring.Logf("[collision] failed to record replan event: %v", err)
	}
}

// HasCollision interpolates a candidate trajectory starting at timeOffset
// (s) and distanceOffset (m) and reports whether it conflicts with any
// predicted object path.
func (c *Checker) HasCollision(trajectory []interpolation.Node, timeOffset, distanceOffset float64) (bool, error) {
	path, err := c.interpolator.InterpolateMotion(trajectory, c.params.DistanceStep, timeOffset, distanceOffset)
	if err != nil {
		collisionChecksTotal.WithLabelValues(CheckError).Inc()
		return false, fmt.Errorf("interpolate candidate trajectory: %w", err)
	}
	return c.checkPath(path, 1.0)
}

// CheckHostPlan evaluates the published host plan with margins scaled by
// marginFactor. It is a diagnostic; the replan policy does not consult it.
func (c *Checker) CheckHostPlan(marginFactor float64) (bool, error) {
	return c.checkPath(c.hostPlan.load(), marginFactor)
}

func (c *Checker) checkPath(path route.Path, marginFactor float64) (bool, error) {
	start := time.Now()

	c.mu.Lock()
	hit, err := c.evaluator.firstConflict(path, c.predictions, marginFactor)
	c.mu.Unlock()

	observeCheck(time.Since(start), hit != nil, err)
	if err != nil {
		return false, err
	}
	if hit != nil {
		monitoring.Logf("[collision] conflict with object %d: %v (margins dt=%.2f ct=%.2f t=%.4f)",
			hit.objectID, hit.spaces[0], hit.margins.Downtrack, hit.margins.Crosstrack, hit.margins.Time)
	}
	return hit != nil, nil
}

// SetHostPlan interpolates the host's plan and publishes it as the current
// snapshot. On interpolation failure the previous snapshot stays live.
func (c *Checker) SetHostPlan(plan []interpolation.Node, startTime, startDowntrack float64) error {
	path, err := c.interpolator.InterpolateMotion(plan, c.params.DistanceStep, startTime, startDowntrack)
	if err != nil {
		return fmt.Errorf("interpolate host plan: %w", err)
	}
	c.hostPlan.store(path)
	monitoring.Logf("[collision] found %d stamped route points for the host plan", len(path))

	if c.recorder == nil {
		return nil
	}
	ev := HostPlanEvent{
		PublishedAt:    c.clock.Now(),
		Points:         len(path),
		StartTime:      startTime,
		StartDowntrack: startDowntrack,
		EndTime:        startTime,
	}
	if len(path) > 0 {
		ev.EndTime = path[len(path)-1].Stamp
	}
	if err := c.recorder.RecordHostPlan(ev); err != nil {
		monitoring.Logf("[collision] failed to record host plan: %v", err)
	}
	return nil
}

// HostPlan returns a copy of the published host plan.
func (c *Checker) HostPlan() route.Path {
	return c.hostPlan.load().Clone()
}

// Predictions returns copies of the cached predicted paths keyed by object.
func (c *Checker) Predictions() map[int]route.Path {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.predictions.snapshot()
}

// TrackedObjectCount returns the number of objects with a live history.
func (c *Checker) TrackedObjectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.len()
}

// ReplanState returns the detection time and whether a detection is active.
func (c *Checker) ReplanState() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scheduler.Pending()
}

// Params returns the checker's parameters.
func (c *Checker) Params() Params {
	return c.params
}
