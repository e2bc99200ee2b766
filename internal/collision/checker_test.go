package collision

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ncvguard/internal/guidance"
	"github.com/banshee-data/ncvguard/internal/interpolation"
	"github.com/banshee-data/ncvguard/internal/perception"
	"github.com/banshee-data/ncvguard/internal/route"
	"github.com/banshee-data/ncvguard/internal/timeutil"
)

// Lane 2 of a four-lane segment is centred on crosstrack 0.
var testSegment = route.UniformSegment{LaneWidth: 3.7, LaneCount: 4}

type countingReplan struct {
	calls atomic.Int32
	hook  func()
}

func (r *countingReplan) TriggerNewPlan(bool) {
	r.calls.Add(1)
	if r.hook != nil {
		r.hook()
	}
}

type memRecorder struct {
	mu       sync.Mutex
	replans  []ReplanEvent
	plans    []HostPlanEvent
	failWith error
}

func (r *memRecorder) RecordReplan(ev ReplanEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replans = append(r.replans, ev)
	return r.failWith
}

func (r *memRecorder) RecordHostPlan(ev HostPlanEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, ev)
	return r.failWith
}

type failingPredictor struct{ err error }

func (p failingPredictor) PredictMotion(string, []perception.Obstacle, float64, float64) (route.Path, error) {
	return nil, p.err
}

type harness struct {
	checker  *Checker
	loc      *route.Localization
	clock    *timeutil.MockClock
	arb      *guidance.ActiveTrajectory
	replan   *countingReplan
	recorder *memRecorder
}

func newHarness(t *testing.T, mutate func(*Params, *Deps)) *harness {
	t.Helper()

	h := &harness{
		loc:      route.NewLocalization(testSegment),
		clock:    timeutil.NewMockClock(epoch),
		arb:      &guidance.ActiveTrajectory{},
		replan:   &countingReplan{},
		recorder: &memRecorder{},
	}
	h.loc.Update(40, 0)

	params := DefaultParams()
	deps := Deps{
		Route:      h.loc,
		Arbitrator: h.arb,
		Replan:     h.replan,
		Clock:      h.clock,
		Recorder:   h.recorder,
	}
	if mutate != nil {
		mutate(&params, &deps)
	}

	c, err := NewChecker(params, deps)
	require.NoError(t, err)
	h.checker = c
	return h
}

func laneObs(id, lane int, downtrack float64, at time.Time) perception.Obstacle {
	return perception.Obstacle{
		ObjectID:    id,
		Timestamp:   at,
		Downtrack:   downtrack,
		Crosstrack:  float64(lane-2) * testSegment.LaneWidth,
		PrimaryLane: lane,
	}
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func TestNewChecker_Validation(t *testing.T) {
	t.Parallel()

	base := func() Deps {
		return Deps{
			Route:      route.NewLocalization(testSegment),
			Arbitrator: &guidance.ActiveTrajectory{},
			Replan:     &countingReplan{},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Params, *Deps)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Params, *Deps) {}},
		{name: "no route", mutate: func(_ *Params, d *Deps) { d.Route = nil }, wantErr: "route service"},
		{name: "no arbitrator", mutate: func(_ *Params, d *Deps) { d.Arbitrator = nil }, wantErr: "arbitrator"},
		{name: "no replan", mutate: func(_ *Params, d *Deps) { d.Replan = nil }, wantErr: "replan handle"},
		{name: "unknown model", mutate: func(p *Params, _ *Deps) { p.PredictorModel = "kalman" }, wantErr: "kalman"},
		{name: "zero step", mutate: func(p *Params, _ *Deps) { p.DistanceStep = 0 }, wantErr: "distance step"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, d := DefaultParams(), base()
			tt.mutate(&p, &d)
			c, err := NewChecker(p, d)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.NotNil(t, c)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestChecker_Filtering(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(p *Params, _ *Deps) { p.CollapseObjectIDs = false })

	err := h.checker.Update([]perception.Obstacle{
		laneObs(1, 2, 50, epoch), // same lane, ahead
		laneObs(2, 3, 50, epoch), // other lane
		laneObs(3, 2, 39, epoch), // behind host
		laneObs(4, 2, 40, epoch), // level with host
	})
	require.NoError(t, err)

	h.checker.mu.Lock()
	defer h.checker.mu.Unlock()
	assert.Equal(t, []int{1, 4}, h.checker.history.ids())
	assert.Equal(t, []int{1, 4}, h.checker.predictions.ids())
}

func TestChecker_AdjacentSecondaryLanes(t *testing.T) {
	t.Parallel()

	straddling := func(id, lane int) perception.Obstacle {
		o := laneObs(id, lane, 50, epoch)
		o.SecondaryLanes = []int{2}
		return o
	}
	obstacles := []perception.Obstacle{straddling(1, 3), straddling(2, 1), straddling(3, 0)}

	for _, include := range []bool{false, true} {
		h := newHarness(t, func(p *Params, _ *Deps) {
			p.CollapseObjectIDs = false
			p.IncludeAdjacentSecondaryLanes = include
		})
		require.NoError(t, h.checker.Update(obstacles))

		h.checker.mu.Lock()
		ids := h.checker.history.ids()
		h.checker.mu.Unlock()
		if include {
			assert.Equal(t, []int{1, 2}, ids)
		} else {
			assert.Empty(t, ids)
		}
	}
}

func TestChecker_CollapsesObjectIDs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, h.checker.Update([]perception.Obstacle{
		laneObs(5, 2, 50, epoch),
		laneObs(6, 2, 70, epoch),
	}))

	assert.Equal(t, 1, h.checker.TrackedObjectCount())
	preds := h.checker.Predictions()
	require.Contains(t, preds, SharedObjectID)
	assert.Len(t, preds, 1)
}

func TestChecker_EvictsExpiredObjects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, h.checker.Update([]perception.Obstacle{laneObs(1, 2, 50, epoch)}))
	require.Equal(t, 1, h.checker.TrackedObjectCount())
	require.Len(t, h.checker.Predictions(), 1)

	h.clock.Advance(3 * time.Second)
	require.NoError(t, h.checker.Update(nil))
	assert.Equal(t, 1, h.checker.TrackedObjectCount(), "observation exactly at the age limit is kept")

	h.clock.Advance(time.Millisecond)
	require.NoError(t, h.checker.Update(nil))
	assert.Equal(t, 0, h.checker.TrackedObjectCount())
	assert.Empty(t, h.checker.Predictions())
}

func TestChecker_RouteUnavailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.arb.Set(guidance.TrajectoryID("t1"))
	require.NoError(t, h.checker.Update([]perception.Obstacle{laneObs(1, 2, 50, epoch)}))
	require.EqualValues(t, 1, h.replan.calls.Load())

	detBefore, pendingBefore := h.checker.ReplanState()
	predsBefore := h.checker.Predictions()

	h.loc.Invalidate()
	h.clock.Advance(10 * time.Second)
	require.NoError(t, h.checker.Update([]perception.Obstacle{laneObs(1, 2, 60, h.clock.Now())}))

	det, pending := h.checker.ReplanState()
	assert.Equal(t, detBefore, det)
	assert.Equal(t, pendingBefore, pending)
	assert.Equal(t, predsBefore, h.checker.Predictions())
	assert.Equal(t, 1, h.checker.TrackedObjectCount(), "expired history is not pruned while skipped")
	assert.EqualValues(t, 1, h.replan.calls.Load())
}

func TestChecker_ReplanCadence(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	require.NoError(t, h.checker.Update(nil))
	assert.EqualValues(t, 0, h.replan.calls.Load(), "no trajectory, no replan")

	h.arb.Set(guidance.TrajectoryID("t1"))
	require.NoError(t, h.checker.Update(nil))
	assert.EqualValues(t, 1, h.replan.calls.Load())

	h.clock.Advance(4999 * time.Millisecond)
	require.NoError(t, h.checker.Update(nil))
	assert.EqualValues(t, 1, h.replan.calls.Load())

	h.clock.Advance(2 * time.Millisecond)
	require.NoError(t, h.checker.Update(nil))
	assert.EqualValues(t, 2, h.replan.calls.Load())

	det, pending := h.checker.ReplanState()
	assert.True(t, pending)
	assert.Equal(t, epoch.Add(5001*time.Millisecond), det)

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	require.Len(t, h.recorder.replans, 2)
	assert.Equal(t, ReasonFirstDetection, h.recorder.replans[0].Reason)
	assert.Equal(t, ReasonTimer, h.recorder.replans[1].Reason)
}

func TestChecker_ReplanHandleMayCallBack(t *testing.T) {
	t.Parallel()

	var h *harness
	checked := make(chan bool, 1)
	h = newHarness(t, func(_ *Params, d *Deps) {
		d.Replan = &countingReplan{hook: func() {
			found, err := h.checker.HasCollision(nil, 0, 0)
			if err == nil {
				checked <- found
			}
		}}
	})
	h.arb.Set(guidance.TrajectoryID("t1"))

	require.NoError(t, h.checker.Update(nil))
	select {
	case found := <-checked:
		assert.False(t, found)
	case <-time.After(5 * time.Second):
		t.Fatal("replan handle never completed its collision check")
	}
}

func TestChecker_PredictorErrorAbortsCycle(t *testing.T) {
	t.Parallel()

	boom := errors.New("solver diverged")
	h := newHarness(t, func(_ *Params, d *Deps) { d.Predictor = failingPredictor{err: boom} })
	h.arb.Set(guidance.TrajectoryID("t1"))

	err := h.checker.Update([]perception.Obstacle{laneObs(1, 2, 50, epoch)})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.EqualValues(t, 0, h.replan.calls.Load())
	_, pending := h.checker.ReplanState()
	assert.False(t, pending)
}

func TestChecker_RecorderErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.recorder.failWith = errors.New("disk full")
	h.arb.Set(guidance.TrajectoryID("t1"))

	require.NoError(t, h.checker.Update(nil))
	require.NoError(t, h.checker.SetHostPlan([]interpolation.Node{{}, {Distance: 10, Time: 1}}, 0, 0))
	assert.EqualValues(t, 1, h.replan.calls.Load())
}

func TestChecker_EmptyWorld(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, h.checker.Update(nil))

	found, err := h.checker.HasCollision([]interpolation.Node{{}, {Distance: 100, Time: 10, Speed: 10}}, epochSeconds(epoch), 40)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = h.checker.CheckHostPlan(1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestChecker_HasCollision(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	// A stopped object 20m ahead of the host.
	var obs []perception.Obstacle
	for i := 0; i < 5; i++ {
		obs = append(obs, laneObs(1, 2, 60, epoch.Add(-time.Duration(i)*200*time.Millisecond)))
	}
	require.NoError(t, h.checker.Update(obs))

	plan := []interpolation.Node{{Speed: 10}, {Distance: 40, Time: 4, Speed: 10}}

	found, err := h.checker.HasCollision(plan, epochSeconds(epoch), 40)
	require.NoError(t, err)
	assert.True(t, found, "host drives through the stopped object")

	found, err = h.checker.HasCollision(plan, epochSeconds(epoch)+60, 40)
	require.NoError(t, err)
	assert.False(t, found, "prediction horizon has passed")

	_, err = h.checker.HasCollision([]interpolation.Node{{Time: 2}, {Distance: 10, Time: 1}}, 0, 0)
	assert.Error(t, err)
}

func TestChecker_NonFiniteObservationIsDropped(t *testing.T) {
	t.Parallel()

	nanCrosstrack := laneObs(7, 2, 60, epoch)
	nanCrosstrack.Crosstrack = math.NaN()

	tests := []struct {
		name string
		obs  perception.Obstacle
	}{
		{"nan downtrack", laneObs(7, 2, math.NaN(), epoch)},
		{"+inf downtrack", laneObs(7, 2, math.Inf(1), epoch)},
		{"nan crosstrack", nanCrosstrack},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, nil)
			// A stopped object 20m ahead of the host.
			var obs []perception.Obstacle
			for i := 0; i < 5; i++ {
				obs = append(obs, laneObs(1, 2, 60, epoch.Add(-time.Duration(i)*200*time.Millisecond)))
			}
			require.NoError(t, h.checker.Update(obs))

			require.NotPanics(t, func() {
				require.NoError(t, h.checker.Update([]perception.Obstacle{tt.obs}))
			})

			h.checker.mu.Lock()
			history := h.checker.history.history(SharedObjectID)
			h.checker.mu.Unlock()
			require.Len(t, history, 5)
			for _, o := range history {
				assert.True(t, o.Finite())
			}

			pred := h.checker.Predictions()[SharedObjectID]
			require.NotEmpty(t, pred)
			for _, p := range pred {
				assert.False(t, math.IsNaN(p.Downtrack) || math.IsNaN(p.Crosstrack))
			}

			plan := []interpolation.Node{{Speed: 10}, {Distance: 40, Time: 4, Speed: 10}}
			found, err := h.checker.HasCollision(plan, epochSeconds(epoch), 40)
			require.NoError(t, err)
			assert.True(t, found, "stopped object must stay visible")
		})
	}
}

func TestChecker_NaNHostDowntrackRecordsNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.loc.Update(math.NaN(), 0)
	require.NoError(t, h.checker.Update([]perception.Obstacle{laneObs(1, 2, 60, epoch)}))
	assert.Equal(t, 0, h.checker.TrackedObjectCount())
}

func TestChecker_SetHostPlan(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.NoError(t, h.checker.Update([]perception.Obstacle{laneObs(1, 2, 60, epoch)}))

	plan := []interpolation.Node{{Speed: 10}, {Distance: 40, Time: 4, Speed: 10}}
	require.NoError(t, h.checker.SetHostPlan(plan, epochSeconds(epoch), 40))

	hostPlan := h.checker.HostPlan()
	require.Len(t, hostPlan, 21)
	assert.InDelta(t, 40, hostPlan[0].Downtrack, 1e-9)
	assert.InDelta(t, 80, hostPlan[20].Downtrack, 1e-9)

	found, err := h.checker.CheckHostPlan(1)
	require.NoError(t, err)
	assert.True(t, found)

	// A failed update leaves the published plan live.
	err = h.checker.SetHostPlan([]interpolation.Node{{Time: 5}, {Distance: 10, Time: 1}}, 0, 0)
	require.Error(t, err)
	assert.Equal(t, hostPlan, h.checker.HostPlan())

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	require.Len(t, h.recorder.plans, 1)
	assert.Equal(t, 21, h.recorder.plans[0].Points)
	assert.InDelta(t, epochSeconds(epoch)+4, h.recorder.plans[0].EndTime, 1e-6)
}

func TestChecker_HostPlanSnapshotAtomicity(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	// Plan k spans 2k metres starting at 1000k, so it has k+1 points, all
	// within [1000k, 1000k+2k].
	const plans = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for k := 1; k <= plans; k++ {
			plan := []interpolation.Node{{}, {Distance: float64(2 * k), Time: float64(k)}}
			assert.NoError(t, h.checker.SetHostPlan(plan, 0, float64(1000*k)))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				p := h.checker.HostPlan()
				if len(p) == 0 {
					continue
				}
				k := len(p) - 1
				lo, hi := float64(1000*k), float64(1000*k+2*k)
				for _, pt := range p {
					if pt.Downtrack < lo-1e-9 || pt.Downtrack > hi+1e-9 {
						t.Errorf("torn snapshot: %d points but downtrack %.1f", len(p), pt.Downtrack)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, h.checker.HostPlan(), plans+1)
}

func TestChecker_ConcurrentUpdateAndCheck(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(p *Params, _ *Deps) { p.CollapseObjectIDs = false })
	h.arb.Set(guidance.TrajectoryID("t1"))
	plan := []interpolation.Node{{Speed: 10}, {Distance: 40, Time: 4, Speed: 10}}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			at := h.clock.Now()
			assert.NoError(t, h.checker.Update([]perception.Obstacle{
				laneObs(i%3, 2, 50+float64(i), at),
			}))
			h.clock.Advance(100 * time.Millisecond)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, err := h.checker.HasCollision(plan, epochSeconds(h.clock.Now()), 40)
			assert.NoError(t, err)
			assert.NoError(t, h.checker.SetHostPlan(plan, epochSeconds(h.clock.Now()), 40))
		}
	}()
	wg.Wait()

	h.checker.mu.Lock()
	defer h.checker.mu.Unlock()
	assert.Equal(t, h.checker.history.ids(), h.checker.predictions.ids())
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))
	require.NoError(t, RegisterMetrics(reg), "re-registration is tolerated")

	skipped := testutil.ToFloat64(updateCyclesTotal.WithLabelValues(CycleSkipped))
	processed := testutil.ToFloat64(updateCyclesTotal.WithLabelValues(CycleProcessed))
	firstDetections := testutil.ToFloat64(replansTotal.WithLabelValues(string(ReasonFirstDetection)))
	clearChecks := testutil.ToFloat64(collisionChecksTotal.WithLabelValues(CheckClear))
	rejected := testutil.ToFloat64(observationsRejectedTotal)

	h := newHarness(t, nil)
	h.arb.Set(guidance.TrajectoryID("t1"))
	require.NoError(t, h.checker.Update([]perception.Obstacle{laneObs(1, 2, 50, epoch), laneObs(2, 2, math.NaN(), epoch)}))
	h.loc.Invalidate()
	require.NoError(t, h.checker.Update(nil))
	_, err := h.checker.HasCollision(nil, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, skipped+1, testutil.ToFloat64(updateCyclesTotal.WithLabelValues(CycleSkipped)))
	assert.Equal(t, processed+1, testutil.ToFloat64(updateCyclesTotal.WithLabelValues(CycleProcessed)))
	assert.Equal(t, firstDetections+1, testutil.ToFloat64(replansTotal.WithLabelValues(string(ReasonFirstDetection))))
	assert.Equal(t, clearChecks+1, testutil.ToFloat64(collisionChecksTotal.WithLabelValues(CheckClear)))
	assert.Equal(t, rejected+1, testutil.ToFloat64(observationsRejectedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(trackedObjects))
}
