package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/ncvguard/internal/collision"
	"github.com/banshee-data/ncvguard/internal/guidance"
	"github.com/banshee-data/ncvguard/internal/route"
	"github.com/banshee-data/ncvguard/internal/timeutil"
)

// Summary reports what a replay did.
type Summary struct {
	Frames        int
	SkippedFrames int // frames without localization
	HostPlans     int
	Candidates    int
	Conflicts     int
	Replans       int64
	Mismatches    []string // candidates whose result differed from the expectation
}

// Replayer feeds a Scenario through a Checker. Perception frames and
// planner actions are handled by separate goroutines, as they are on the
// vehicle; a dispatcher releases events one at a time in timeline order
// so a replay is deterministic.
type Replayer struct {
	scenario *Scenario
	checker  *collision.Checker
	loc      *route.Localization
	arb      *guidance.ActiveTrajectory
	clock    *timeutil.MockClock
	logger   *zap.Logger
	replans  atomic.Int64
}

// NewReplayer wires a Checker for the scenario.
func NewReplayer(s *Scenario, params collision.Params, recorder collision.EventRecorder, logger *zap.Logger) (*Replayer, error) {
	r := &Replayer{
		scenario: s,
		loc:      route.NewLocalization(s.segment()),
		arb:      &guidance.ActiveTrajectory{},
		clock:    timeutil.NewMockClock(s.Start),
		logger:   logger,
	}
	checker, err := collision.NewChecker(params, collision.Deps{
		Route:      r.loc,
		Arbitrator: r.arb,
		Replan:     guidance.ReplanFunc(r.onReplan),
		Clock:      r.clock,
		Recorder:   recorder,
	})
	if err != nil {
		return nil, err
	}
	r.checker = checker
	return r, nil
}

// Checker returns the checker driven by the replay.
func (r *Replayer) Checker() *collision.Checker {
	return r.checker
}

func (r *Replayer) onReplan(forceTotalReplan bool) {
	r.replans.Add(1)
	r.logger.Info("replan requested",
		zap.Bool("force_total_replan", forceTotalReplan),
		zap.Int64("at_ms", timeutil.NowMillis(r.clock)),
	)
}

// Run replays the whole scenario. It stops at the first checker error or
// when ctx is cancelled.
func (r *Replayer) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	s := r.scenario

	frames := make(chan Frame)
	actions := make(chan PlannerAction)
	ack := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(frames)
		defer close(actions)

		fi, ai := 0, 0
		for fi < len(s.Frames) || ai < len(s.Planner) {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Frames go first on ties so a plan sees that instant's objects.
			if ai >= len(s.Planner) || (fi < len(s.Frames) && s.Frames[fi].AtMs <= s.Planner[ai].AtMs) {
				f := s.Frames[fi]
				fi++
				r.clock.Set(s.at(f.AtMs))
				select {
				case frames <- f:
				case <-gctx.Done():
					return gctx.Err()
				}
			} else {
				a := s.Planner[ai]
				ai++
				r.clock.Set(s.at(a.AtMs))
				select {
				case actions <- a:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			select {
			case <-ack:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		for f := range frames {
			if err := r.handleFrame(f, &sum); err != nil {
				return err
			}
			select {
			case ack <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		for a := range actions {
			if err := r.handleAction(a, &sum); err != nil {
				return err
			}
			select {
			case ack <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	err := g.Wait()
	sum.Replans = r.replans.Load()
	return sum, err
}

func (r *Replayer) handleFrame(f Frame, sum *Summary) error {
	sum.Frames++
	if f.Host.Lost {
		r.loc.Invalidate()
		sum.SkippedFrames++
	} else {
		r.loc.Update(f.Host.Downtrack, f.Host.Crosstrack)
	}
	if err := r.checker.Update(r.scenario.obstacles(f)); err != nil {
		return fmt.Errorf("frame at %d ms: %w", f.AtMs, err)
	}
	return nil
}

func (r *Replayer) handleAction(a PlannerAction, sum *Summary) error {
	now := epochSeconds(r.clock.Now())

	switch a.Kind {
	case ActionClear:
		r.arb.Set(nil)
		r.logger.Info("active trajectory cleared", zap.Int64("at_ms", a.AtMs))

	case ActionHostPlan:
		id := a.TrajectoryID
		if id == "" {
			id = uuid.New().String()
		}
		if err := r.checker.SetHostPlan(a.Nodes, now, a.StartDowntrack); err != nil {
			return fmt.Errorf("host plan at %d ms: %w", a.AtMs, err)
		}
		r.arb.Set(guidance.TrajectoryID(id))
		sum.HostPlans++

		conflicting, err := r.checker.CheckHostPlan(1.0)
		if err != nil {
			return fmt.Errorf("check host plan at %d ms: %w", a.AtMs, err)
		}
		r.logger.Info("host plan published",
			zap.String("trajectory_id", id),
			zap.Int("points", len(r.checker.HostPlan())),
			zap.Bool("conflicting", conflicting),
		)

	case ActionCandidate:
		found, err := r.checker.HasCollision(a.Nodes, now, a.StartDowntrack)
		if err != nil {
			return fmt.Errorf("candidate at %d ms: %w", a.AtMs, err)
		}
		sum.Candidates++
		if found {
			sum.Conflicts++
		}
		if a.ExpectCollision != nil && *a.ExpectCollision != found {
			sum.Mismatches = append(sum.Mismatches,
				fmt.Sprintf("candidate at %d ms: collision=%t, expected %t", a.AtMs, found, *a.ExpectCollision))
		}
		r.logger.Debug("candidate checked", zap.Int64("at_ms", a.AtMs), zap.Bool("collision", found))

	default:
		return fmt.Errorf("unknown planner action %q", a.Kind)
	}
	return nil
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
