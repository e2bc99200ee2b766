package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/multierr"

	"github.com/banshee-data/ncvguard/internal/interpolation"
	"github.com/banshee-data/ncvguard/internal/perception"
	"github.com/banshee-data/ncvguard/internal/route"
)

const maxScenarioSize = 16 * 1024 * 1024

// Scenario is a recorded drive: host localization and sensed obstacles per
// perception frame, plus the planner's actions, all timed relative to Start.
type Scenario struct {
	Name    string          `json:"name"`
	Start   time.Time       `json:"start"`
	Segment SegmentSpec     `json:"segment"`
	Frames  []Frame         `json:"frames"`
	Planner []PlannerAction `json:"planner"`
}

type SegmentSpec struct {
	LaneWidth float64 `json:"lane_width"`
	LaneCount int     `json:"lane_count"`
}

// Frame is one perception cycle.
type Frame struct {
	AtMs      int64          `json:"at_ms"`
	Host      HostPose       `json:"host"`
	Obstacles []ObstacleSpec `json:"obstacles"`
}

type HostPose struct {
	Downtrack  float64 `json:"downtrack"`
	Crosstrack float64 `json:"crosstrack"`
	// Lost marks a frame without localization.
	Lost bool `json:"lost,omitempty"`
}

type ObstacleSpec struct {
	ID             int     `json:"id"`
	AgeMs          int64   `json:"age_ms,omitempty"` // sensing latency
	Downtrack      float64 `json:"downtrack"`
	Crosstrack     float64 `json:"crosstrack"`
	PrimaryLane    int     `json:"primary_lane"`
	SecondaryLanes []int   `json:"secondary_lanes,omitempty"`
}

// Planner action kinds.
const (
	ActionHostPlan  = "host_plan"
	ActionCandidate = "candidate"
	ActionClear     = "clear"
)

// PlannerAction is one planner step. A host_plan publishes a plan and makes
// it the active trajectory; a candidate is checked for collisions; clear
// drops the active trajectory.
type PlannerAction struct {
	AtMs           int64                `json:"at_ms"`
	Kind           string               `json:"kind"`
	TrajectoryID   string               `json:"trajectory_id,omitempty"`
	StartDowntrack float64              `json:"start_downtrack"`
	Nodes          []interpolation.Node `json:"nodes"`
	// ExpectCollision, when set on a candidate, is compared with the result.
	ExpectCollision *bool `json:"expect_collision,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat scenario: %w", err)
	}
	if info.Size() > maxScenarioSize {
		return nil, fmt.Errorf("scenario too large: %d bytes (max %d)", info.Size(), maxScenarioSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a JSON scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	sort.SliceStable(s.Frames, func(i, j int) bool { return s.Frames[i].AtMs < s.Frames[j].AtMs })
	sort.SliceStable(s.Planner, func(i, j int) bool { return s.Planner[i].AtMs < s.Planner[j].AtMs })
	return &s, nil
}

func (s *Scenario) Validate() error {
	var errs error
	if s.Start.IsZero() {
		errs = multierr.Append(errs, errors.New("start time is required"))
	}
	if s.Segment.LaneWidth <= 0 || s.Segment.LaneCount <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("segment needs positive lane_width and lane_count, got %v/%d",
			s.Segment.LaneWidth, s.Segment.LaneCount))
	}
	for i, f := range s.Frames {
		if f.AtMs < 0 {
			errs = multierr.Append(errs, fmt.Errorf("frame %d: negative at_ms", i))
		}
	}
	for i, a := range s.Planner {
		switch a.Kind {
		case ActionHostPlan, ActionCandidate, ActionClear:
		default:
			errs = multierr.Append(errs, fmt.Errorf("planner action %d: unknown kind %q", i, a.Kind))
		}
		if a.AtMs < 0 {
			errs = multierr.Append(errs, fmt.Errorf("planner action %d: negative at_ms", i))
		}
	}
	return errs
}

func (s *Scenario) segment() route.UniformSegment {
	return route.UniformSegment{LaneWidth: s.Segment.LaneWidth, LaneCount: s.Segment.LaneCount}
}

// at returns the wall time of an offset in milliseconds.
func (s *Scenario) at(ms int64) time.Time {
	return s.Start.Add(time.Duration(ms) * time.Millisecond)
}

// obstacles converts a frame's obstacle specs into observations.
func (s *Scenario) obstacles(f Frame) []perception.Obstacle {
	out := make([]perception.Obstacle, 0, len(f.Obstacles))
	for _, o := range f.Obstacles {
		out = append(out, perception.Obstacle{
			ObjectID:       o.ID,
			Timestamp:      s.at(f.AtMs - o.AgeMs),
			Downtrack:      o.Downtrack,
			Crosstrack:     o.Crosstrack,
			PrimaryLane:    o.PrimaryLane,
			SecondaryLanes: o.SecondaryLanes,
		})
	}
	return out
}
