package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ncvguard/internal/collision"
)

// ReplanRecord is a persisted replan request.
type ReplanRecord struct {
	EventID        string
	RunID          string
	Reason         collision.Reason
	TriggeredAt    time.Time
	TrackedObjects int
}

// HostPlanRecord is a persisted host plan publication.
type HostPlanRecord struct {
	PlanID         string
	RunID          string
	PublishedAt    time.Time
	Points         int
	StartTime      float64
	StartDowntrack float64
	EndTime        float64
}

// EventStore records checker events for one run. It implements
// collision.EventRecorder and is safe for concurrent use.
type EventStore struct {
	db    *sql.DB
	runID string
}

// NewEventStore returns a store writing under runID. An empty runID gets a
// fresh UUID.
func NewEventStore(db *sql.DB, runID string) *EventStore {
	if runID == "" {
		runID = uuid.New().String()
	}
	return &EventStore{db: db, runID: runID}
}

// RunID returns the identifier every event is written under.
func (s *EventStore) RunID() string {
	return s.runID
}

func (s *EventStore) RecordReplan(ev collision.ReplanEvent) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO ncv_replan_events (event_id, run_id, reason, triggered_at, tracked_objects)
			VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), s.runID, string(ev.Reason), ev.TriggeredAt.UnixNano(), ev.TrackedObjects,
		)
		if err != nil {
			return fmt.Errorf("insert replan event: %w", err)
		}
		return nil
	})
}

func (s *EventStore) RecordHostPlan(ev collision.HostPlanEvent) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO ncv_host_plans (plan_id, run_id, published_at, points, start_time, start_downtrack, end_time)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), s.runID, ev.PublishedAt.UnixNano(), ev.Points,
			ev.StartTime, ev.StartDowntrack, ev.EndTime,
		)
		if err != nil {
			return fmt.Errorf("insert host plan: %w", err)
		}
		return nil
	})
}

// ListReplans returns the replan events of runID ordered by trigger time.
func (s *EventStore) ListReplans(runID string) ([]ReplanRecord, error) {
	rows, err := s.db.Query(`
		SELECT event_id, run_id, reason, triggered_at, tracked_objects
		FROM ncv_replan_events
		WHERE run_id = ?
		ORDER BY triggered_at ASC, rowid ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query replan events: %w", err)
	}
	defer rows.Close()

	var out []ReplanRecord
	for rows.Next() {
		var r ReplanRecord
		var reason string
		var triggered int64
		if err := rows.Scan(&r.EventID, &r.RunID, &reason, &triggered, &r.TrackedObjects); err != nil {
			return nil, fmt.Errorf("scan replan event: %w", err)
		}
		r.Reason = collision.Reason(reason)
		r.TriggeredAt = time.Unix(0, triggered).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListHostPlans returns the host plans of runID ordered by publication time.
func (s *EventStore) ListHostPlans(runID string) ([]HostPlanRecord, error) {
	rows, err := s.db.Query(`
		SELECT plan_id, run_id, published_at, points, start_time, start_downtrack, end_time
		FROM ncv_host_plans
		WHERE run_id = ?
		ORDER BY published_at ASC, rowid ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query host plans: %w", err)
	}
	defer rows.Close()

	var out []HostPlanRecord
	for rows.Next() {
		var r HostPlanRecord
		var published int64
		if err := rows.Scan(&r.PlanID, &r.RunID, &published, &r.Points, &r.StartTime, &r.StartDowntrack, &r.EndTime); err != nil {
			return nil, fmt.Errorf("scan host plan: %w", err)
		}
		r.PublishedAt = time.Unix(0, published).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ collision.EventRecorder = (*EventStore)(nil)
