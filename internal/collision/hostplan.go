package collision

import (
	"sync/atomic"

	"github.com/banshee-data/ncvguard/internal/route"
)

// hostPlanSnapshot is a single-slot holder for the host's interpolated plan.
// A stored path is never modified afterwards, so a loaded value is always
// exactly one published plan.
type hostPlanSnapshot struct {
	current atomic.Pointer[route.Path]
}

// store publishes a private copy of p.
func (s *hostPlanSnapshot) store(p route.Path) {
	owned := p.Clone()
	s.current.Store(&owned)
}

// load returns the published plan. Callers must not modify it.
func (s *hostPlanSnapshot) load() route.Path {
	p := s.current.Load()
	if p == nil {
		return nil
	}
	return *p
}
