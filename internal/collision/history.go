package collision

import (
	"sort"
	"time"

	"github.com/banshee-data/ncvguard/internal/perception"
)

// historyStore keeps, per object, observations ordered by timestamp
// ascending. Not safe for concurrent use; the Checker lock guards it.
type historyStore struct {
	histories map[int][]perception.Obstacle
}

func newHistoryStore() *historyStore {
	return &historyStore{histories: make(map[int][]perception.Obstacle)}
}

// record adds obs to its object's history, creating the history if needed.
// In-order arrivals append; late arrivals are inserted after any
// observations with the same timestamp.
func (s *historyStore) record(obs perception.Obstacle) {
	h := s.histories[obs.ObjectID]
	if n := len(h); n == 0 || !obs.Timestamp.Before(h[n-1].Timestamp) {
		s.histories[obs.ObjectID] = append(h, obs)
		return
	}
	i := sort.Search(len(h), func(i int) bool { return h[i].Timestamp.After(obs.Timestamp) })
	h = append(h, perception.Obstacle{})
	copy(h[i+1:], h[i:])
	h[i] = obs
	s.histories[obs.ObjectID] = h
}

// prune drops the observations of id older than minAllowed and returns how
// many were removed. The scan stops at the first retained observation.
func (s *historyStore) prune(id int, minAllowed time.Time) int {
	h := s.histories[id]
	removed := 0
	for removed < len(h) && h[removed].Timestamp.Before(minAllowed) {
		removed++
	}
	if removed == 0 {
		return 0
	}
	clear(h[:removed])
	s.histories[id] = h[removed:]
	return removed
}

func (s *historyStore) isEmpty(id int) bool {
	return len(s.histories[id]) == 0
}

func (s *historyStore) evict(id int) {
	delete(s.histories, id)
}

// ids returns the tracked object ids in ascending order.
func (s *historyStore) ids() []int {
	ids := make([]int, 0, len(s.histories))
	for id := range s.histories {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// history returns a copy of the observations of id.
func (s *historyStore) history(id int) []perception.Obstacle {
	h := s.histories[id]
	out := make([]perception.Obstacle, len(h))
	copy(out, h)
	return out
}

func (s *historyStore) len() int {
	return len(s.histories)
}
