package backend

import (
	"sync"
	"time"
)

// Slot is a bike parked at a rack.
type Slot struct {
	UserDocument     string
	EmployeeDocument string
	ParkedAt         time.Time
	Position         int
}

// RackStore keeps per-rack occupancy in arrival order. The stand-in API is a
// single process, so occupancy lives in memory.
type RackStore struct {
	mu    sync.RWMutex
	racks map[int][]*Slot
	now   func() time.Time
}

func NewRackStore() *RackStore {
	return &RackStore{
		racks: make(map[int][]*Slot),
		now:   time.Now,
	}
}

// Park appends a bike to the rack and returns its position.
func (s *RackStore) Park(rackID int, userDoc, employeeDoc string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parkLocked(rackID, userDoc, employeeDoc)
}

func (s *RackStore) parkLocked(rackID int, userDoc, employeeDoc string) int {
	slot := &Slot{
		UserDocument:     userDoc,
		EmployeeDocument: employeeDoc,
		ParkedAt:         s.now(),
	}
	s.racks[rackID] = append(s.racks[rackID], slot)
	renumber(s.racks[rackID])
	return slot.Position
}

// Retrieve removes a parked bike. It reports false when the document is not
// parked at the rack.
func (s *RackStore) Retrieve(rackID int, userDoc string) (*Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retrieveLocked(rackID, userDoc)
}

func (s *RackStore) retrieveLocked(rackID int, userDoc string) (*Slot, bool) {
	rack := s.racks[rackID]
	for i, slot := range rack {
		if slot.UserDocument != userDoc {
			continue
		}
		rack = append(rack[:i], rack[i+1:]...)
		if len(rack) == 0 {
			delete(s.racks, rackID)
		} else {
			s.racks[rackID] = rack
			renumber(rack)
		}
		return slot, true
	}
	return nil, false
}

// Toggle parks the document if absent and retrieves it otherwise. It reports
// true for a retrieval.
func (s *RackStore) Toggle(rackID int, userDoc, employeeDoc string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.retrieveLocked(rackID, userDoc); ok {
		return true
	}
	s.parkLocked(rackID, userDoc, employeeDoc)
	return false
}

// Position returns the 1-based position of a parked document.
func (s *RackStore) Position(rackID int, userDoc string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, slot := range s.racks[rackID] {
		if slot.UserDocument == userDoc {
			return slot.Position, true
		}
	}
	return 0, false
}

func (s *RackStore) Occupancy(rackID int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.racks[rackID])
}

// Snapshot returns the occupancy of every non-empty rack.
func (s *RackStore) Snapshot() map[int]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]int, len(s.racks))
	for id, rack := range s.racks {
		out[id] = len(rack)
	}
	return out
}

func renumber(rack []*Slot) {
	for i, slot := range rack {
		slot.Position = i + 1
	}
}
