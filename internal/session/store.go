package session

import (
	"sync"
	"time"
)

const defaultIdleTTL = 2 * time.Hour

// Store keeps one Machine per visitor in memory. Machines idle longer than the TTL are dropped
// lazily on access; a machine that is Analyzing is never dropped.
type Store struct {
	mu       sync.Mutex
	machines map[string]*Machine
	ttl      time.Duration
	clock    func() time.Time
	opts     []MachineOption
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithIdleTTL sets how long an untouched machine is kept.
func WithIdleTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithStoreClock overrides the time source used for pruning and for new machines.
func WithStoreClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMachineOptions applies opts to every machine the store creates.
func WithMachineOptions(opts ...MachineOption) StoreOption {
	return func(s *Store) {
		s.opts = append(s.opts, opts...)
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		machines: make(map[string]*Machine),
		ttl:      defaultIdleTTL,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Machine returns the visitor's machine, creating an Idle one on first use.
func (s *Store) Machine(visitorID string) *Machine {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	s.pruneLocked(now)

	if m, ok := s.machines[visitorID]; ok {
		return m
	}
	opts := append([]MachineOption{WithClock(s.clock)}, s.opts...)
	m := NewMachine(opts...)
	s.machines[visitorID] = m
	return m
}

// Lookup returns the visitor's machine without creating one.
func (s *Store) Lookup(visitorID string) (*Machine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[visitorID]
	return m, ok
}

// Forget drops the visitor's machine.
func (s *Store) Forget(visitorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.machines, visitorID)
}

// Len returns the number of live machines.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.machines)
}

func (s *Store) pruneLocked(now time.Time) {
	for id, m := range s.machines {
		last, phase := m.lastActive()
		if phase == PhaseAnalyzing {
			continue
		}
		if now.Sub(last) > s.ttl {
			delete(s.machines, id)
		}
	}
}
