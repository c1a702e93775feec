package storage

import (
	"sync"
	"time"
)

// Attempt is the last known state of one speech request, keyed by its
// request id. It survives only as long as the process.
type Attempt struct {
	RequestID string
	MessageID string // ledger row id, empty when not persisted
	Status    string // pending, sent, failed
	Error     string
	UpdatedAt time.Time
}

// StatusMap holds per-request status with last-write-wins semantics.
// Entries older than the retention are swept on write.
type StatusMap struct {
	mu        sync.Mutex
	attempts  map[string]*Attempt
	retention time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewStatusMap(retention time.Duration) *StatusMap {
	if retention <= 0 {
		retention = time.Hour
	}
	return &StatusMap{
		attempts:  make(map[string]*Attempt),
		retention: retention,
		now:       time.Now,
	}
}

// Set records the status for a request
func (s *StatusMap) Set(requestID, status, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	a, ok := s.attempts[requestID]
	if !ok {
		a = &Attempt{RequestID: requestID}
		s.attempts[requestID] = a
	}
	a.Status = status
	a.Error = errMsg
	a.UpdatedAt = now

	s.sweepLocked(now)
}

// SetMessageID links a request to its ledger row
func (s *StatusMap) SetMessageID(requestID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.attempts[requestID]; ok {
		a.MessageID = messageID
	}
}

// Get retrieves a copy of the status for a request
func (s *StatusMap) Get(requestID string) (Attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[requestID]
	if !ok {
		return Attempt{}, false
	}
	return *a, true
}

func (s *StatusMap) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func (s *StatusMap) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < s.retention/4 {
		return
	}
	s.lastSweep = now
	for id, a := range s.attempts {
		if now.Sub(a.UpdatedAt) > s.retention {
			delete(s.attempts, id)
		}
	}
}
