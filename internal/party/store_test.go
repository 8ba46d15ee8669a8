package party

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"crewjob/internal/domain"
	cjerrors "crewjob/internal/errors"
)

// memStore is an in-memory party store seen from one user's perspective. Other clients
// are simulated by mutating parties directly.
type memStore struct {
	mu      sync.Mutex
	userID  string
	parties map[string]*domain.Party
	calls   map[string]int
	nextID  int
	gets    atomic.Int32
	// hold, when set, is consumed by the next GetMyParty call which blocks until it is closed.
	hold chan struct{}
}

func newMemStore(userID string) *memStore {
	return &memStore{userID: userID, parties: map[string]*domain.Party{}, calls: map[string]int{}}
}

func (s *memStore) called(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *memStore) put(p domain.Party) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	cp.Crew = append([]domain.CrewMember(nil), p.Crew...)
	s.parties[p.ID] = &cp
}

func (s *memStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.parties, id)
}

func (s *memStore) addMember(partyID, memberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.parties[partyID]
	p.Crew = append(p.Crew, domain.CrewMember{ID: memberID, JoinedAt: time.Now()})
}

func (s *memStore) mineLocked() *domain.Party {
	for _, p := range s.parties {
		if p.HasMember(s.userID) {
			return p
		}
	}
	return nil
}

func (s *memStore) CreateParty(_ context.Context, jobID string) (domain.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["create"]++
	if s.mineLocked() != nil {
		return domain.Party{}, cjerrors.ErrAlreadyInParty
	}
	s.nextID++
	p := &domain.Party{
		ID:           "p" + string(rune('0'+s.nextID)),
		JobID:        jobID,
		OwnerID:      s.userID,
		RequiredCrew: 2,
		Crew:         []domain.CrewMember{{ID: s.userID}},
	}
	s.parties[p.ID] = p
	return *p, nil
}

func (s *memStore) JoinParty(_ context.Context, partyID string) (domain.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["join"]++
	p, ok := s.parties[partyID]
	if !ok {
		return domain.Party{}, cjerrors.NotFound("party not found")
	}
	if len(p.Crew) >= p.RequiredCrew {
		return domain.Party{}, cjerrors.ErrPartyFull
	}
	p.Crew = append(p.Crew, domain.CrewMember{ID: s.userID})
	return *p, nil
}

func (s *memStore) LeaveParty(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["leave"]++
	p := s.mineLocked()
	if p == nil {
		return cjerrors.ErrNotInParty
	}
	crew := p.Crew[:0]
	for _, m := range p.Crew {
		if m.ID != s.userID {
			crew = append(crew, m)
		}
	}
	p.Crew = crew
	if len(crew) == 0 {
		delete(s.parties, p.ID)
	}
	return nil
}

func (s *memStore) KickMember(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["kick"]++
	p := s.mineLocked()
	if p == nil {
		return cjerrors.ErrNotInParty
	}
	if p.OwnerID != s.userID {
		return cjerrors.ErrNotLeader
	}
	crew := p.Crew[:0]
	for _, m := range p.Crew {
		if m.ID != userID {
			crew = append(crew, m)
		}
	}
	p.Crew = crew
	return nil
}

func (s *memStore) GetMyParty(ctx context.Context) (*domain.Party, error) {
	s.mu.Lock()
	hold := s.hold
	s.hold = nil
	p := s.mineLocked()
	var out *domain.Party
	if p != nil {
		cp := *p
		cp.Crew = append([]domain.CrewMember(nil), p.Crew...)
		out = &cp
	}
	s.mu.Unlock()
	s.gets.Add(1)
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

func (s *memStore) ListPartiesForJob(_ context.Context, jobID string) ([]domain.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Party
	for _, p := range s.parties {
		if p.JobID == jobID {
			out = append(out, *p)
		}
	}
	return out, nil
}
