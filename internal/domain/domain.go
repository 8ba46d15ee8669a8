package domain

import (
	"sort"
	"time"
)

// Category is the admission category of a privileged action.
type Category string

const (
	CategorySolo  Category = "solo"
	CategoryParty Category = "party"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategorySolo || c == CategoryParty
}

type CrewMember struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Level    int       `json:"level,omitempty"`
	Avatar   string    `json:"avatar,omitempty"`
	JoinedAt time.Time `json:"joined_at" format:"date-time"`
}

// Party is a transient group formed to run one job together.
// OwnerID is fixed for the party's lifetime and len(Crew) never exceeds RequiredCrew.
type Party struct {
	ID           string       `json:"id"`
	JobID        string       `json:"job_id"`
	OwnerID      string       `json:"owner_id"`
	RequiredCrew int          `json:"required_crew" minimum:"1"`
	Crew         []CrewMember `json:"crew"`
	CreatedAt    time.Time    `json:"created_at" format:"date-time"`
}

// IsComplete reports whether the crew has reached the required size.
func (p Party) IsComplete() bool {
	return p.RequiredCrew > 0 && len(p.Crew) >= p.RequiredCrew
}

// OpenSlots returns how many members can still join.
func (p Party) OpenSlots() int {
	n := p.RequiredCrew - len(p.Crew)
	if n < 0 {
		return 0
	}
	return n
}

func (p Party) HasMember(id string) bool {
	for _, m := range p.Crew {
		if m.ID == id {
			return true
		}
	}
	return false
}

// MemberIDs returns crew ids in join order.
func (p Party) MemberIDs() []string {
	ids := make([]string, 0, len(p.Crew))
	for _, m := range p.Crew {
		ids = append(ids, m.ID)
	}
	return ids
}

// SortCrew orders the crew by join time, then id.
func SortCrew(crew []CrewMember) {
	sort.SliceStable(crew, func(i, j int) bool {
		if crew[i].JoinedAt.Equal(crew[j].JoinedAt) {
			return crew[i].ID < crew[j].ID
		}
		return crew[i].JoinedAt.Before(crew[j].JoinedAt)
	})
}

// JobDefinition is an immutable catalog entry.
type JobDefinition struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	RequiredCrew   int    `json:"required_crew" minimum:"1"`
	RequiredLevel  int    `json:"required_level"`
	RequiredEnergy int    `json:"required_energy"`
}

// Category returns the admission category the job runs under.
func (j JobDefinition) Category() Category {
	if j.RequiredCrew > 1 {
		return CategoryParty
	}
	return CategorySolo
}

type PlayerStats struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Level  int    `json:"level"`
	Energy int    `json:"energy"`
}

// JobResult is the success payload of a job execution.
type JobResult struct {
	RunID       string       `json:"run_id"`
	JobID       string       `json:"job_id"`
	PartyID     string       `json:"party_id,omitempty"`
	MemberIDs   []string     `json:"member_ids,omitempty"`
	Player      *PlayerStats `json:"player,omitempty"`
	CompletedAt time.Time    `json:"completed_at" format:"date-time"`
}

// Challenge is a client-generated selection puzzle. CorrectValue is one of Candidates.
type Challenge struct {
	ID           string    `json:"id"`
	CorrectValue int       `json:"-"`
	Candidates   []int     `json:"candidates"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiresIn returns the time left before the challenge lapses.
func (c Challenge) ExpiresIn(now time.Time) time.Duration {
	d := c.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

type CooldownState struct {
	Active           bool `json:"active"`
	RemainingSeconds int  `json:"remaining_seconds"`
}

// AdmissionState is the client-local admission state of one category.
// CaptchaActive and Cooldown.Active are never both true.
type AdmissionState struct {
	CaptchaActive bool          `json:"captcha_active"`
	Cooldown      CooldownState `json:"cooldown"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
