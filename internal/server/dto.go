package server

import (
	"time"

	"crewjob/internal/domain"
)

// Request payloads

type DevLoginRequest struct {
	PlayerID string `json:"player_id" validate:"required,max=64"`
	Name     string `json:"name,omitempty" validate:"max=64"`
	Level    int    `json:"level,omitempty" validate:"min=0"`
}

type CreatePartyRequest struct {
	JobID string `json:"job_id" validate:"required"`
}

type KickMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type ExecutePartyJobRequest struct {
	MemberIDs []string `json:"member_ids" validate:"required,min=1,dive,required"`
}

type AutomationReportRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=64"`
}

type SetAutoJobRequest struct {
	JobID    string `json:"job_id" validate:"required"`
	Category string `json:"category" validate:"required,category"`
}

// Response payloads

type DevLoginResponse struct {
	Token     string    `json:"token"`
	PlayerID  string    `json:"player_id"`
	ExpiresAt time.Time `json:"expires_at" format:"date-time"`
}

type ProfileResponse struct {
	domain.PlayerStats
	RestrictedSeconds int               `json:"restricted_seconds"`
	AutoJobs          map[string]string `json:"auto_jobs,omitempty"`
}

type AutomationReportResponse struct {
	RestrictedUntil time.Time `json:"restricted_until" format:"date-time"`
}

type jobList struct {
	Items []domain.JobDefinition `json:"items"`
}

type partyList struct {
	Items []domain.Party `json:"items"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
