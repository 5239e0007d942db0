package domain

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tracks a club's plan and its gated resource usage.
// A nil MaxTeams means unlimited.
type Subscription struct {
	ClubID           uuid.UUID `json:"club_id"`
	PlanID           string    `json:"plan_id"`
	MaxTeams         *int      `json:"max_teams"`
	CurrentTeamCount int       `json:"current_team_count"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (s Subscription) CanCreateTeam() bool {
	return s.MaxTeams == nil || s.CurrentTeamCount < *s.MaxTeams
}

// OverLimit is true after a downgrade left more teams than the plan allows.
func (s Subscription) OverLimit() bool {
	return s.MaxTeams != nil && s.CurrentTeamCount > *s.MaxTeams
}

type SubscriptionStatus struct {
	PlanID           string `json:"plan_id"`
	MaxTeams         *int   `json:"max_teams"`
	CurrentTeamCount int    `json:"current_team_count"`
	CanCreateTeam    bool   `json:"can_create_team"`
	OverLimit        bool   `json:"over_limit"`
}

func (s Subscription) Status() SubscriptionStatus {
	return SubscriptionStatus{
		PlanID:           s.PlanID,
		MaxTeams:         s.MaxTeams,
		CurrentTeamCount: s.CurrentTeamCount,
		CanCreateTeam:    s.CanCreateTeam(),
		OverLimit:        s.OverLimit(),
	}
}

// Plan is a catalog entry; MaxTeams nil means unlimited.
type Plan struct {
	ID       string `json:"plan_id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	MaxTeams *int   `json:"max_teams" yaml:"max_teams"`
}
