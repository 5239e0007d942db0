package domain

import (
	"time"

	"github.com/google/uuid"
)

type Club struct {
	ID          uuid.UUID `json:"club_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	OwnerID     uuid.UUID `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Team is the plan-gated resource of a club.
type Team struct {
	ID        uuid.UUID `json:"team_id"`
	ClubID    uuid.UUID `json:"club_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type ResourceKind string

const ResourceTeam ResourceKind = "TEAM"
