package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleOwner          Role = "OWNER"
	RoleCoach          Role = "COACH"
	RoleAssistantCoach Role = "ASSISTANT_COACH"
	RolePlayer         Role = "PLAYER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleCoach, RoleAssistantCoach, RolePlayer:
		return true
	}
	return false
}

// Membership is the single active club affiliation of a user.
type Membership struct {
	UserID   uuid.UUID `json:"user_id"`
	ClubID   uuid.UUID `json:"club_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Member is a membership joined with the user's display fields.
type Member struct {
	Membership
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}
