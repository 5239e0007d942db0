package domain

import "github.com/google/uuid"

// JoinState is a step of a single join attempt.
type JoinState string

const (
	JoinTokenPending           JoinState = "TOKEN_PENDING"
	JoinTokenValidated         JoinState = "TOKEN_VALIDATED"
	JoinDirect                 JoinState = "DIRECT_JOIN"
	JoinTransferConfirmPending JoinState = "TRANSFER_CONFIRM_PENDING"
	JoinJoined                 JoinState = "JOINED"
	JoinAborted                JoinState = "ABORTED"
)

// Abort reasons beyond the token reasons.
const (
	ReasonAlreadyMember    = "ALREADY_MEMBER"
	ReasonOwnerCannotLeave = "OWNER_CANNOT_LEAVE"
	ReasonAlreadyInClub    = "ALREADY_IN_CLUB"
)

// JoinOutcome is what beginJoin/confirmJoin hand back. Only JOINED,
// TRANSFER_CONFIRM_PENDING and ABORTED are terminal for a call.
type JoinOutcome struct {
	State        JoinState  `json:"state"`
	ClubID       *uuid.UUID `json:"club_id,omitempty"`
	ClubName     string     `json:"club_name,omitempty"`
	FromClubName string     `json:"from_club_name,omitempty"`
	Role         Role       `json:"role,omitempty"`
	Reason       string     `json:"reason,omitempty"`
}

func Aborted(reason string) JoinOutcome {
	return JoinOutcome{State: JoinAborted, Reason: reason}
}
