package usecase

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/you/club-membership/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrAlreadyInClub     = errors.New("user already belongs to a club")
	ErrAlreadyMember     = errors.New("user is already a member of this club")
	ErrOwnerCannotLeave  = errors.New("club owner cannot join another club")
	ErrCannotRemoveSelf  = errors.New("cannot remove yourself")
	ErrCannotRemoveOwner = errors.New("cannot remove the club owner")
	ErrUnknownResource   = errors.New("unknown resource kind")

	ErrTokenNotFound = errors.New("invitation not found")
	ErrTokenExpired  = errors.New("invitation expired")
	ErrTokenUsed     = errors.New("invitation already used")
)

// TokenError is a user-recoverable invitation failure. Never retried.
type TokenError struct {
	Reason domain.TokenReason
}

func (e *TokenError) Error() string {
	return "invitation " + strings.ToLower(strings.ReplaceAll(string(e.Reason), "_", " "))
}

func (e *TokenError) Is(target error) bool {
	switch e.Reason {
	case domain.ReasonNotFound:
		return target == ErrTokenNotFound
	case domain.ReasonExpired:
		return target == ErrTokenExpired
	case domain.ReasonAlreadyUsed:
		return target == ErrTokenUsed
	}
	return false
}

// AdmissionDeniedError carries the usage that blocked a gated creation.
type AdmissionDeniedError struct {
	Kind    domain.ResourceKind
	Current int
	Limit   *int
}

func (e *AdmissionDeniedError) Error() string {
	limit := "unlimited"
	if e.Limit != nil {
		limit = fmt.Sprint(*e.Limit)
	}
	return fmt.Sprintf("%s limit exceeded: %d of %s", strings.ToLower(string(e.Kind)), e.Current, limit)
}

// ConsistencyFaultError means an invitation was consumed inside a join but the
// membership write or the commit failed. It is alerted, not shown to users.
type ConsistencyFaultError struct {
	UserID   uuid.UUID
	ClubID   uuid.UUID
	TokenRef string
	Err      error
}

func (e *ConsistencyFaultError) Error() string {
	return fmt.Sprintf("consistency fault: token %s consumed by %s for club %s: %v", e.TokenRef, e.UserID, e.ClubID, e.Err)
}

func (e *ConsistencyFaultError) Unwrap() error { return e.Err }

// abortError ends a join transaction with an ABORTED outcome.
type abortError struct {
	reason string
}

func (e *abortError) Error() string { return "join aborted: " + e.reason }

// confirmNeeded ends a direct join that found the user already in a club
// once inside the transaction. Nothing is consumed.
type confirmNeeded struct {
	out domain.JoinOutcome
}

func (e *confirmNeeded) Error() string { return "join needs transfer confirmation" }
