package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/infra"
	uc "github.com/you/club-membership/internal/usecase"
)

// EventStream serves the realtime change feed for a club.
type EventStream interface {
	Serve(w http.ResponseWriter, r *http.Request, clubID, userID uuid.UUID)
}

type Handlers struct {
	Inv    *uc.InvitationService
	Mem    *uc.MembershipService
	Adm    *uc.AdmissionController
	Stream EventStream
	Log    infra.Logger
}

func NewHandlers(inv *uc.InvitationService, mem *uc.MembershipService, adm *uc.AdmissionController, events EventStream, log infra.Logger) *Handlers {
	return &Handlers{Inv: inv, Mem: mem, Adm: adm, Stream: events, Log: log}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func errorResp(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": map[string]string{"code": code, "message": msg}})
}

// writeError maps usecase errors to status codes. Anything unknown is a 500
// and is logged without being echoed to the client.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		tokenErr *uc.TokenError
		denied   *uc.AdmissionDeniedError
		fault    *uc.ConsistencyFaultError
	)
	switch {
	case errors.As(err, &tokenErr):
		status := http.StatusConflict
		switch tokenErr.Reason {
		case domain.ReasonNotFound:
			status = http.StatusNotFound
		case domain.ReasonExpired:
			status = http.StatusGone
		}
		errorResp(w, status, string(tokenErr.Reason), err.Error())
	case errors.As(err, &denied):
		writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error":   map[string]string{"code": "LIMIT_EXCEEDED", "message": err.Error()},
			"current": denied.Current,
			"limit":   denied.Limit,
		})
	case errors.As(err, &fault):
		h.Log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		errorResp(w, http.StatusInternalServerError, "INTERNAL", "membership change failed, support has been notified")
	case errors.Is(err, uc.ErrInvalidArgument), errors.Is(err, uc.ErrUnknownResource):
		errorResp(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, uc.ErrForbidden):
		errorResp(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, uc.ErrCannotRemoveSelf):
		errorResp(w, http.StatusForbidden, "CANNOT_REMOVE_SELF", err.Error())
	case errors.Is(err, uc.ErrCannotRemoveOwner):
		errorResp(w, http.StatusForbidden, "CANNOT_REMOVE_OWNER", err.Error())
	case errors.Is(err, uc.ErrNotFound):
		errorResp(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, uc.ErrAlreadyInClub):
		errorResp(w, http.StatusConflict, "ALREADY_IN_CLUB", err.Error())
	case errors.Is(err, uc.ErrAlreadyMember):
		errorResp(w, http.StatusConflict, domain.ReasonAlreadyMember, err.Error())
	case errors.Is(err, uc.ErrOwnerCannotLeave):
		errorResp(w, http.StatusConflict, domain.ReasonOwnerCannotLeave, err.Error())
	default:
		h.Log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		errorResp(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errorResp(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		errorResp(w, http.StatusBadRequest, "BAD_REQUEST", name+" must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := UserFromContext(r.Context())
	if !ok {
		errorResp(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
	}
	return id, ok
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (h *Handlers) CreateClub(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var payload struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decode(w, r, &payload) {
		return
	}
	club, err := h.Mem.CreateClub(r.Context(), userID, payload.Name, payload.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, club)
}

func (h *Handlers) IssueInvitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var payload struct {
		ClubID        uuid.UUID             `json:"club_id"`
		Type          domain.InvitationType `json:"type"`
		ExpiresInDays int                   `json:"expires_in_days"`
	}
	if !decode(w, r, &payload) {
		return
	}
	issued, err := h.Inv.Issue(r.Context(), userID, payload.ClubID, payload.Type, payload.ExpiresInDays)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"token": issued.Token, "expires_at": issued.ExpiresAt})
}

// ValidateInvitation is public; it never reveals who issued the token.
func (h *Handlers) ValidateInvitation(w http.ResponseWriter, r *http.Request) {
	v, err := h.Inv.Validate(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !v.Valid {
		writeJSON(w, http.StatusOK, map[string]interface{}{"is_valid": false, "error": v.Reason})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"is_valid":  true,
		"club_id":   v.ClubID,
		"club_name": v.ClubName,
		"type":      v.Type,
	})
}

func (h *Handlers) ConsumeInvitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	clubID, err := h.Mem.ConsumeInvitation(r.Context(), mux.Vars(r)["token"], userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"club_id": clubID})
}

func (h *Handlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	clubID, ok := pathID(w, r, "clubId")
	if !ok {
		return
	}
	list, err := h.Inv.List(r.Context(), userID, clubID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invitations": list})
}

func (h *Handlers) Join(w http.ResponseWriter, r *http.Request) {
	h.join(w, r, h.Mem.BeginJoin)
}

func (h *Handlers) ConfirmTransfer(w http.ResponseWriter, r *http.Request) {
	h.join(w, r, h.Mem.ConfirmJoin)
}

func (h *Handlers) join(w http.ResponseWriter, r *http.Request, step func(ctx context.Context, token string, userID uuid.UUID) (domain.JoinOutcome, error)) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var payload struct {
		Token string `json:"token"`
	}
	if !decode(w, r, &payload) {
		return
	}
	out, err := step(r.Context(), payload.Token, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) MyMembership(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	m, err := h.Mem.MembershipOf(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	clubID, ok := pathID(w, r, "clubId")
	if !ok {
		return
	}
	members, err := h.Mem.ListMembers(r.Context(), userID, clubID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"members": members})
}

func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	clubID, ok := pathID(w, r, "clubId")
	if !ok {
		return
	}
	target, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	if err := h.Mem.RemoveMember(r.Context(), userID, clubID, target); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	clubID, ok := pathID(w, r, "clubId")
	if !ok {
		return
	}
	status, err := h.Adm.Status(r.Context(), userID, clubID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) ChangePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	clubID, ok := pathID(w, r, "clubId")
	if !ok {
		return
	}
	var payload struct {
		PlanID string `json:"plan_id"`
	}
	if !decode(w, r, &payload) {
		return
	}
	status, err := h.Adm.ChangePlan(r.Context(), userID, clubID, payload.PlanID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) CancelPlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	clubID, ok := pathID(w, r, "clubId")
	if !ok {
		return
	}
	status, err := h.Adm.CancelPlan(r.Context(), userID, clubID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) ListTeams(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	clubID, ok := pathID(w, r, "clubId")
	if !ok {
		return
	}
	teams, err := h.Adm.ListTeams(r.Context(), userID, clubID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"teams": teams})
}

func (h *Handlers) CreateTeam(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	clubID, ok := pathID(w, r, "clubId")
	if !ok {
		return
	}
	var payload struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &payload) {
		return
	}
	team, err := h.Adm.CreateTeam(r.Context(), userID, clubID, payload.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (h *Handlers) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	clubID, ok := pathID(w, r, "clubId")
	if !ok {
		return
	}
	teamID, ok := pathID(w, r, "teamId")
	if !ok {
		return
	}
	if err := h.Adm.DeleteTeam(r.Context(), userID, clubID, teamID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events upgrades to a websocket for members of the club.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	clubID, ok := pathID(w, r, "clubId")
	if !ok {
		return
	}
	m, err := h.Mem.MembershipOf(r.Context(), userID)
	if errors.Is(err, uc.ErrNotFound) || (err == nil && m.ClubID != clubID) {
		errorResp(w, http.StatusForbidden, "FORBIDDEN", uc.ErrForbidden.Error())
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.Stream.Serve(w, r, clubID, userID)
}
