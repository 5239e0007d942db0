// Package client is a typed HTTP client for the club membership API plus the
// per-user Session that keeps optimistic member and team lists.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/you/club-membership/internal/domain"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client authenticating with the bearer token. A nil hc uses a
// client with a 15s timeout.
func New(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

// APIError is a non-2xx response. Current and Limit are set for LIMIT_EXCEEDED.
type APIError struct {
	Status  int
	Code    string
	Message string
	Current int
	Limit   *int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Current int  `json:"current"`
	Limit   *int `json:"limit"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil {
			return &APIError{Status: resp.StatusCode, Code: "UNKNOWN", Message: resp.Status}
		}
		return &APIError{Status: resp.StatusCode, Code: eb.Error.Code, Message: eb.Error.Message, Current: eb.Current, Limit: eb.Limit}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) CreateClub(ctx context.Context, name, description string) (domain.Club, error) {
	var club domain.Club
	err := c.do(ctx, http.MethodPost, "/clubs", map[string]string{"name": name, "description": description}, &club)
	return club, err
}

func (c *Client) Me(ctx context.Context) (domain.Membership, error) {
	var m domain.Membership
	err := c.do(ctx, http.MethodGet, "/memberships/me", nil, &m)
	return m, err
}

func (c *Client) IssueInvitation(ctx context.Context, clubID uuid.UUID, typ domain.InvitationType, expiresInDays int) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/invitations", map[string]interface{}{
		"club_id":         clubID,
		"type":            typ,
		"expires_in_days": expiresInDays,
	}, &out)
	return out.Token, err
}

type InvitationInfo struct {
	IsValid  bool                  `json:"is_valid"`
	ClubID   uuid.UUID             `json:"club_id"`
	ClubName string                `json:"club_name"`
	Type     domain.InvitationType `json:"type"`
	Error    domain.TokenReason    `json:"error"`
}

func (c *Client) ValidateInvitation(ctx context.Context, token string) (InvitationInfo, error) {
	var info InvitationInfo
	err := c.do(ctx, http.MethodGet, "/invitations/"+token, nil, &info)
	return info, err
}

func (c *Client) ConsumeInvitation(ctx context.Context, token string) (uuid.UUID, error) {
	var out struct {
		ClubID uuid.UUID `json:"club_id"`
	}
	err := c.do(ctx, http.MethodPost, "/invitations/"+token+"/consume", nil, &out)
	return out.ClubID, err
}

func (c *Client) Join(ctx context.Context, token string) (domain.JoinOutcome, error) {
	var out domain.JoinOutcome
	err := c.do(ctx, http.MethodPost, "/memberships/join", map[string]string{"token": token}, &out)
	return out, err
}

func (c *Client) ConfirmTransfer(ctx context.Context, token string) (domain.JoinOutcome, error) {
	var out domain.JoinOutcome
	err := c.do(ctx, http.MethodPost, "/memberships/confirm-transfer", map[string]string{"token": token}, &out)
	return out, err
}

func (c *Client) ListMembers(ctx context.Context, clubID uuid.UUID) ([]domain.Member, error) {
	var out struct {
		Members []domain.Member `json:"members"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/clubs/%s/members", clubID), nil, &out)
	return out.Members, err
}

func (c *Client) RemoveMember(ctx context.Context, clubID, userID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/clubs/%s/members/%s", clubID, userID), nil, nil)
}

func (c *Client) ListTeams(ctx context.Context, clubID uuid.UUID) ([]domain.Team, error) {
	var out struct {
		Teams []domain.Team `json:"teams"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/clubs/%s/teams", clubID), nil, &out)
	return out.Teams, err
}

func (c *Client) CreateTeam(ctx context.Context, clubID uuid.UUID, name string) (domain.Team, error) {
	var team domain.Team
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/clubs/%s/teams", clubID), map[string]string{"name": name}, &team)
	return team, err
}

func (c *Client) DeleteTeam(ctx context.Context, clubID, teamID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/clubs/%s/teams/%s", clubID, teamID), nil, nil)
}

func (c *Client) SubscriptionStatus(ctx context.Context, clubID uuid.UUID) (domain.SubscriptionStatus, error) {
	var st domain.SubscriptionStatus
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/subscriptions/%s", clubID), nil, &st)
	return st, err
}

func (c *Client) ChangePlan(ctx context.Context, clubID uuid.UUID, planID string) (domain.SubscriptionStatus, error) {
	var st domain.SubscriptionStatus
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/subscriptions/%s/plan", clubID), map[string]string{"plan_id": planID}, &st)
	return st, err
}
