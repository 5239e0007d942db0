package pg

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/repository"
)

var _ repository.Repo = (*PGRepo)(nil)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGRepo struct {
	*queries
	pool *pgxpool.Pool
}

func NewPGRepo(pool *pgxpool.Pool) *PGRepo {
	return &PGRepo{queries: &queries{db: pool}, pool: pool}
}

func (p *PGRepo) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type queries struct {
	db dbtx
}

var _ repository.Tx = (*queries)(nil)

// mapErr translates driver errors into repository sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return repository.ErrAlreadyExists
		case "23503":
			return repository.ErrNotFound
		}
	}
	return err
}

func (q *queries) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := q.db.Exec(ctx, `INSERT INTO users (id, email, first_name, last_name) VALUES ($1,$2,$3,$4)
        ON CONFLICT (id) DO UPDATE SET email=EXCLUDED.email, first_name=EXCLUDED.first_name, last_name=EXCLUDED.last_name`,
		u.ID, u.Email, u.FirstName, u.LastName)
	return mapErr(err)
}

func (q *queries) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	var u domain.User
	err := q.db.QueryRow(ctx, "SELECT id, email, first_name, last_name FROM users WHERE id=$1", id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName)
	return u, mapErr(err)
}

func (q *queries) CreateClub(ctx context.Context, c domain.Club) error {
	_, err := q.db.Exec(ctx, "INSERT INTO clubs (id, name, description, owner_id, created_at) VALUES ($1,$2,$3,$4,$5)",
		c.ID, c.Name, c.Description, c.OwnerID, c.CreatedAt)
	return mapErr(err)
}

func (q *queries) GetClub(ctx context.Context, id uuid.UUID) (domain.Club, error) {
	var c domain.Club
	err := q.db.QueryRow(ctx, "SELECT id, name, description, owner_id, created_at FROM clubs WHERE id=$1", id).
		Scan(&c.ID, &c.Name, &c.Description, &c.OwnerID, &c.CreatedAt)
	return c, mapErr(err)
}

const invitationColumns = "token_hash, club_id, type, created_by, created_at, expires_at, used_at, used_by"

func scanInvitation(row pgx.Row) (domain.Invitation, error) {
	var inv domain.Invitation
	err := row.Scan(&inv.TokenHash, &inv.ClubID, &inv.Type, &inv.CreatedBy, &inv.CreatedAt, &inv.ExpiresAt, &inv.UsedAt, &inv.UsedBy)
	return inv, err
}

func (q *queries) CreateInvitation(ctx context.Context, inv domain.Invitation) error {
	_, err := q.db.Exec(ctx, `INSERT INTO invitations (token_hash, club_id, type, created_by, created_at, expires_at)
        VALUES ($1,$2,$3,$4,$5,$6)`,
		inv.TokenHash, inv.ClubID, inv.Type, inv.CreatedBy, inv.CreatedAt, inv.ExpiresAt)
	return mapErr(err)
}

func (q *queries) GetInvitation(ctx context.Context, tokenHash string) (domain.Invitation, error) {
	inv, err := scanInvitation(q.db.QueryRow(ctx, "SELECT "+invitationColumns+" FROM invitations WHERE token_hash=$1", tokenHash))
	return inv, mapErr(err)
}

func (q *queries) ListInvitations(ctx context.Context, clubID uuid.UUID) ([]domain.Invitation, error) {
	rows, err := q.db.Query(ctx, "SELECT "+invitationColumns+" FROM invitations WHERE club_id=$1 ORDER BY created_at DESC, token_hash", clubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

// ConsumeInvitation is a single conditional UPDATE; concurrent callers are
// serialized by the row lock and only the first sees used_at IS NULL.
func (q *queries) ConsumeInvitation(ctx context.Context, tokenHash string, userID uuid.UUID, now time.Time) (domain.Invitation, error) {
	inv, err := scanInvitation(q.db.QueryRow(ctx, `
        UPDATE invitations SET used_at=$3, used_by=$2
        WHERE token_hash=$1 AND used_at IS NULL AND expires_at > $3
        RETURNING `+invitationColumns, tokenHash, userID, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Invitation{}, repository.ErrConditionFailed
	}
	return inv, mapErr(err)
}

func (q *queries) GetMembership(ctx context.Context, userID uuid.UUID) (domain.Membership, error) {
	var m domain.Membership
	err := q.db.QueryRow(ctx, "SELECT user_id, club_id, role, joined_at FROM memberships WHERE user_id=$1", userID).
		Scan(&m.UserID, &m.ClubID, &m.Role, &m.JoinedAt)
	return m, mapErr(err)
}

func (q *queries) ListMembers(ctx context.Context, clubID uuid.UUID) ([]domain.Member, error) {
	rows, err := q.db.Query(ctx, `
        SELECT m.user_id, m.club_id, m.role, m.joined_at,
               COALESCE(u.email, ''), COALESCE(u.first_name, ''), COALESCE(u.last_name, '')
        FROM memberships m
        LEFT JOIN users u ON u.id = m.user_id
        WHERE m.club_id=$1
        ORDER BY m.joined_at, m.user_id
    `, clubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.UserID, &m.ClubID, &m.Role, &m.JoinedAt, &m.Email, &m.FirstName, &m.LastName); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (q *queries) InsertMembership(ctx context.Context, m domain.Membership) error {
	_, err := q.db.Exec(ctx, "INSERT INTO memberships (user_id, club_id, role, joined_at) VALUES ($1,$2,$3,$4)",
		m.UserID, m.ClubID, m.Role, m.JoinedAt)
	return mapErr(err)
}

func (q *queries) DeleteMembership(ctx context.Context, clubID, userID uuid.UUID) error {
	cmd, err := q.db.Exec(ctx, "DELETE FROM memberships WHERE user_id=$1 AND club_id=$2", userID, clubID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

const subscriptionColumns = "club_id, plan_id, max_teams, current_team_count, updated_at"

func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var s domain.Subscription
	err := row.Scan(&s.ClubID, &s.PlanID, &s.MaxTeams, &s.CurrentTeamCount, &s.UpdatedAt)
	return s, err
}

func (q *queries) CreateSubscription(ctx context.Context, s domain.Subscription) error {
	_, err := q.db.Exec(ctx, "INSERT INTO subscriptions ("+subscriptionColumns+") VALUES ($1,$2,$3,$4,$5)",
		s.ClubID, s.PlanID, s.MaxTeams, s.CurrentTeamCount, s.UpdatedAt)
	return mapErr(err)
}

func (q *queries) GetSubscription(ctx context.Context, clubID uuid.UUID) (domain.Subscription, error) {
	s, err := scanSubscription(q.db.QueryRow(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE club_id=$1", clubID))
	return s, mapErr(err)
}

// ReserveTeamSlot checks and increments in one statement. On refusal the
// current row is returned alongside ErrConditionFailed for messaging.
func (q *queries) ReserveTeamSlot(ctx context.Context, clubID uuid.UUID, now time.Time) (domain.Subscription, error) {
	s, err := scanSubscription(q.db.QueryRow(ctx, `
        UPDATE subscriptions SET current_team_count = current_team_count + 1, updated_at=$2
        WHERE club_id=$1 AND (max_teams IS NULL OR current_team_count < max_teams)
        RETURNING `+subscriptionColumns, clubID, now))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscription{}, err
	}
	cur, err := q.GetSubscription(ctx, clubID)
	if err != nil {
		return domain.Subscription{}, err
	}
	return cur, repository.ErrConditionFailed
}

func (q *queries) ReleaseTeamSlot(ctx context.Context, clubID uuid.UUID, now time.Time) (domain.Subscription, error) {
	s, err := scanSubscription(q.db.QueryRow(ctx, `
        UPDATE subscriptions SET current_team_count = GREATEST(current_team_count - 1, 0), updated_at=$2
        WHERE club_id=$1
        RETURNING `+subscriptionColumns, clubID, now))
	return s, mapErr(err)
}

func (q *queries) UpdatePlan(ctx context.Context, clubID uuid.UUID, planID string, maxTeams *int, now time.Time) (domain.Subscription, error) {
	s, err := scanSubscription(q.db.QueryRow(ctx, `
        UPDATE subscriptions SET plan_id=$2, max_teams=$3, updated_at=$4
        WHERE club_id=$1
        RETURNING `+subscriptionColumns, clubID, planID, maxTeams, now))
	return s, mapErr(err)
}

func (q *queries) CreateTeam(ctx context.Context, t domain.Team) error {
	_, err := q.db.Exec(ctx, "INSERT INTO teams (id, club_id, name, created_at) VALUES ($1,$2,$3,$4)",
		t.ID, t.ClubID, t.Name, t.CreatedAt)
	return mapErr(err)
}

func (q *queries) ListTeams(ctx context.Context, clubID uuid.UUID) ([]domain.Team, error) {
	rows, err := q.db.Query(ctx, "SELECT id, club_id, name, created_at FROM teams WHERE club_id=$1 ORDER BY created_at, id", clubID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Team
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.ClubID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (q *queries) DeleteTeam(ctx context.Context, clubID, teamID uuid.UUID) error {
	cmd, err := q.db.Exec(ctx, "DELETE FROM teams WHERE id=$1 AND club_id=$2", teamID, clubID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
