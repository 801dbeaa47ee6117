package backend

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/Zereker/ideahub/internal/domain"
)

// uniqueViolation PostgreSQL unique_violation 错误码
const uniqueViolation = "23505"

// querier pgxpool.Pool / pgx.Tx 的公共子集
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres 基于 pgx 的后端实现
//
// 唯一性由部分唯一索引保证：同一无序用户对在 pending/accepted 状态下最多一行。
// respond/cancel 使用带角色条件的 UPDATE/DELETE，未命中时再读一次以区分错误类型。
type Postgres struct {
	db querier
}

var (
	_ Repository    = (*Postgres)(nil)
	_ ProfileSource = (*Postgres)(nil)
)

// NewPostgres 创建 Postgres 后端
func NewPostgres(db querier) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the profiles/connections tables and indexes if they don't exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS profiles (
    id          TEXT PRIMARY KEY,
    full_name   TEXT NOT NULL DEFAULT '',
    avatar_url  TEXT NOT NULL DEFAULT '',
    title       TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS connections (
    id            TEXT        PRIMARY KEY,
    requester_id  TEXT        NOT NULL,
    recipient_id  TEXT        NOT NULL,
    status        TEXT        NOT NULL CHECK (status IN ('pending', 'accepted', 'rejected')),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
    CHECK (requester_id <> recipient_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_connections_active_pair
    ON connections (LEAST(requester_id, recipient_id), GREATEST(requester_id, recipient_id))
    WHERE status IN ('pending', 'accepted');
CREATE INDEX IF NOT EXISTS idx_connections_requester ON connections (requester_id);
CREATE INDEX IF NOT EXISTS idx_connections_recipient ON connections (recipient_id);
`
	_, err := p.db.Exec(ctx, ddl)
	return errors.WithMessage(err, "ensure schema")
}

const connectionColumns = `c.id, c.requester_id, c.recipient_id, c.status, c.created_at, c.updated_at`

// Get implements Repository.
func (p *Postgres) Get(ctx context.Context, id string) (domain.Connection, error) {
	row := p.db.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections c WHERE c.id = $1`, id)
	c, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Connection{}, notFound(id)
	}
	return c, errors.WithMessage(err, "get connection")
}

// FindBetween implements Repository.
func (p *Postgres) FindBetween(ctx context.Context, a, b string, statuses ...domain.Status) ([]domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections c
WHERE ((c.requester_id = $1 AND c.recipient_id = $2) OR (c.requester_id = $2 AND c.recipient_id = $1))`
	args := []any{a, b}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` AND c.status = ANY($3)`
		args = append(args, names)
	}
	query += ` ORDER BY c.updated_at DESC`

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WithMessage(err, "find connections between users")
	}
	defer rows.Close()

	var out []domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, errors.WithMessage(err, "scan connection")
		}
		out = append(out, c)
	}
	return out, errors.WithMessage(rows.Err(), "iterate connections")
}

// ListAsRequester implements Repository.
func (p *Postgres) ListAsRequester(ctx context.Context, userID string) ([]domain.ConnectionView, error) {
	return p.listJoined(ctx, userID, "requester_id", "recipient_id")
}

// ListAsRecipient implements Repository.
func (p *Postgres) ListAsRecipient(ctx context.Context, userID string) ([]domain.ConnectionView, error) {
	return p.listJoined(ctx, userID, "recipient_id", "requester_id")
}

// listJoined 按 self 列过滤，并 LEFT JOIN other 列对应的资料；资料缺失时使用占位资料
func (p *Postgres) listJoined(ctx context.Context, userID, self, other string) ([]domain.ConnectionView, error) {
	query := `SELECT ` + connectionColumns + `, pr.full_name, pr.avatar_url, pr.title
FROM connections c
LEFT JOIN profiles pr ON pr.id = c.` + other + `
WHERE c.` + self + ` = $1
ORDER BY c.updated_at DESC`

	rows, err := p.db.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.WithMessagef(err, "list connections by %s", self)
	}
	defer rows.Close()

	var views []domain.ConnectionView
	for rows.Next() {
		var (
			c                       domain.Connection
			status                  string
			fullName, avatar, title *string
		)
		if err := rows.Scan(&c.ID, &c.RequesterID, &c.RecipientID, &status, &c.CreatedAt, &c.UpdatedAt,
			&fullName, &avatar, &title); err != nil {
			return nil, errors.WithMessage(err, "scan joined connection")
		}
		c.Status = domain.Status(status)
		c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()

		otherID := c.Counterparty(userID)
		profile := domain.PlaceholderProfile(otherID)
		if fullName != nil {
			profile = domain.Profile{
				UserID:    otherID,
				FullName:  deref(fullName),
				AvatarURL: deref(avatar),
				Title:     deref(title),
			}
			if strings.TrimSpace(profile.FullName) == "" {
				profile.FullName = domain.UnknownUserName
			}
		}
		views = append(views, domain.ConnectionView{Connection: c, Counterparty: profile})
	}
	return views, errors.WithMessage(rows.Err(), "iterate joined connections")
}

// Insert implements Repository.
func (p *Postgres) Insert(ctx context.Context, requesterID, recipientID string) (domain.Connection, error) {
	if err := checkInsert(requesterID, recipientID, nil); err != nil {
		return domain.Connection{}, err
	}

	row := p.db.QueryRow(ctx, `
INSERT INTO connections AS c (id, requester_id, recipient_id, status, created_at, updated_at)
VALUES ($1, $2, $3, 'pending', clock_timestamp(), clock_timestamp())
RETURNING `+connectionColumns, uuid.NewString(), requesterID, recipientID)

	c, err := scanConnection(row)
	if err == nil {
		return c, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		active, findErr := p.FindBetween(ctx, requesterID, recipientID, domain.StatusPending, domain.StatusAccepted)
		if findErr == nil {
			if dup := DuplicateError(active); dup != nil {
				return domain.Connection{}, dup
			}
		}
		// 冲突行在两次查询之间已被处理，按 pending 冲突上报
		return domain.Connection{}, domain.WrapError(domain.KindAlreadyPending, err, "a pending request already exists")
	}
	return domain.Connection{}, errors.WithMessage(err, "insert connection")
}

// UpdateStatus implements Repository.
func (p *Postgres) UpdateStatus(ctx context.Context, id, actingUserID string, status domain.Status) (domain.Connection, error) {
	if status != domain.StatusAccepted && status != domain.StatusRejected {
		return domain.Connection{}, domain.NewError(domain.KindInvalidInput, "status must be accepted or rejected")
	}

	row := p.db.QueryRow(ctx, `
UPDATE connections AS c
SET status = $3, updated_at = GREATEST(clock_timestamp(), c.updated_at + interval '1 microsecond')
WHERE c.id = $1 AND c.recipient_id = $2 AND c.status = 'pending'
RETURNING `+connectionColumns, id, actingUserID, string(status))

	c, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Connection{}, p.classify(ctx, id, func(cur domain.Connection) error {
			return checkRespond(cur, actingUserID, status)
		})
	}
	return c, errors.WithMessage(err, "update connection status")
}

// Delete implements Repository.
func (p *Postgres) Delete(ctx context.Context, id, actingUserID string) (domain.Connection, error) {
	row := p.db.QueryRow(ctx, `
DELETE FROM connections AS c
WHERE c.id = $1 AND c.requester_id = $2 AND c.status = 'pending'
RETURNING `+connectionColumns, id, actingUserID)

	c, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Connection{}, p.classify(ctx, id, func(cur domain.Connection) error {
			return checkCancel(cur, actingUserID)
		})
	}
	return c, errors.WithMessage(err, "delete connection")
}

// classify 带条件的写入未命中时，读取当前行以给出 NotFound / NotAuthorized / InvalidState
func (p *Postgres) classify(ctx context.Context, id string, check func(domain.Connection) error) error {
	cur, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := check(cur); err != nil {
		return err
	}
	// 行在两次语句之间发生了变化
	return domain.NewError(domain.KindInvalidState, "connection changed concurrently")
}

// GetProfile implements ProfileSource.
func (p *Postgres) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	profile := domain.Profile{UserID: userID}
	err := p.db.QueryRow(ctx, `SELECT full_name, avatar_url, title FROM profiles WHERE id = $1`, userID).
		Scan(&profile.FullName, &profile.AvatarURL, &profile.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, domain.NewError(domain.KindNotFound, "profile "+userID+" not found")
	}
	if err != nil {
		return domain.Profile{}, errors.WithMessage(err, "get profile")
	}
	return profile, nil
}

// PutProfile upserts a display profile.
func (p *Postgres) PutProfile(ctx context.Context, profile domain.Profile) error {
	_, err := p.db.Exec(ctx, `
INSERT INTO profiles (id, full_name, avatar_url, title) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name, avatar_url = EXCLUDED.avatar_url, title = EXCLUDED.title`,
		profile.UserID, profile.FullName, profile.AvatarURL, profile.Title)
	return errors.WithMessage(err, "put profile")
}

func scanConnection(row pgx.Row) (domain.Connection, error) {
	var (
		c      domain.Connection
		status string
	)
	if err := row.Scan(&c.ID, &c.RequesterID, &c.RecipientID, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Connection{}, err
	}
	c.Status = domain.Status(status)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
