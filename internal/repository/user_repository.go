package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/envisionapp/envision-api/internal/filestore"
	"github.com/envisionapp/envision-api/internal/model"
)

// UserRepo provides access to user identity records.  It runs against
// MySQL when a database handle is supplied, and falls back to the
// per-key JSON file store otherwise (reduced guarantees: the token
// index and the user row are written as two separate files).
type UserRepo struct {
	db    *sql.DB
	files *filestore.Store
}

// NewUserRepo returns a UserRepo bound to the database, or to the file
// store when db is nil.
func NewUserRepo(db *sql.DB, files *filestore.Store) *UserRepo {
	return &UserRepo{db: db, files: files}
}

// DB exposes the underlying handle so handlers can open transactions
// that span this and other repositories.  Nil in file-store mode.
func (r *UserRepo) DB() *sql.DB { return r.db }

const userColumns = `id, team_id, user_token, is_guest, guest_expires_at,
	access_token, refresh_token, token_type, scope, expires_in, obtained_at,
	habits, packages, plan_id, plan_active, plan_source, plan_updated_at,
	created_at, updated_at`

// fileUser is the JSON shape persisted by the fallback store.  It keeps
// the exported model fields so rows survive round trips unchanged.
type fileUser struct {
	model.User
}

// GetByToken resolves a user by their opaque session token.  Returns
// ErrUserNotFound when no record matches.
func (r *UserRepo) GetByToken(ctx context.Context, userToken string) (*model.User, error) {
	if r.db == nil {
		var idx struct {
			UserID string `json:"user_id"`
		}
		if err := r.files.Get("user_tokens", userToken, &idx); err != nil {
			if errors.Is(err, filestore.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, err
		}
		return r.GetByID(ctx, idx.UserID)
	}
	const q = `SELECT ` + userColumns + ` FROM users WHERE user_token = ? LIMIT 1`
	return r.scanUser(r.db.QueryRowContext(ctx, q, userToken))
}

// GetByID resolves a user by identity id.  Returns ErrUserNotFound when
// no record matches.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	if r.db == nil {
		var fu fileUser
		if err := r.files.Get("users", id, &fu); err != nil {
			if errors.Is(err, filestore.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, err
		}
		u := fu.User
		return &u, nil
	}
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = ? LIMIT 1`
	return r.scanUser(r.db.QueryRowContext(ctx, q, id))
}

// Upsert writes the full user record keyed by identity id, creating it
// on first OAuth callback or guest auth and replacing mutable fields on
// later writes.  The existing user token survives an upsert unless the
// caller explicitly changed it, because callers read-modify-write the
// whole record.
func (r *UserRepo) Upsert(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.UpdatedAt = now
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if r.db == nil {
		if err := r.files.Put("users", u.ID, fileUser{User: *u}); err != nil {
			return err
		}
		return r.files.Put("user_tokens", u.UserToken, map[string]string{"user_id": u.ID})
	}
	habits, err := marshalJSONColumn(u.Habits)
	if err != nil {
		return err
	}
	packages, err := marshalJSONColumn(u.Packages)
	if err != nil {
		return err
	}
	const q = `INSERT INTO users
		(id, team_id, user_token, is_guest, guest_expires_at,
		 access_token, refresh_token, token_type, scope, expires_in, obtained_at,
		 habits, packages, plan_id, plan_active, plan_source, plan_updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE
		 team_id = VALUES(team_id),
		 user_token = VALUES(user_token),
		 is_guest = VALUES(is_guest),
		 guest_expires_at = VALUES(guest_expires_at),
		 access_token = VALUES(access_token),
		 refresh_token = VALUES(refresh_token),
		 token_type = VALUES(token_type),
		 scope = VALUES(scope),
		 expires_in = VALUES(expires_in),
		 obtained_at = VALUES(obtained_at),
		 habits = VALUES(habits),
		 packages = VALUES(packages),
		 plan_id = VALUES(plan_id),
		 plan_active = VALUES(plan_active),
		 plan_source = VALUES(plan_source),
		 plan_updated_at = VALUES(plan_updated_at)`
	_, err = r.db.ExecContext(ctx, q,
		u.ID, u.TeamID, u.UserToken, u.IsGuest, nullTime(u.GuestExpiresAt),
		nullString(u.Token.AccessToken), nullString(u.Token.RefreshToken),
		u.Token.TokenType, nullString(u.Token.Scope), u.Token.ExpiresIn, nullTimeV(u.Token.ObtainedAt),
		habits, packages, u.PlanID, u.PlanActive, u.PlanSource, nullTime(u.PlanUpdatedAt),
	)
	return err
}

// UpdateTokenBundle persists a refreshed token bundle for a user.  It
// touches only the token columns so concurrent writes to other fields
// (habits, packages) are not clobbered by a refresh.
func (r *UserRepo) UpdateTokenBundle(ctx context.Context, id string, b model.TokenBundle) error {
	if r.db == nil {
		u, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		u.Token = b
		return r.Upsert(ctx, u)
	}
	const q = `UPDATE users SET access_token = ?, refresh_token = ?, token_type = ?,
		scope = ?, expires_in = ?, obtained_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, q,
		nullString(b.AccessToken), nullString(b.RefreshToken), b.TokenType,
		nullString(b.Scope), b.ExpiresIn, nullTimeV(b.ObtainedAt), id)
	return err
}

// AppendPackage adds one generated package artifact to the user's
// packages list.  Items with an id already present are replaced, so a
// retried import overwrites rather than duplicates.  Each call is an
// independent write: a later failure does not undo earlier artifacts.
func (r *UserRepo) AppendPackage(ctx context.Context, id string, item model.PackageItem) error {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	replaced := false
	for i := range u.Packages {
		if u.Packages[i].ID == item.ID {
			u.Packages[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		u.Packages = append(u.Packages, item)
	}
	return r.Upsert(ctx, u)
}

// SetSubscriptionTx upserts the user's active-subscription fields inside
// an existing transaction.  Used by the gift-code redemption engine so
// the grant commits or rolls back together with the ledger row.
func (r *UserRepo) SetSubscriptionTx(ctx context.Context, tx *sql.Tx, userID, planID, source string, now time.Time) error {
	const q = `UPDATE users SET plan_id = ?, plan_active = 1, plan_source = ?, plan_updated_at = ?
		WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, planID, source, now, userID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// scanUser reads one users row.
func (r *UserRepo) scanUser(row *sql.Row) (*model.User, error) {
	var (
		u                            model.User
		guestExp, obtained, planUpd  sql.NullTime
		access, refresh, scope       sql.NullString
		habits, packages             sql.NullString
	)
	err := row.Scan(
		&u.ID, &u.TeamID, &u.UserToken, &u.IsGuest, &guestExp,
		&access, &refresh, &u.Token.TokenType, &scope, &u.Token.ExpiresIn, &obtained,
		&habits, &packages, &u.PlanID, &u.PlanActive, &u.PlanSource, &planUpd,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if guestExp.Valid {
		t := guestExp.Time
		u.GuestExpiresAt = &t
	}
	if planUpd.Valid {
		t := planUpd.Time
		u.PlanUpdatedAt = &t
	}
	u.Token.AccessToken = access.String
	u.Token.RefreshToken = refresh.String
	u.Token.Scope = scope.String
	if obtained.Valid {
		u.Token.ObtainedAt = obtained.Time
	}
	if habits.Valid && habits.String != "" {
		if err := json.Unmarshal([]byte(habits.String), &u.Habits); err != nil {
			return nil, err
		}
	}
	if packages.Valid && packages.String != "" {
		if err := json.Unmarshal([]byte(packages.String), &u.Packages); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

// marshalJSONColumn serializes a slice for a nullable JSON column; nil
// and empty slices are stored as SQL NULL.
func marshalJSONColumn(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	if s == "null" || s == "[]" {
		return nil, nil
	}
	return s, nil
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullTimeV(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
