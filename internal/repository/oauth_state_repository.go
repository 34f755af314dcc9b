package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/envisionapp/envision-api/internal/filestore"
	"github.com/envisionapp/envision-api/internal/model"
)

// OAuthStateRepo persists in-flight PKCE states and the poll records
// that bridge clients unable to receive a popup postMessage.  Both are
// small, short-lived key/value rows, so the file fallback covers them
// with the same semantics minus durability guarantees.
type OAuthStateRepo struct {
	db    *sql.DB
	files *filestore.Store
}

// NewOAuthStateRepo returns a repo bound to the database, or to the
// file store when db is nil.
func NewOAuthStateRepo(db *sql.DB, files *filestore.Store) *OAuthStateRepo {
	return &OAuthStateRepo{db: db, files: files}
}

// CreateState stores a pending PKCE row keyed by its state nonce.
func (r *OAuthStateRepo) CreateState(ctx context.Context, s *model.PkceState) error {
	s.CreatedAt = time.Now().UTC()
	if r.db == nil {
		return r.files.Put("oauth_states", s.State, s)
	}
	const q = `INSERT INTO oauth_states (state, code_verifier, poll_token, return_to, origin, created_at)
		VALUES (?,?,?,?,?,?)`
	_, err := r.db.ExecContext(ctx, q, s.State, s.CodeVerifier, s.PollToken, s.ReturnTo, s.Origin, s.CreatedAt)
	return err
}

// GetState loads a pending PKCE row.  Returns ErrStateNotFound when the
// nonce is unknown (expired, forged, or already consumed).
func (r *OAuthStateRepo) GetState(ctx context.Context, state string) (*model.PkceState, error) {
	if r.db == nil {
		var s model.PkceState
		if err := r.files.Get("oauth_states", state, &s); err != nil {
			if errors.Is(err, filestore.ErrNotFound) {
				return nil, ErrStateNotFound
			}
			return nil, err
		}
		return &s, nil
	}
	const q = `SELECT state, code_verifier, poll_token, return_to, origin, created_at
		FROM oauth_states WHERE state = ? LIMIT 1`
	var s model.PkceState
	var returnTo sql.NullString
	err := r.db.QueryRowContext(ctx, q, state).Scan(
		&s.State, &s.CodeVerifier, &s.PollToken, &returnTo, &s.Origin, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}
	s.ReturnTo = returnTo.String
	return &s, nil
}

// ConsumeState atomically claims and removes a pending PKCE row.  Two
// concurrent callbacks carrying the same nonce cannot both succeed: in
// database mode the DELETE's affected-row count decides the winner, in
// file mode the store lock does.  Losers get ErrStateNotFound, same as
// a forged or expired nonce.
func (r *OAuthStateRepo) ConsumeState(ctx context.Context, state string) (*model.PkceState, error) {
	if r.db == nil {
		var s model.PkceState
		if err := r.files.Take("oauth_states", state, &s); err != nil {
			if errors.Is(err, filestore.ErrNotFound) {
				return nil, ErrStateNotFound
			}
			return nil, err
		}
		return &s, nil
	}
	s, err := r.GetState(ctx, state)
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE state = ?`, state)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// A concurrent consumer deleted the row between the read and
		// the delete; this caller loses.
		return nil, ErrStateNotFound
	}
	return s, nil
}

// SweepStates deletes PKCE rows created before the cutoff.  Abandoned
// authorization attempts would otherwise accumulate forever.  Returns
// the number of rows removed.
func (r *OAuthStateRepo) SweepStates(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.db == nil {
		keys, err := r.files.Keys("oauth_states")
		if err != nil {
			return 0, err
		}
		var n int64
		for _, k := range keys {
			var s model.PkceState
			if err := r.files.Get("oauth_states", k, &s); err != nil {
				continue
			}
			if s.CreatedAt.Before(cutoff) {
				if err := r.files.Delete("oauth_states", k); err == nil {
					n++
				}
			}
		}
		return n, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreatePoll registers an empty poll record for the pollable flow
// variant.
func (r *OAuthStateRepo) CreatePoll(ctx context.Context, pollToken string) error {
	rec := &model.OauthPollRecord{PollToken: pollToken, UpdatedAt: time.Now().UTC()}
	if r.db == nil {
		return r.files.Put("oauth_polls", pollToken, rec)
	}
	const q = `INSERT INTO oauth_polls (poll_token, user_token, user_id) VALUES (?, '', '')`
	_, err := r.db.ExecContext(ctx, q, pollToken)
	return err
}

// SetPollResult writes the callback outcome into the poll record.  The
// write is idempotent: repeating it with the same values is harmless.
func (r *OAuthStateRepo) SetPollResult(ctx context.Context, pollToken, userToken, userID string) error {
	if r.db == nil {
		rec := &model.OauthPollRecord{
			PollToken: pollToken, UserToken: userToken, UserID: userID,
			UpdatedAt: time.Now().UTC(),
		}
		return r.files.Put("oauth_polls", pollToken, rec)
	}
	const q = `UPDATE oauth_polls SET user_token = ?, user_id = ? WHERE poll_token = ?`
	_, err := r.db.ExecContext(ctx, q, userToken, userID, pollToken)
	return err
}

// GetPoll reads a poll record.  Returns ErrPollNotFound for unknown
// tokens; a record with an empty UserToken means the flow is still
// pending.
func (r *OAuthStateRepo) GetPoll(ctx context.Context, pollToken string) (*model.OauthPollRecord, error) {
	if r.db == nil {
		var rec model.OauthPollRecord
		if err := r.files.Get("oauth_polls", pollToken, &rec); err != nil {
			if errors.Is(err, filestore.ErrNotFound) {
				return nil, ErrPollNotFound
			}
			return nil, err
		}
		return &rec, nil
	}
	const q = `SELECT poll_token, user_token, user_id, updated_at FROM oauth_polls WHERE poll_token = ? LIMIT 1`
	var rec model.OauthPollRecord
	err := r.db.QueryRowContext(ctx, q, pollToken).Scan(&rec.PollToken, &rec.UserToken, &rec.UserID, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPollNotFound
		}
		return nil, err
	}
	return &rec, nil
}
