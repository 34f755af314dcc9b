package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/envisionapp/envision-api/internal/model"
)

// GiftCodeRepo provides access to gift codes and their redemption
// ledger.  Redemption runs handler-side inside one transaction using
// the Tx methods below: the code row is locked for update first, then
// validated, then mutated, so two concurrent attempts serialize on the
// row lock and the second one observes the first one's writes.
type GiftCodeRepo struct {
	db *sql.DB
}

// NewGiftCodeRepo returns a GiftCodeRepo bound to the given database.
// The redemption engine has no file-store fallback: without row locking
// the exactly-once guarantee cannot hold.
func NewGiftCodeRepo(db *sql.DB) *GiftCodeRepo { return &GiftCodeRepo{db: db} }

// DB exposes the underlying handle for transaction control.
func (r *GiftCodeRepo) DB() *sql.DB { return r.db }

// Create provisions a new code.  Returns ErrCodeExists on duplicates.
func (r *GiftCodeRepo) Create(ctx context.Context, gc *model.GiftCode) error {
	if r.db == nil {
		return ErrNoDatabase
	}
	const q = `INSERT INTO gift_codes (code, plan_id, grant_days, max_uses, used_count, active)
		VALUES (?,?,?,?,0,?)`
	_, err := r.db.ExecContext(ctx, q, gc.Code, gc.PlanID, gc.GrantDays, gc.MaxUses, gc.Active)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "1062") {
		return ErrCodeExists
	}
	return err
}

// GetByCode loads a code without locking, for the admin read endpoint.
func (r *GiftCodeRepo) GetByCode(ctx context.Context, code string) (*model.GiftCode, error) {
	if r.db == nil {
		return nil, ErrNoDatabase
	}
	const q = `SELECT code, plan_id, grant_days, max_uses, used_count, active, created_at
		FROM gift_codes WHERE code = ? LIMIT 1`
	var gc model.GiftCode
	err := r.db.QueryRowContext(ctx, q, code).Scan(
		&gc.Code, &gc.PlanID, &gc.GrantDays, &gc.MaxUses, &gc.UsedCount, &gc.Active, &gc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	return &gc, nil
}

// Deactivate flips a code's active flag off.  Existing redemptions are
// unaffected; future attempts fail with code_inactive.
func (r *GiftCodeRepo) Deactivate(ctx context.Context, code string) error {
	if r.db == nil {
		return ErrNoDatabase
	}
	res, err := r.db.ExecContext(ctx, `UPDATE gift_codes SET active = 0 WHERE code = ?`, code)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrInvalidCode
	}
	return nil
}

// GetForUpdateTx loads the code row under an exclusive row lock.  The
// lock is held until the surrounding transaction commits or rolls back.
// Returns ErrInvalidCode when the code does not exist.
func (r *GiftCodeRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, code string) (*model.GiftCode, error) {
	const q = `SELECT code, plan_id, grant_days, max_uses, used_count, active, created_at
		FROM gift_codes WHERE code = ? FOR UPDATE`
	var gc model.GiftCode
	err := tx.QueryRowContext(ctx, q, code).Scan(
		&gc.Code, &gc.PlanID, &gc.GrantDays, &gc.MaxUses, &gc.UsedCount, &gc.Active, &gc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCode
		}
		return nil, err
	}
	return &gc, nil
}

// HasRedemptionTx reports whether the identity already redeemed the
// code, read inside the redemption transaction.
func (r *GiftCodeRepo) HasRedemptionTx(ctx context.Context, tx *sql.Tx, code, userID string) (bool, error) {
	const q = `SELECT 1 FROM gift_redemptions WHERE code = ? AND user_id = ? LIMIT 1`
	var one int
	err := tx.QueryRowContext(ctx, q, code, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ConsumeTx increments used_count and inserts the ledger row for the
// given identity.  Must run after GetForUpdateTx in the same
// transaction; the unique (code, user_id) key backstops the ledger even
// if a caller skips the HasRedemptionTx check.
func (r *GiftCodeRepo) ConsumeTx(ctx context.Context, tx *sql.Tx, code, userID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE gift_codes SET used_count = used_count + 1 WHERE code = ?`, code); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO gift_redemptions (code, user_id, redeemed_at) VALUES (?,?,?)`,
		code, userID, now)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "1062") {
		return ErrAlreadyRedeemed
	}
	return err
}

// Evaluate applies the redemption business rules to a locked code row.
// The check order is fixed: a missing code was already rejected by
// GetForUpdateTx, then inactive beats exhausted beats already-redeemed,
// so callers and clients see stable reason codes.
func Evaluate(gc *model.GiftCode, alreadyRedeemed bool) error {
	if !gc.Active {
		return ErrCodeInactive
	}
	if gc.UsedCount >= gc.MaxUses {
		return ErrCodeExhausted
	}
	if alreadyRedeemed {
		return ErrAlreadyRedeemed
	}
	return nil
}
