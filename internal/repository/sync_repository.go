package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/envisionapp/envision-api/internal/model"
)

// SyncRepo provides access to the sync protocol's durable rows:
// settings, boards and the two dated log tables.  All mutations are
// idempotent upserts or deletes keyed by natural unique tuples, which
// is what makes a whole push batch safe to retry after a failure.
type SyncRepo struct {
	db *sql.DB
}

// NewSyncRepo returns a SyncRepo bound to the given database.  Sync has
// no file-store fallback: the push batch must commit atomically.
func NewSyncRepo(db *sql.DB) *SyncRepo { return &SyncRepo{db: db} }

// DB exposes the underlying handle for transaction control.  Nil when
// the service runs on the file store.
func (r *SyncRepo) DB() *sql.DB { return r.db }

// GetSettings returns the stored settings for an identity, or zero
// values when none were pushed yet.
func (r *SyncRepo) GetSettings(ctx context.Context, userID string) (*model.UserSettings, error) {
	if r.db == nil {
		return nil, ErrNoDatabase
	}
	const q = `SELECT user_id, home_timezone, gender, updated_at FROM user_settings WHERE user_id = ? LIMIT 1`
	var s model.UserSettings
	err := r.db.QueryRowContext(ctx, q, userID).Scan(&s.UserID, &s.HomeTimezone, &s.Gender, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &model.UserSettings{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSettingsTx replaces the identity's settings wholesale.
func (r *SyncRepo) UpsertSettingsTx(ctx context.Context, tx *sql.Tx, s *model.UserSettings) error {
	const q = `INSERT INTO user_settings (user_id, home_timezone, gender) VALUES (?,?,?)
		ON DUPLICATE KEY UPDATE home_timezone = VALUES(home_timezone), gender = VALUES(gender)`
	_, err := tx.ExecContext(ctx, q, s.UserID, s.HomeTimezone, s.Gender)
	return err
}

// ListBoards returns all boards for an identity, most recently updated
// first.
func (r *SyncRepo) ListBoards(ctx context.Context, userID string) ([]model.Board, error) {
	if r.db == nil {
		return nil, ErrNoDatabase
	}
	const q = `SELECT user_id, board_id, board_json, updated_at FROM boards
		WHERE user_id = ? ORDER BY updated_at DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	boards := make([]model.Board, 0)
	for rows.Next() {
		var b model.Board
		if err := rows.Scan(&b.UserID, &b.BoardID, &b.BoardJSON, &b.UpdatedAt); err != nil {
			return nil, err
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// UpsertBoardTx replaces a board document wholesale (last write wins).
func (r *SyncRepo) UpsertBoardTx(ctx context.Context, tx *sql.Tx, b *model.Board) error {
	const q = `INSERT INTO boards (user_id, board_id, board_json) VALUES (?,?,?)
		ON DUPLICATE KEY UPDATE board_json = VALUES(board_json), updated_at = CURRENT_TIMESTAMP`
	_, err := tx.ExecContext(ctx, q, b.UserID, b.BoardID, b.BoardJSON)
	return err
}

// UpsertHabitCompletionTx writes one habit log entry by its full
// natural key, overwriting rating and note on repeat pushes.
func (r *SyncRepo) UpsertHabitCompletionTx(ctx context.Context, tx *sql.Tx, hc *model.HabitCompletion) error {
	const q = `INSERT INTO habit_completions
		(user_id, board_id, component_id, habit_id, logical_date, rating, note)
		VALUES (?,?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE rating = VALUES(rating), note = VALUES(note), updated_at = CURRENT_TIMESTAMP`
	_, err := tx.ExecContext(ctx, q,
		hc.UserID, hc.BoardID, hc.ComponentID, hc.HabitID, hc.LogicalDate, nullFloat(hc.Rating), hc.Note)
	return err
}

// DeleteHabitCompletionTx removes the entry matching the full key.
// Deleting an absent row is a no-op, keeping the batch idempotent.
func (r *SyncRepo) DeleteHabitCompletionTx(ctx context.Context, tx *sql.Tx, hc *model.HabitCompletion) error {
	const q = `DELETE FROM habit_completions
		WHERE user_id = ? AND board_id = ? AND component_id = ? AND habit_id = ? AND logical_date = ?`
	_, err := tx.ExecContext(ctx, q, hc.UserID, hc.BoardID, hc.ComponentID, hc.HabitID, hc.LogicalDate)
	return err
}

// ListHabitCompletionsSince returns entries dated on or after the
// cutoff (YYYY-MM-DD), newest first.
func (r *SyncRepo) ListHabitCompletionsSince(ctx context.Context, userID, cutoff string) ([]model.HabitCompletion, error) {
	if r.db == nil {
		return nil, ErrNoDatabase
	}
	const q = `SELECT user_id, board_id, component_id, habit_id, logical_date, rating, note, updated_at
		FROM habit_completions WHERE user_id = ? AND logical_date >= ?
		ORDER BY logical_date DESC`
	rows, err := r.db.QueryContext(ctx, q, userID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.HabitCompletion, 0)
	for rows.Next() {
		var (
			hc     model.HabitCompletion
			rating sql.NullFloat64
			note   sql.NullString
		)
		if err := rows.Scan(&hc.UserID, &hc.BoardID, &hc.ComponentID, &hc.HabitID,
			&hc.LogicalDate, &rating, &note, &hc.UpdatedAt); err != nil {
			return nil, err
		}
		if rating.Valid {
			v := rating.Float64
			hc.Rating = &v
		}
		hc.Note = note.String
		out = append(out, hc)
	}
	return out, rows.Err()
}

// UpsertChecklistEventTx writes one checklist log entry by its full
// natural key (task id + item id instead of habit id).
func (r *SyncRepo) UpsertChecklistEventTx(ctx context.Context, tx *sql.Tx, ce *model.ChecklistEvent) error {
	const q = `INSERT INTO checklist_events
		(user_id, board_id, component_id, task_id, item_id, logical_date, rating, note)
		VALUES (?,?,?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE rating = VALUES(rating), note = VALUES(note), updated_at = CURRENT_TIMESTAMP`
	_, err := tx.ExecContext(ctx, q,
		ce.UserID, ce.BoardID, ce.ComponentID, ce.TaskID, ce.ItemID, ce.LogicalDate, nullFloat(ce.Rating), ce.Note)
	return err
}

// DeleteChecklistEventTx removes the entry matching the full key.
func (r *SyncRepo) DeleteChecklistEventTx(ctx context.Context, tx *sql.Tx, ce *model.ChecklistEvent) error {
	const q = `DELETE FROM checklist_events
		WHERE user_id = ? AND board_id = ? AND component_id = ? AND task_id = ? AND item_id = ? AND logical_date = ?`
	_, err := tx.ExecContext(ctx, q, ce.UserID, ce.BoardID, ce.ComponentID, ce.TaskID, ce.ItemID, ce.LogicalDate)
	return err
}

// ListChecklistEventsSince returns entries dated on or after the cutoff
// (YYYY-MM-DD), newest first.
func (r *SyncRepo) ListChecklistEventsSince(ctx context.Context, userID, cutoff string) ([]model.ChecklistEvent, error) {
	if r.db == nil {
		return nil, ErrNoDatabase
	}
	const q = `SELECT user_id, board_id, component_id, task_id, item_id, logical_date, rating, note, updated_at
		FROM checklist_events WHERE user_id = ? AND logical_date >= ?
		ORDER BY logical_date DESC`
	rows, err := r.db.QueryContext(ctx, q, userID, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.ChecklistEvent, 0)
	for rows.Next() {
		var (
			ce     model.ChecklistEvent
			rating sql.NullFloat64
			note   sql.NullString
		)
		if err := rows.Scan(&ce.UserID, &ce.BoardID, &ce.ComponentID, &ce.TaskID, &ce.ItemID,
			&ce.LogicalDate, &rating, &note, &ce.UpdatedAt); err != nil {
			return nil, err
		}
		if rating.Valid {
			v := rating.Float64
			ce.Rating = &v
		}
		ce.Note = note.String
		out = append(out, ce)
	}
	return out, rows.Err()
}

// PruneTx deletes log rows dated before the cutoff for one identity,
// inside an existing transaction (used at the end of a push).
func (r *SyncRepo) PruneTx(ctx context.Context, tx *sql.Tx, userID, cutoff string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM habit_completions WHERE user_id = ? AND logical_date < ?`, userID, cutoff); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`DELETE FROM checklist_events WHERE user_id = ? AND logical_date < ?`, userID, cutoff)
	return err
}

// Prune is the non-transactional variant run as a bootstrap side
// effect.  Both deletes are individually idempotent, so cross-statement
// atomicity buys nothing here.
func (r *SyncRepo) Prune(ctx context.Context, userID, cutoff string) error {
	if r.db == nil {
		return ErrNoDatabase
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM habit_completions WHERE user_id = ? AND logical_date < ?`, userID, cutoff); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM checklist_events WHERE user_id = ? AND logical_date < ?`, userID, cutoff)
	return err
}

// RetentionCutoff formats the oldest logical date still retained given
// a window in days.  Logical dates are compared lexicographically,
// which is safe for the fixed YYYY-MM-DD format.
func RetentionCutoff(now time.Time, retainDays int) string {
	return now.UTC().AddDate(0, 0, -retainDays).Format("2006-01-02")
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
