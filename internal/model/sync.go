package model

import "time"

// UserSettings holds the per-identity preferences pushed wholesale by
// the client on every sync.  Last write wins.
//
// Fields:
//  UserID       – owning identity id, primary key.
//  HomeTimezone – IANA timezone name the client considers home.
//  Gender       – demographic preference key used to select localized content.
//  UpdatedAt    – last upsert instant.
type UserSettings struct {
	UserID       string    // user_settings.user_id
	HomeTimezone string    // user_settings.home_timezone
	Gender       string    // user_settings.gender
	UpdatedAt    time.Time // user_settings.updated_at
}

// Board is one vision board document.  The document body is opaque to
// the server and replaced wholesale on every push (last write wins).
//
// Fields:
//  UserID    – owning identity id.
//  BoardID   – client-assigned board id; (UserID, BoardID) is the primary key.
//  BoardJSON – serialized board document.
//  UpdatedAt – last upsert instant.
type Board struct {
	UserID    string    // boards.user_id
	BoardID   string    // boards.board_id
	BoardJSON string    // boards.board_json
	UpdatedAt time.Time // boards.updated_at
}

// HabitCompletion is one dated habit log entry.  At most one row exists
// per (UserID, BoardID, ComponentID, HabitID, LogicalDate); a later push
// with the same key overwrites Rating and Note.
//
// Fields:
//  UserID      – owning identity id.
//  BoardID     – board the habit lives on.
//  ComponentID – board component the habit belongs to.
//  HabitID     – the habit itself.
//  LogicalDate – calendar date (YYYY-MM-DD, no time or zone) the completion is attributed to.
//  Rating      – optional numeric rating (nil when the client sent none).
//  Note        – optional free-text note.
//  UpdatedAt   – last upsert instant.
type HabitCompletion struct {
	UserID      string    // habit_completions.user_id
	BoardID     string    // habit_completions.board_id
	ComponentID string    // habit_completions.component_id
	HabitID     string    // habit_completions.habit_id
	LogicalDate string    // habit_completions.logical_date
	Rating      *float64  // habit_completions.rating (nullable)
	Note        string    // habit_completions.note
	UpdatedAt   time.Time // habit_completions.updated_at
}

// ChecklistEvent is one dated checklist log entry.  It follows the same
// upsert-by-natural-key rule as HabitCompletion with one extra key
// segment: (TaskID, ItemID) instead of HabitID.
type ChecklistEvent struct {
	UserID      string    // checklist_events.user_id
	BoardID     string    // checklist_events.board_id
	ComponentID string    // checklist_events.component_id
	TaskID      string    // checklist_events.task_id
	ItemID      string    // checklist_events.item_id
	LogicalDate string    // checklist_events.logical_date
	Rating      *float64  // checklist_events.rating (nullable)
	Note        string    // checklist_events.note
	UpdatedAt   time.Time // checklist_events.updated_at
}
