package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/envisionapp/envision-api/internal/middleware"
	"github.com/envisionapp/envision-api/internal/model"
	"github.com/envisionapp/envision-api/internal/queue"
	"github.com/envisionapp/envision-api/internal/repository"
	queue_publisher "github.com/envisionapp/envision-api/internal/service"
)

// logicalDatePattern is the only accepted shape for a logical date.
// Dates are stored and compared as plain strings, so anything looser
// (timestamps, single-digit months) would corrupt range queries.
var logicalDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// SyncHandler implements the push/bootstrap sync protocol.  Every push
// mutation is an idempotent upsert or delete keyed by a natural tuple,
// so clients retry whole batches after a network failure without
// duplicating anything.
type SyncHandler struct {
	Sync       *repository.SyncRepo
	RetainDays int
}

// NewSyncHandler constructs a SyncHandler.
func NewSyncHandler(sync *repository.SyncRepo, retainDays int) *SyncHandler {
	if sync == nil {
		panic("nil sync repository passed to NewSyncHandler")
	}
	return &SyncHandler{Sync: sync, RetainDays: retainDays}
}

// boardDTO is the wire shape of one board document.
type boardDTO struct {
	BoardID   string          `json:"board_id"`
	BoardJSON json.RawMessage `json:"board_json"`
	UpdatedAt time.Time       `json:"updated_at,omitzero"`
	Deleted   bool            `json:"deleted,omitempty"`
}

// habitEntryDTO is the wire shape of one habit log entry.
type habitEntryDTO struct {
	BoardID     string    `json:"board_id"`
	ComponentID string    `json:"component_id"`
	HabitID     string    `json:"habit_id"`
	LogicalDate string    `json:"logical_date"`
	Rating      *float64  `json:"rating,omitempty"`
	Note        string    `json:"note,omitempty"`
	Deleted     bool      `json:"deleted,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// checklistEntryDTO is the wire shape of one checklist log entry.
type checklistEntryDTO struct {
	BoardID     string    `json:"board_id"`
	ComponentID string    `json:"component_id"`
	TaskID      string    `json:"task_id"`
	ItemID      string    `json:"item_id"`
	LogicalDate string    `json:"logical_date"`
	Rating      *float64  `json:"rating,omitempty"`
	Note        string    `json:"note,omitempty"`
	Deleted     bool      `json:"deleted,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitzero"`
}

// pushRequest is the full push batch.  Every section is optional; an
// absent settings object leaves stored settings untouched.
type pushRequest struct {
	Settings *struct {
		HomeTimezone string `json:"home_timezone"`
		Gender       string `json:"gender"`
	} `json:"user_settings"`
	Boards           []boardDTO          `json:"boards"`
	HabitCompletions []habitEntryDTO     `json:"habit_completions"`
	ChecklistEvents  []checklistEntryDTO `json:"checklist_events"`
}

// Bootstrap handles GET /v1/sync/bootstrap.  It prunes log entries
// outside the retention window first, then returns the identity's full
// durable state: settings, boards and both dated logs newest-first,
// plus the retention window so the client can mirror the pruning
// locally.
func (h *SyncHandler) Bootstrap(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_auth"})
	}
	if h.Sync.DB() == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "sync requires database storage"})
	}
	ctx := c.Request().Context()
	cutoff := repository.RetentionCutoff(time.Now(), h.RetainDays)

	if err := h.Sync.Prune(ctx, userID, cutoff); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	settings, err := h.Sync.GetSettings(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	boards, err := h.Sync.ListBoards(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	habits, err := h.Sync.ListHabitCompletionsSince(ctx, userID, cutoff)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	checklists, err := h.Sync.ListChecklistEventsSince(ctx, userID, cutoff)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	boardsOut := make([]boardDTO, 0, len(boards))
	for _, b := range boards {
		boardsOut = append(boardsOut, boardDTO{
			BoardID:   b.BoardID,
			BoardJSON: json.RawMessage(b.BoardJSON),
			UpdatedAt: b.UpdatedAt,
		})
	}
	habitsOut := make([]habitEntryDTO, 0, len(habits))
	for _, e := range habits {
		habitsOut = append(habitsOut, habitEntryDTO{
			BoardID:     e.BoardID,
			ComponentID: e.ComponentID,
			HabitID:     e.HabitID,
			LogicalDate: e.LogicalDate,
			Rating:      e.Rating,
			Note:        e.Note,
			UpdatedAt:   e.UpdatedAt,
		})
	}
	checklistsOut := make([]checklistEntryDTO, 0, len(checklists))
	for _, e := range checklists {
		checklistsOut = append(checklistsOut, checklistEntryDTO{
			BoardID:     e.BoardID,
			ComponentID: e.ComponentID,
			TaskID:      e.TaskID,
			ItemID:      e.ItemID,
			LogicalDate: e.LogicalDate,
			Rating:      e.Rating,
			Note:        e.Note,
			UpdatedAt:   e.UpdatedAt,
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"home_timezone":     settings.HomeTimezone,
		"gender":            settings.Gender,
		"boards":            boardsOut,
		"habit_completions": habitsOut,
		"checklist_events":  checklistsOut,
		"retain_days":       h.RetainDays,
	})
}

// Push handles POST /v1/sync/push.  The whole batch is applied inside
// one transaction: settings are replaced wholesale, boards with a
// non-empty id are upserted last-write-wins, and log entries are
// upserted or deleted by their full natural keys.  Entries that fail
// validation are skipped, not rejected: a client with one corrupt row
// must not be locked out of syncing everything else.  The transaction
// ends with a retention delete, so a push also keeps the tables
// bounded.
func (h *SyncHandler) Push(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid_auth"})
	}
	if h.Sync.DB() == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "sync requires database storage"})
	}
	var body pushRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	ctx := c.Request().Context()
	tx, err := h.Sync.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	skipped := 0
	if body.Settings != nil {
		s := &model.UserSettings{
			UserID:       userID,
			HomeTimezone: body.Settings.HomeTimezone,
			Gender:       body.Settings.Gender,
		}
		if err := h.Sync.UpsertSettingsTx(ctx, tx, s); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
	}

	boardsApplied := 0
	for _, b := range body.Boards {
		if b.BoardID == "" || len(b.BoardJSON) == 0 {
			skipped++
			continue
		}
		rec := &model.Board{UserID: userID, BoardID: b.BoardID, BoardJSON: string(b.BoardJSON)}
		if err := h.Sync.UpsertBoardTx(ctx, tx, rec); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		boardsApplied++
	}

	habitsApplied := 0
	for _, e := range body.HabitCompletions {
		if e.BoardID == "" || e.ComponentID == "" || e.HabitID == "" || !validLogicalDate(e.LogicalDate) {
			skipped++
			continue
		}
		rec := &model.HabitCompletion{
			UserID: userID, BoardID: e.BoardID, ComponentID: e.ComponentID,
			HabitID: e.HabitID, LogicalDate: e.LogicalDate, Rating: e.Rating, Note: e.Note,
		}
		if e.Deleted {
			err = h.Sync.DeleteHabitCompletionTx(ctx, tx, rec)
		} else {
			err = h.Sync.UpsertHabitCompletionTx(ctx, tx, rec)
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		habitsApplied++
	}

	checklistsApplied := 0
	for _, e := range body.ChecklistEvents {
		if e.BoardID == "" || e.ComponentID == "" || e.TaskID == "" || e.ItemID == "" || !validLogicalDate(e.LogicalDate) {
			skipped++
			continue
		}
		rec := &model.ChecklistEvent{
			UserID: userID, BoardID: e.BoardID, ComponentID: e.ComponentID,
			TaskID: e.TaskID, ItemID: e.ItemID, LogicalDate: e.LogicalDate, Rating: e.Rating, Note: e.Note,
		}
		if e.Deleted {
			err = h.Sync.DeleteChecklistEventTx(ctx, tx, rec)
		} else {
			err = h.Sync.UpsertChecklistEventTx(ctx, tx, rec)
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		checklistsApplied++
	}

	cutoff := repository.RetentionCutoff(time.Now(), h.RetainDays)
	if err := h.Sync.PruneTx(ctx, tx, userID, cutoff); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true

	ev := queue.SyncPushedEvent{
		UserID:           userID,
		Boards:           boardsApplied,
		HabitCompletions: habitsApplied,
		ChecklistEvents:  checklistsApplied,
		PushedAt:         time.Now().UTC().Format(time.RFC3339),
	}
	go func() {
		if err := queue_publisher.PublishSyncPushed(context.Background(), ev); err != nil {
			log.Warn().Err(err).Str("user_id", ev.UserID).Msg("sync.pushed publish failed")
		}
	}()

	return c.JSON(http.StatusOK, echo.Map{
		"ok":                true,
		"boards":            boardsApplied,
		"habit_completions": habitsApplied,
		"checklist_events":  checklistsApplied,
		"skipped":           skipped,
	})
}

// validLogicalDate accepts exactly YYYY-MM-DD and only real calendar
// dates; "2024-13-40" matches the pattern but fails the parse.
func validLogicalDate(s string) bool {
	if !logicalDatePattern.MatchString(s) {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
