package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/envisionapp/envision-api/internal/database"
	"github.com/envisionapp/envision-api/internal/model"
	"github.com/envisionapp/envision-api/internal/repository"
)

// The tests below run the transactional endpoints against a real MySQL
// instance.  They are opt-in: set ENVISION_TEST_MYSQL_DSN to something
// like "root:secret@tcp(127.0.0.1:3306)/envision_test?parseTime=true"
// to enable them; without it they skip so plain unit runs stay
// self-contained.  Every test works on identities and codes minted per
// run, so a shared database stays usable.

func mustOpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("ENVISION_TEST_MYSQL_DSN"))
	if dsn == "" {
		t.Skip("integration test skipped: ENVISION_TEST_MYSQL_DSN is not set")
	}
	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		t.Skipf("integration test skipped: MySQL unreachable: %v", err)
	}
	require.NoError(t, database.EnsureSchema(ctx, db))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// seedDBUser inserts a fresh identity and registers row cleanup for it
// across every table keyed by user id.
func seedDBUser(t *testing.T, db *sql.DB, users *repository.UserRepo) string {
	t.Helper()
	id := "it-user-" + uuid.NewString()
	require.NoError(t, users.Upsert(context.Background(), &model.User{
		ID:        id,
		UserToken: "it-tok-" + uuid.NewString(),
	}))
	t.Cleanup(func() {
		for _, table := range []string{
			"habit_completions", "checklist_events", "boards",
			"user_settings", "gift_redemptions", "users",
		} {
			_, _ = db.Exec("DELETE FROM "+table+" WHERE "+userKeyColumn(table)+" = ?", id)
		}
	})
	return id
}

func userKeyColumn(table string) string {
	if table == "users" {
		return "id"
	}
	return "user_id"
}

// jsonCtx builds an echo context carrying a JSON body and the resolved
// identity, the way the user-auth middleware leaves it.
func jsonCtx(t *testing.T, method, path, body, userID string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("user_id", userID)
	return c, rec
}

type bootstrapResponse struct {
	HomeTimezone     string              `json:"home_timezone"`
	Gender           string              `json:"gender"`
	Boards           []boardDTO          `json:"boards"`
	HabitCompletions []habitEntryDTO     `json:"habit_completions"`
	ChecklistEvents  []checklistEntryDTO `json:"checklist_events"`
	RetainDays       int                 `json:"retain_days"`
}

func doBootstrap(t *testing.T, h *SyncHandler, userID string) bootstrapResponse {
	t.Helper()
	c, rec := jsonCtx(t, http.MethodGet, "/v1/sync/bootstrap", "", userID)
	require.NoError(t, h.Bootstrap(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var out bootstrapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func doPush(t *testing.T, h *SyncHandler, userID, body string) map[string]any {
	t.Helper()
	c, rec := jsonCtx(t, http.MethodPost, "/v1/sync/push", body, userID)
	require.NoError(t, h.Push(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, true, out["ok"])
	return out
}

func TestSyncPush_Integration_IdempotentThenDelete(t *testing.T) {
	db := mustOpenTestDB(t)
	users := repository.NewUserRepo(db, nil)
	h := NewSyncHandler(repository.NewSyncRepo(db), 90)
	userID := seedDBUser(t, db, users)

	today := time.Now().UTC().Format("2006-01-02")
	batch := fmt.Sprintf(`{
		"user_settings": {"home_timezone": "Europe/Berlin", "gender": "f"},
		"boards": [{"board_id": "board-1", "board_json": {"title": "My 2026 vision"}}],
		"habit_completions": [{
			"board_id": "board-1", "component_id": "comp-1", "habit_id": "habit-1",
			"logical_date": %q, "rating": 5, "note": "felt great"
		}]
	}`, today)

	// The same batch applied twice must land on identical state: every
	// mutation is an upsert or delete on a natural key.
	first := doPush(t, h, userID, batch)
	second := doPush(t, h, userID, batch)
	assert.Equal(t, first["boards"], second["boards"])
	assert.Equal(t, first["habit_completions"], second["habit_completions"])

	out := doBootstrap(t, h, userID)
	assert.Equal(t, "Europe/Berlin", out.HomeTimezone)
	require.Len(t, out.Boards, 1)
	assert.Equal(t, "board-1", out.Boards[0].BoardID)
	assert.JSONEq(t, `{"title": "My 2026 vision"}`, string(out.Boards[0].BoardJSON))
	require.Len(t, out.HabitCompletions, 1)
	assert.Equal(t, "habit-1", out.HabitCompletions[0].HabitID)
	require.NotNil(t, out.HabitCompletions[0].Rating)
	assert.Equal(t, 5.0, *out.HabitCompletions[0].Rating)
	assert.Equal(t, "felt great", out.HabitCompletions[0].Note)

	// Deleting by the same natural key removes the entry; the board is
	// untouched.
	doPush(t, h, userID, fmt.Sprintf(`{"habit_completions": [{
		"board_id": "board-1", "component_id": "comp-1", "habit_id": "habit-1",
		"logical_date": %q, "deleted": true
	}]}`, today))

	out = doBootstrap(t, h, userID)
	assert.Empty(t, out.HabitCompletions)
	assert.Len(t, out.Boards, 1)
}

func TestSyncPush_Integration_RetentionPrunesOldEntries(t *testing.T) {
	db := mustOpenTestDB(t)
	users := repository.NewUserRepo(db, nil)
	h := NewSyncHandler(repository.NewSyncRepo(db), 90)
	userID := seedDBUser(t, db, users)

	recent := time.Now().UTC().Format("2006-01-02")
	doPush(t, h, userID, fmt.Sprintf(`{"habit_completions": [
		{"board_id": "b", "component_id": "c", "habit_id": "h", "logical_date": %q},
		{"board_id": "b", "component_id": "c", "habit_id": "h", "logical_date": "2001-02-03"}
	], "checklist_events": [
		{"board_id": "b", "component_id": "c", "task_id": "t", "item_id": "i", "logical_date": "2001-02-03"}
	]}`, recent))

	// The push transaction ends with a retention delete, so entries
	// outside the window never survive to a bootstrap.
	out := doBootstrap(t, h, userID)
	require.Len(t, out.HabitCompletions, 1)
	assert.Equal(t, recent, out.HabitCompletions[0].LogicalDate)
	assert.Empty(t, out.ChecklistEvents)
	assert.Equal(t, 90, out.RetainDays)
}

// seedGiftCode provisions a code for this run and cleans it up.
func seedGiftCode(t *testing.T, db *sql.DB, codes *repository.GiftCodeRepo, maxUses int) string {
	t.Helper()
	code := "IT-" + strings.ToUpper(uuid.NewString()[:18])
	require.NoError(t, codes.Create(context.Background(), &model.GiftCode{
		Code: code, PlanID: "pro_yearly", GrantDays: 365, MaxUses: maxUses, Active: true,
	}))
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM gift_redemptions WHERE code = ?", code)
		_, _ = db.Exec("DELETE FROM gift_codes WHERE code = ?", code)
	})
	return code
}

func doRedeem(t *testing.T, h *GiftHandler, userID, code string) map[string]any {
	t.Helper()
	c, rec := jsonCtx(t, http.MethodPost, "/v1/gift/redeem", fmt.Sprintf(`{"code": %q}`, code), userID)
	require.NoError(t, h.Redeem(c))
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGiftRedeem_Integration_ExactlyOnceUnderConcurrency(t *testing.T) {
	db := mustOpenTestDB(t)
	users := repository.NewUserRepo(db, nil)
	codes := repository.NewGiftCodeRepo(db)
	h := NewGiftHandler(codes, users)
	userID := seedDBUser(t, db, users)
	code := seedGiftCode(t, db, codes, 1)

	// Concurrent attempts by the same identity on a single-use code
	// serialize on the row lock; exactly one commits.  Assertions stay
	// on the test goroutine, the workers only collect responses.
	const attempts = 6
	results := make([]map[string]any, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/v1/gift/redeem",
				strings.NewReader(fmt.Sprintf(`{"code": %q}`, code)))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.Set("user_id", userID)
			if errs[i] = h.Redeem(c); errs[i] != nil {
				return
			}
			errs[i] = json.Unmarshal(rec.Body.Bytes(), &results[i])
		}(i)
	}
	wg.Wait()

	successes := 0
	for i, out := range results {
		require.NoError(t, errs[i])
		if out["ok"] == true {
			successes++
			assert.Equal(t, "pro_yearly", out["plan_id"])
			assert.Equal(t, 365.0, out["grant_days"])
			continue
		}
		assert.Contains(t, []any{"already_redeemed", "code_exhausted"}, out["error"])
	}
	assert.Equal(t, 1, successes)

	gc, err := codes.GetByCode(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, 1, gc.UsedCount)

	u, err := users.GetByID(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, u.PlanActive)
	assert.Equal(t, "pro_yearly", u.PlanID)
	assert.Equal(t, "gift_code", u.PlanSource)
}

func TestGiftRedeem_Integration_Exhaustion(t *testing.T) {
	db := mustOpenTestDB(t)
	users := repository.NewUserRepo(db, nil)
	codes := repository.NewGiftCodeRepo(db)
	h := NewGiftHandler(codes, users)
	code := seedGiftCode(t, db, codes, 2)

	first := seedDBUser(t, db, users)
	second := seedDBUser(t, db, users)
	third := seedDBUser(t, db, users)

	assert.Equal(t, true, doRedeem(t, h, first, code)["ok"])
	// Repeat by the same identity is rejected without burning a use.
	assert.Equal(t, "already_redeemed", doRedeem(t, h, first, code)["error"])
	assert.Equal(t, true, doRedeem(t, h, second, code)["ok"])
	assert.Equal(t, "code_exhausted", doRedeem(t, h, third, code)["error"])

	gc, err := codes.GetByCode(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, 2, gc.UsedCount)
}
