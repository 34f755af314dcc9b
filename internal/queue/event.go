// Package queue defines message payloads exchanged over the message broker.
package queue

// SyncPushedEvent is published after a sync push commits.  Downstream
// consumers (home-screen widget refresh, analytics) get enough context
// to act without querying the primary database.
type SyncPushedEvent struct {
	UserID           string `json:"user_id"`
	Boards           int    `json:"boards"`
	HabitCompletions int    `json:"habit_completions"`
	ChecklistEvents  int    `json:"checklist_events"`
	PushedAt         string `json:"pushed_at"`
}

// GiftRedeemedEvent is published after a gift-code redemption commits.
type GiftRedeemedEvent struct {
	Code       string `json:"code"`
	UserID     string `json:"user_id"`
	PlanID     string `json:"plan_id"`
	GrantDays  int    `json:"grant_days"`
	RedeemedAt string `json:"redeemed_at"`
}

// Queue names.  Both queues are declared durable by publisher and
// consumer alike, so declaration order does not matter.
const (
	SyncPushedQueue   = "sync.pushed"
	GiftRedeemedQueue = "gift.redeemed"
)
