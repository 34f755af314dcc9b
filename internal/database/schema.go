package database

import (
	"context"
	"database/sql"
)

// schema lists the DDL statements run at startup.  Every statement is
// idempotent (CREATE TABLE IF NOT EXISTS) so repeated boots are safe.
// Column types mirror the logical schema: identity ids and tokens are
// opaque strings, dated logs key on their full natural tuple including
// the logical calendar date.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id               VARCHAR(64)  NOT NULL,
		team_id          VARCHAR(64)  NOT NULL DEFAULT '',
		user_token       VARCHAR(128) NOT NULL,
		is_guest         TINYINT(1)   NOT NULL DEFAULT 0,
		guest_expires_at DATETIME     NULL,
		access_token     TEXT         NULL,
		refresh_token    TEXT         NULL,
		token_type       VARCHAR(32)  NOT NULL DEFAULT '',
		scope            TEXT         NULL,
		expires_in       BIGINT       NOT NULL DEFAULT 0,
		obtained_at      DATETIME     NULL,
		habits           JSON         NULL,
		packages         JSON         NULL,
		plan_id          VARCHAR(64)  NOT NULL DEFAULT '',
		plan_active      TINYINT(1)   NOT NULL DEFAULT 0,
		plan_source      VARCHAR(32)  NOT NULL DEFAULT '',
		plan_updated_at  DATETIME     NULL,
		created_at       DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at       DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		UNIQUE KEY uq_users_user_token (user_token)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS oauth_states (
		state         VARCHAR(128) NOT NULL,
		code_verifier VARCHAR(128) NOT NULL,
		poll_token    VARCHAR(128) NOT NULL DEFAULT '',
		return_to     TEXT         NULL,
		origin        VARCHAR(255) NOT NULL DEFAULT '',
		created_at    DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (state)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS oauth_polls (
		poll_token VARCHAR(128) NOT NULL,
		user_token VARCHAR(128) NOT NULL DEFAULT '',
		user_id    VARCHAR(64)  NOT NULL DEFAULT '',
		updated_at DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (poll_token)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS gift_codes (
		code       VARCHAR(64) NOT NULL,
		plan_id    VARCHAR(64) NOT NULL,
		grant_days INT         NOT NULL DEFAULT 365,
		max_uses   INT         NOT NULL DEFAULT 1,
		used_count INT         NOT NULL DEFAULT 0,
		active     TINYINT(1)  NOT NULL DEFAULT 1,
		created_at DATETIME    NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (code)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS gift_redemptions (
		code        VARCHAR(64) NOT NULL,
		user_id     VARCHAR(64) NOT NULL,
		redeemed_at DATETIME    NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (code, user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS user_settings (
		user_id       VARCHAR(64) NOT NULL,
		home_timezone VARCHAR(64) NOT NULL DEFAULT '',
		gender        VARCHAR(32) NOT NULL DEFAULT '',
		updated_at    DATETIME    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS boards (
		user_id    VARCHAR(64)  NOT NULL,
		board_id   VARCHAR(64)  NOT NULL,
		board_json JSON         NOT NULL,
		updated_at DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, board_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS habit_completions (
		user_id      VARCHAR(64) NOT NULL,
		board_id     VARCHAR(64) NOT NULL,
		component_id VARCHAR(64) NOT NULL,
		habit_id     VARCHAR(64) NOT NULL,
		logical_date CHAR(10)    NOT NULL,
		rating       DOUBLE      NULL,
		note         TEXT        NULL,
		updated_at   DATETIME    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, board_id, component_id, habit_id, logical_date),
		KEY idx_habit_completions_date (user_id, logical_date)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS checklist_events (
		user_id      VARCHAR(64) NOT NULL,
		board_id     VARCHAR(64) NOT NULL,
		component_id VARCHAR(64) NOT NULL,
		task_id      VARCHAR(64) NOT NULL,
		item_id      VARCHAR(64) NOT NULL,
		logical_date CHAR(10)    NOT NULL,
		rating       DOUBLE      NULL,
		note         TEXT        NULL,
		updated_at   DATETIME    NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, board_id, component_id, task_id, item_id, logical_date),
		KEY idx_checklist_events_date (user_id, logical_date)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// EnsureSchema creates any missing tables.  It is called once at boot,
// right after Open succeeds.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
