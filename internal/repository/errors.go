// Package repository defines the data-access layer and the sentinel
// error values reused across repositories.  These sentinels let the
// handlers distinguish business-rule rejections (which map to stable
// machine-readable reason codes) from infrastructure failures (which
// map to generic 500 responses and are safe to retry).
package repository

import "errors"

// ErrNoDatabase is returned by operations that require the relational
// store (transactions, row locking) when the service is running on the
// JSON file fallback.
var ErrNoDatabase = errors.New("operation requires the relational store")

// ErrUserNotFound is returned when no user record matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// ErrStateNotFound is returned when a state nonce has no pending PKCE
// row (expired, forged, or already consumed).
var ErrStateNotFound = errors.New("oauth state not found")

// ErrPollNotFound is returned when a poll token has no record.
var ErrPollNotFound = errors.New("oauth poll record not found")

// ErrInvalidCode is returned when a gift code does not exist.
var ErrInvalidCode = errors.New("invalid gift code")

// ErrCodeInactive is returned when a gift code has been deactivated.
var ErrCodeInactive = errors.New("gift code inactive")

// ErrCodeExhausted is returned when a gift code has reached max_uses.
var ErrCodeExhausted = errors.New("gift code exhausted")

// ErrAlreadyRedeemed is returned when the identity has already redeemed
// this code.
var ErrAlreadyRedeemed = errors.New("gift code already redeemed by user")

// ErrCodeExists is returned when provisioning a code that already
// exists.
var ErrCodeExists = errors.New("gift code already exists")
