package model

import "time"

// PkceState is the ephemeral server-side half of one in-flight OAuth
// attempt.  The state nonce is single use: the callback consumes the
// row atomically before doing any exchange work, so at most one
// callback per nonce can proceed.
//
// Fields:
//  State        – random state nonce, primary key.
//  CodeVerifier – PKCE code verifier matching the challenge sent upstream.
//  PollToken    – poll token registered for the pollable flow variant ("" otherwise).
//  ReturnTo     – optional deep link to redirect to after the callback.
//  Origin       – optional opener origin for the postMessage completion page.
//  CreatedAt    – when the authorization URL was issued; stale rows are swept.
type PkceState struct {
	State        string    // oauth_states.state
	CodeVerifier string    // oauth_states.code_verifier
	PollToken    string    // oauth_states.poll_token
	ReturnTo     string    // oauth_states.return_to
	Origin       string    // oauth_states.origin
	CreatedAt    time.Time // oauth_states.created_at
}

// OauthPollRecord bridges a client that cannot receive a popup
// postMessage.  The callback writes the result once; the client reads
// it repeatedly (idempotently) until UserToken is non-empty.
//
// Fields:
//  PollToken – random poll token, primary key.
//  UserToken – resulting session token ("" until the callback completes).
//  UserID    – resulting identity id ("" until the callback completes).
//  UpdatedAt – last write instant.
type OauthPollRecord struct {
	PollToken string    // oauth_polls.poll_token
	UserToken string    // oauth_polls.user_token
	UserID    string    // oauth_polls.user_id
	UpdatedAt time.Time // oauth_polls.updated_at
}
