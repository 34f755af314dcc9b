// Package canva is the client for the external design platform: the
// OAuth token endpoints (authorization-code-with-PKCE and refresh), the
// identity lookup, and the asynchronous export-job API.
package canva

import "errors"

// ErrTokenExchange is returned when the authorization-code exchange is
// rejected upstream (non-2xx).  Handlers surface it as
// token_exchange_failed.
var ErrTokenExchange = errors.New("token exchange failed")

// ErrIdentityResolution is returned when the "who am I" call does not
// yield a usable user id.  Handlers surface it as
// identity_resolution_failed.
var ErrIdentityResolution = errors.New("identity resolution failed")

// ErrExportSubmit is returned when the export submission is rejected or
// returns no job id.  A poll that merely times out does NOT produce an
// error; see ExportDesign.
var ErrExportSubmit = errors.New("export submit failed")
