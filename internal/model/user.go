package model

import "time"

// User represents an authenticated identity as stored in the `users`
// table.  An identity is either a Canva account (created on the first
// OAuth callback) or a guest (created without OAuth, time-limited).
// The json tags are omitted here because these structs are primarily
// used internally by the repository layer; handlers define separate
// response types with appropriate JSON tags.
//
// Fields:
//  ID             – external identity id (Canva user id or generated guest id), primary key.
//  TeamID         – optional Canva team/organization id.
//  UserToken      – opaque internal session token, unique across all users.
//  IsGuest        – whether this identity was created without OAuth.
//  GuestExpiresAt – when a guest identity stops authenticating (nil for connected users).
//  Token          – provider token bundle (zero-valued when not connected).
//  Habits         – loosely structured per-user habit references, stored as JSON.
//  Packages       – generated package documents (import artifacts), stored as JSON.
//  PlanID         – active subscription plan identifier ("" when none).
//  PlanActive     – whether the subscription is currently active.
//  PlanSource     – how the plan was granted (e.g. "gift_code").
//  PlanUpdatedAt  – when the subscription fields last changed.
//  CreatedAt      – timestamp of creation.
//  UpdatedAt      – timestamp of last update.
type User struct {
	ID             string     // users.id
	TeamID         string     // users.team_id
	UserToken      string     // users.user_token
	IsGuest        bool       // users.is_guest
	GuestExpiresAt *time.Time // users.guest_expires_at (nullable)
	Token          TokenBundle
	Habits         []HabitRef    // users.habits (JSON column)
	Packages       []PackageItem // users.packages (JSON column)
	PlanID         string        // users.plan_id
	PlanActive     bool          // users.plan_active
	PlanSource     string        // users.plan_source
	PlanUpdatedAt  *time.Time    // users.plan_updated_at (nullable)
	CreatedAt      time.Time     // users.created_at
	UpdatedAt      time.Time     // users.updated_at
}

// TokenBundle holds the provider-issued token pair for one identity.
// A bundle is a value type: the token lifecycle manager returns a new
// bundle on refresh rather than mutating a shared record in place.
//
// Fields:
//  AccessToken  – short-lived bearer token for the Canva API ("" when not connected).
//  RefreshToken – long-lived token used to obtain new access tokens.
//  TokenType    – upstream token type, normally "Bearer".
//  Scope        – space-separated granted scopes.
//  ExpiresIn    – access-token lifetime in seconds as reported at issuance.
//  ObtainedAt   – instant the current access token was obtained.
type TokenBundle struct {
	AccessToken  string    // users.access_token
	RefreshToken string    // users.refresh_token
	TokenType    string    // users.token_type
	Scope        string    // users.scope
	ExpiresIn    int64     // users.expires_in
	ObtainedAt   time.Time // users.obtained_at
}

// Connected reports whether the bundle carries an access token at all.
func (b TokenBundle) Connected() bool { return b.AccessToken != "" }

// ExpiresAt computes the instant the access token expires.
func (b TokenBundle) ExpiresAt() time.Time {
	return b.ObtainedAt.Add(time.Duration(b.ExpiresIn) * time.Second)
}

// HabitRef is a loosely structured habit reference kept on the user
// record.  The server treats it as opaque client state.
type HabitRef struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Emoji string `json:"emoji,omitempty"`
}

// PackageItem is one generated package document (for example a cropped
// sub-image produced during a design import).  Items are keyed by an
// id that stays stable across retries of the same import, so a retry
// overwrites rather than duplicates.
type PackageItem struct {
	ID        string    `json:"id"`
	DesignID  string    `json:"design_id,omitempty"`
	AssetURL  string    `json:"asset_url"`
	CreatedAt time.Time `json:"created_at"`
}
