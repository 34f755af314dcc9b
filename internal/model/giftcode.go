package model

import "time"

// GiftCode is an administrator-provisioned entitlement grant stored in
// the `gift_codes` table.  used_count never exceeds max_uses, and an
// inactive code never redeems again.
//
// Fields:
//  Code      – the code string, primary key.
//  PlanID    – subscription plan granted on redemption.
//  GrantDays – entitlement duration in days.
//  MaxUses   – how many distinct identities may redeem the code.
//  UsedCount – how many have redeemed it so far.
//  Active    – whether the code can still be redeemed.
//  CreatedAt – when the code was provisioned.
type GiftCode struct {
	Code      string    // gift_codes.code
	PlanID    string    // gift_codes.plan_id
	GrantDays int       // gift_codes.grant_days
	MaxUses   int       // gift_codes.max_uses
	UsedCount int       // gift_codes.used_count
	Active    bool      // gift_codes.active
	CreatedAt time.Time // gift_codes.created_at
}

// GiftCodeRedemption is one row of the append-only redemption ledger.
// The (Code, UserID) pair is unique, which is what enforces at-most-once
// redemption per identity even under concurrent requests.
//
// Fields:
//  Code       – redeemed code.
//  UserID     – redeeming identity id.
//  RedeemedAt – redemption instant.
type GiftCodeRedemption struct {
	Code       string    // gift_redemptions.code
	UserID     string    // gift_redemptions.user_id
	RedeemedAt time.Time // gift_redemptions.redeemed_at
}
