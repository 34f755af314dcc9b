package utils // package utils provides helper functions for token generation and PKCE

import (
	"crypto/rand"    // secure random number generation
	"crypto/sha256"  // SHA-256 for the PKCE S256 challenge
	"encoding/base64"
	"encoding/hex"
)

// NewUserToken returns the opaque session token handed to clients after
// authentication.  48 random bytes hex-encoded gives 96 characters,
// stored under a unique index on the users table.
func NewUserToken() (string, error) {
	return randomHex(48)
}

// NewStateNonce returns the random OAuth state parameter.  The nonce
// doubles as the primary key of the pending PKCE row, so it must be
// unguessable.
func NewStateNonce() (string, error) {
	return randomHex(24)
}

// NewPollToken returns the token a pollable OAuth flow hands to the
// client for later result retrieval.
func NewPollToken() (string, error) {
	return randomHex(24)
}

// NewPKCEPair generates a PKCE code verifier and its S256 challenge.
// The verifier is 32 random bytes base64url-encoded (43 characters,
// within RFC 7636's 43..128 range); the challenge is the base64url
// encoding of the verifier's SHA-256 digest.
func NewPKCEPair() (verifier, challenge string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(buf)
	challenge = PKCEChallenge(verifier)
	return verifier, challenge, nil
}

// PKCEChallenge computes the S256 challenge for a verifier.
func PKCEChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
