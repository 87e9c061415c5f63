package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// EmptyBodyHash is the SHA256 hash of an empty body
const EmptyBodyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// ComputeHMACSHA256 computes HMAC-SHA256 signature and returns hex-encoded string.
//
// Parameters:
//   - secretKey: The secret key for HMAC computation
//   - message: The message to sign (typically the webhook payload body)
//
// Returns hex-encoded signature (64 characters)
func ComputeHMACSHA256(secretKey string, message []byte) string {
	h := hmac.New(sha256.New, []byte(secretKey))
	h.Write(message)
	return hex.EncodeToString(h.Sum(nil))
}

// SecureCompare performs constant-time string comparison to prevent timing attacks.
// This MUST be used when comparing signatures.
//
// Returns true if both strings are equal, false otherwise.
func SecureCompare(a, b string) bool {
	// Convert to bytes for constant-time comparison
	aBytes := []byte(a)
	bBytes := []byte(b)

	// subtle.ConstantTimeCompare returns 1 if equal, 0 otherwise
	return subtle.ConstantTimeCompare(aBytes, bBytes) == 1
}

// HashBodySHA256 computes SHA256 hash of body bytes and returns hex-encoded string.
// If body is nil or empty, returns EmptyBodyHash constant.
//
// Returns hex-encoded hash (64 characters)
func HashBodySHA256(body []byte) string {
	if len(body) == 0 {
		return EmptyBodyHash
	}
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}
