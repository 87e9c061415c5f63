package utils

import "testing"

// TestComputeHMACSHA256KnownVector pins the signature format against an
// independently computed value (RFC 4231 style vector).
func TestComputeHMACSHA256KnownVector(t *testing.T) {
	got := ComputeHMACSHA256("key", []byte("The quick brown fox jumps over the lazy dog"))
	want := "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	if got != want {
		t.Fatalf("signature = %s, want %s", got, want)
	}
	if len(got) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(got))
	}
}

// TestComputeHMACSHA256TamperDetection checks that flipping one byte of
// the message or using a different secret changes the signature.
func TestComputeHMACSHA256TamperDetection(t *testing.T) {
	body := []byte(`{"job_id":"abc","status":"completed"}`)
	original := ComputeHMACSHA256("secret", body)

	tampered := append([]byte{}, body...)
	tampered[0] ^= 0x01
	if ComputeHMACSHA256("secret", tampered) == original {
		t.Fatal("tampered body produced the same signature")
	}
	if ComputeHMACSHA256("other-secret", body) == original {
		t.Fatal("different secret produced the same signature")
	}
}

// TestSecureCompare covers equal, unequal and different-length inputs.
func TestSecureCompare(t *testing.T) {
	if !SecureCompare("abc123", "abc123") {
		t.Fatal("equal strings did not compare equal")
	}
	if SecureCompare("abc123", "abc124") {
		t.Fatal("different strings compared equal")
	}
	if SecureCompare("abc", "abc123") {
		t.Fatal("different lengths compared equal")
	}
}

// TestHashBodySHA256 checks the empty-body constant and a non-empty hash.
func TestHashBodySHA256(t *testing.T) {
	if got := HashBodySHA256(nil); got != EmptyBodyHash {
		t.Fatalf("nil body hash = %s, want %s", got, EmptyBodyHash)
	}
	if got := HashBodySHA256([]byte{}); got != EmptyBodyHash {
		t.Fatalf("empty body hash = %s, want %s", got, EmptyBodyHash)
	}
	got := HashBodySHA256([]byte("abc"))
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("hash = %s, want %s", got, want)
	}
}
