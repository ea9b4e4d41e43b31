// Package sha256 includes tests for the SHA-256 hashing utilities.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

// TestShortPrefixesFullDigest checks Short is a ShortLen-char prefix of the
// full hex digest.
func TestShortPrefixesFullDigest(t *testing.T) {
	t.Parallel()

	input := "story_1:0:1 Infinite Loop, Cupertino, CA"
	sum := sha256.Sum256([]byte(input))
	full := hex.EncodeToString(sum[:])

	short := Short(input)
	if len(short) != ShortLen {
		t.Fatalf("expected %d chars, got %d", ShortLen, len(short))
	}
	if full[:ShortLen] != short {
		t.Fatalf("expected %s to prefix %s", short, full)
	}
	if Short(input) != short {
		t.Fatal("expected Short to be deterministic")
	}
}

// TestShortDistinguishesInputs ensures close inputs produce different ids.
func TestShortDistinguishesInputs(t *testing.T) {
	t.Parallel()

	if Short("story_1:0:addr") == Short("story_1:1:addr") {
		t.Fatal("expected different digests for different inputs")
	}
}
