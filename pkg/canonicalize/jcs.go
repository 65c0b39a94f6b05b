// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// compliant serialization for deterministic hashing of policy packs and
// evaluation results.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// ShortHashLen is the display length of truncated content hashes.
// Long enough to be collision-safe for any realistic pack corpus,
// short enough to read in check-run output.
const ShortHashLen = 16

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// Key features:
// 1. Map keys are sorted lexicographically by UTF-16 code units.
// 2. HTML escaping is disabled (unlike standard json.Marshal).
// 3. Number formatting follows ECMAScript, so 1.0 and 1 canonicalize alike.
//
// Struct values go through an intermediate json.Marshal so json tags are
// respected before the canonical transform.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}

	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: canonical transform failed: %w", err)
	}
	return canonical, nil
}

// CanonicalHash returns the full SHA-256 hex digest of the canonical JSON
// representation of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes and returns a hex string.
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ShortHash truncates a hex digest to the stable display length used for
// pack hashes and fingerprints. Short inputs are returned unchanged.
func ShortHash(hexDigest string) string {
	if len(hexDigest) <= ShortHashLen {
		return hexDigest
	}
	return hexDigest[:ShortHashLen]
}

// JCSString returns the JCS canonical form as a string.
func JCSString(v any) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
