package pack

import (
	"fmt"

	"github.com/driftgate/driftgate/pkg/canonicalize"
)

// Canonicalize parses a pack document and returns its RFC 8785 canonical
// JSON form. Two documents differing only in key order, whitespace, or
// comments canonicalize to byte-identical output regardless of source
// format.
func Canonicalize(doc []byte, format Format) ([]byte, error) {
	generic, err := decodeGeneric(doc, format)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return canonicalize.JCS(generic)
}

// Hash returns the truncated SHA-256 content hash of a canonical form.
// The hash is a pure function of the canonical bytes.
func Hash(canonical []byte) string {
	return canonicalize.ShortHash(canonicalize.HashBytes(canonical))
}
