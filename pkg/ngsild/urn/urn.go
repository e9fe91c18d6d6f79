// Package urn implements the NGSI-LD identifier naming convention
// "urn:ngsi-ld:<type>:<remainder>".
package urn

import (
	"strings"

	"github.com/google/uuid"
)

const Scheme string = "urn:ngsi-ld:"

// Prefix adds the NGSI-LD urn scheme to an identifier. It is idempotent.
func Prefix(s string) string {
	if IsPrefixed(s) {
		return s
	}
	return Scheme + s
}

func IsPrefixed(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// Unprefix strips the NGSI-LD urn scheme, if present.
func Unprefix(s string) string {
	return strings.TrimPrefix(s, Scheme)
}

// InferType extracts the entity type from a fully qualified urn, assuming
// the naming convention holds. The type is the third colon delimited
// segment ("urn:ngsi-ld:Vehicle:A4567" yields "Vehicle").
func InferType(s string) (string, bool) {
	if !IsPrefixed(s) {
		return "", false
	}

	remainder := Unprefix(s)
	entityType, _, found := strings.Cut(remainder, ":")
	if !found || entityType == "" {
		return "", false
	}

	return entityType, true
}

// NewID generates a fully qualified urn for an entity of the given type,
// with a random uuid as remainder.
func NewID(entityType string) string {
	return Scheme + entityType + ":" + uuid.NewString()
}
