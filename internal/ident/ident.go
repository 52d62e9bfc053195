// Package ident validates identifiers that end up spliced into query text,
// such as namespace tags and dynamic property keys.
package ident

import (
	"regexp"

	"songmap/internal/apperr"
)

var safePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// IsSafe reports whether s contains only ASCII letters, digits and
// underscores and is not empty.
func IsSafe(s string) bool {
	return safePattern.MatchString(s)
}

// Validate returns an InvalidArgument error naming what when s is not safe.
func Validate(what, s string) error {
	if !IsSafe(s) {
		return apperr.InvalidArgument("invalid %s %q: only letters, digits and underscores are allowed", what, s)
	}
	return nil
}
