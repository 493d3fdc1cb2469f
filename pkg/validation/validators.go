// Package validation hosts pure validating helpers shared by the engine's
// public boundary operations (episode lifecycle, retrieval, pattern
// admin). Struct-shape checks are expressed with go-playground/validator/v10
// tags; semantic checks (character sanitization, sliding bounds) are plain
// functions, so callers never leave partial state behind on a rejected
// input.
package validation

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jordigilh/episodic-memory/internal/apperrors"
)

// validate is a single, reused validator instance; go-playground/validator
// caches struct reflection internally and is safe for concurrent use.
var validate = validator.New()

// Struct runs go-playground/validator struct-tag validation, translating
// the first failure into an apperrors.InvalidInput.
func Struct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return apperrors.InvalidInputf("field %s failed %s validation", fe.Field(), fe.Tag())
		}
		return apperrors.InvalidInput(err.Error())
	}
	return nil
}

// unsafePatterns flags substrings indicative of injection attempts in
// free-text fields that eventually reach a SQL backend or a log sink.
var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bUNION\b.*\bSELECT\b`),
	regexp.MustCompile(`(?i)\bDROP\s+TABLE\b`),
	regexp.MustCompile(`(?i)<script[\s>]`),
	regexp.MustCompile(`--`),
	regexp.MustCompile(`;\s*DROP\b`),
}

// ValidateStringInput enforces a maximum length and rejects control
// characters and common injection patterns in a free-text field destined
// for persistence or a query.
func ValidateStringInput(field, value string, maxLen int) error {
	if len(value) > maxLen {
		return apperrors.InvalidInputf("%s must be %d characters or less", field, maxLen)
	}
	for _, r := range value {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return apperrors.InvalidInputf("%s contains invalid control characters", field)
		}
	}
	for _, pattern := range unsafePatterns {
		if pattern.MatchString(value) {
			return apperrors.InvalidInputf("%s contains potentially unsafe characters", field)
		}
	}
	return nil
}

// ValidateLimit enforces the RetrievalQuery limit bound: at least 1 and no
// more than max (the configured retrieval.limit_max).
func ValidateLimit(limit, max int) error {
	if limit <= 0 {
		return apperrors.InvalidInput("limit must be greater than 0")
	}
	if limit > max {
		return apperrors.InvalidInputf("limit must be %d or less", max)
	}
	return nil
}

// ValidateQueryText enforces the RetrievalQuery text length bound (spec:
// query_text ≤ 1000 chars) plus the generic injection/control-char checks.
func ValidateQueryText(text string) error {
	return ValidateStringInput("query_text", text, 1000)
}

// tagPattern matches the normalized-tag invariant: lowercase
// alphanumeric plus hyphen/underscore, 2-63 characters.
var tagPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,62}$`)

// ValidateTag reports whether a single already-normalized tag matches the
// required charset and length.
func ValidateTag(tag string) error {
	if !tagPattern.MatchString(tag) {
		return apperrors.InvalidInputf("tag %q must match [a-z0-9][a-z0-9_-]{1,62}", tag)
	}
	return nil
}

// SanitizeForLogging replaces control characters with '?' and truncates to
// 200 characters (with a trailing ellipsis) so untrusted free text never
// corrupts a structured log line.
func SanitizeForLogging(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			b.WriteRune('?')
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > 200 {
		out = out[:197] + "..."
	}
	return out
}
