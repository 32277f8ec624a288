// Package audit implements the append-only session log (C6): structure-
// first secret redaction before every write, and the sqlx-backed store
// that persists sessions and their ordered entries.
package audit

import (
	"encoding/json"
	"regexp"
)

const redactedPlaceholder = "[REDACTED]"

// CompiledPattern is a pre-compiled regex with its name and description;
// every match is replaced with redactedPlaceholder.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Description string
}

// builtinPatterns are compiled once at package init. Each pattern replaces
// its entire match with the placeholder rather than a partial substitution,
// since the matched span is itself the secret.
var builtinPatterns = []CompiledPattern{
	{
		Name:        "env_secret_assignment",
		Regex:       regexp.MustCompile(`(?i)\b(API_KEY|TOKEN|PASSWORD|SECRET)\s*=\s*\S+`),
		Description: "KEY=value style secret assignment",
	},
	{
		Name:        "bearer_token",
		Regex:       regexp.MustCompile(`(?i)Authorization:\s*Bearer\s+\S+`),
		Description: "Authorization: Bearer <token> header",
	},
	{
		Name:        "high_entropy_key_literal",
		Regex:       regexp.MustCompile(`\b(sk|pk|ghp|gho|ghu|ghs)_[A-Za-z0-9]{16,}\b`),
		Description: "known provider key-literal prefixes (sk_, ghp_, ...)",
	},
}

// Redact masks secret-shaped substrings in s without altering surrounding
// structure. It is applied to string leaves only; RedactJSON drives the
// structural recursion for whole payloads.
func Redact(s string) string {
	for _, p := range builtinPatterns {
		s = p.Regex.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// RedactJSON parses a JSON document, recurses structure-first (objects and
// arrays before their leaves), and redacts string leaves. Non-string
// leaves (numbers, bools, null) pass through unchanged — the taxonomy in
// spec.md §4.6 only names string-shaped secrets. If payload is not valid
// JSON, it is treated as an opaque string and redacted directly: callers
// must not lose a payload to a parse error.
func RedactJSON(payload []byte) []byte {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return []byte(Redact(string(payload)))
	}
	redacted := redactValue(v)
	out, err := json.Marshal(redacted)
	if err != nil {
		return []byte(Redact(string(payload)))
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = redactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(val)
		}
		return out
	case string:
		return Redact(t)
	default:
		return t
	}
}
