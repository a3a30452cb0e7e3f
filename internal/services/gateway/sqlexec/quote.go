package sqlexec

import "strings"

// QuoteIdent quotes a single identifier with backticks so reserved words and
// punctuation cannot change statement shape.
func QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(strings.TrimSpace(name), "`", "``") + "`"
}

// QuoteQualified renders a fully qualified name from identifier parts.
func QuoteQualified(parts ...string) string {
	quoted := make([]string, 0, len(parts))
	for _, part := range parts {
		quoted = append(quoted, QuoteIdent(part))
	}
	return strings.Join(quoted, ".")
}

// QuoteLiteral quotes a string literal for embedding in statement text.
// Values here are operator-supplied identifiers, not end-user text, but they
// are still escaped rather than interpolated raw.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
