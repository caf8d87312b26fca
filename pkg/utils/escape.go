package utils

import "strings"

var literalEscaper = strings.NewReplacer(`'`, `''`, `\`, `\\`)

// QuoteLiteral renders s as a single-quoted Redshift string literal.
// See https://docs.aws.amazon.com/redshift/latest/dg/r_Literals.html
func QuoteLiteral(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('\'')
	sb.WriteString(literalEscaper.Replace(s))
	sb.WriteByte('\'')
	return sb.String()
}

// QuoteIdent renders name as a double-quoted identifier, e.g. order -> "order".
func QuoteIdent(name string) string {
	var sb strings.Builder
	sb.Grow(len(name) + 2)
	sb.WriteByte('"')
	sb.WriteString(strings.ReplaceAll(name, `"`, `""`))
	sb.WriteByte('"')
	return sb.String()
}

// QuoteIdents quotes every name and joins them with ", ".
func QuoteIdents(names []string) string {
	quoted := make([]string, 0, len(names))
	for _, name := range names {
		quoted = append(quoted, QuoteIdent(name))
	}
	return strings.Join(quoted, ", ")
}
