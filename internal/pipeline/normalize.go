package pipeline

import "strings"

// NormalizeEmails splits pasted text on newlines and commas, trims every
// token, drops empties and keeps the first occurrence of each address.
func NormalizeEmails(raw string) []string {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '\n' || r == '\r' || r == ','
	})

	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		email := strings.TrimSpace(token)
		if email == "" {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}
	return out
}
