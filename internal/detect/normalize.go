package detect

import (
	"strings"
)

// NormalizeLabel lowercases (strings.ToLower), collapses internal
// whitespace and trims a raw label. No Unicode normalization form (NFC,
// NFKC) is applied, so canonically equivalent spellings stay distinct.
// Labels that collapse to the empty string are dropped by the caller.
func NormalizeLabel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
