package interview

import (
	"strings"
	"unicode"
)

const maxIDLength = 64

// NormalizeID は識別子を小文字のスラッグに揃えます。
func NormalizeID(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= maxIDLength {
			break
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// dedupe は既存の識別子、または同じバッチ内で衝突する項目を取り除きます。
// id は項目の識別子を返し、空文字の項目は捨てられます。
func dedupe[T any](items []T, existing []string, id func(T) string) []T {
	seen := make(map[string]bool, len(existing)+len(items))
	for _, e := range existing {
		seen[NormalizeID(e)] = true
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		key := id(item)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func itemID(explicit, fallback string) string {
	if id := NormalizeID(explicit); id != "" {
		return id
	}
	return NormalizeID(fallback)
}
