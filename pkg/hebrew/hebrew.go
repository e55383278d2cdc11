// Package hebrew provides classification helpers for pointed Hebrew text.
package hebrew

// Consonant letter range: א (U+05D0) through ת (U+05EA), which includes
// the five final forms (ך ם ן ף ץ).
const (
	firstConsonant = 0x05D0
	lastConsonant  = 0x05EA
)

// Pointing ranges stripped by Consonantal: cantillation marks
// (U+0591–U+05AF) and niqqud/points (U+05B0–U+05C7, minus maqaf/sof pasuq
// punctuation which are kept).
func isPoint(r rune) bool {
	if r >= 0x0591 && r <= 0x05AF {
		return true
	}
	if r >= 0x05B0 && r <= 0x05C7 {
		// Maqaf and sof pasuq are punctuation, not points.
		return r != 0x05BE && r != 0x05C0 && r != 0x05C3 && r != 0x05C6
	}
	return false
}

// IsConsonant reports whether r is a Hebrew consonant letter.
func IsConsonant(r rune) bool {
	return r >= firstConsonant && r <= lastConsonant
}

// ConsonantCount returns the number of Hebrew consonant letters in s,
// ignoring vowel points, cantillation, and any non-Hebrew characters.
func ConsonantCount(s string) int {
	n := 0
	for _, r := range s {
		if IsConsonant(r) {
			n++
		}
	}
	return n
}

// Consonantal strips vowel points and cantillation marks from s, returning
// the unpointed form. Letters and punctuation pass through unchanged.
func Consonantal(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if isPoint(r) {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// IsRoot reports whether word is a 3-consonant root reading.
func IsRoot(word string) bool {
	return ConsonantCount(word) == 3
}
