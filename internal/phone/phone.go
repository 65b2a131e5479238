// Package phone normalizes contact phone numbers into comparison keys.
//
// Matching is a heuristic: two numbers are the same contact when their
// trailing 11 digits agree. Formatting characters and country-code prefixes
// are ignored, so distinct numbers sharing the last 11 digits collide.
package phone

import "strings"

// KeyLength is the number of trailing digits kept as the comparison key.
const KeyLength = 11

const (
	minDigits = 10
	maxDigits = 15
)

// Normalize strips every non-digit and keeps the last KeyLength digits.
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	digits := digitsOf(raw)
	if len(digits) > KeyLength {
		digits = digits[len(digits)-KeyLength:]
	}
	return digits
}

// LooksLikePhone reports whether raw carries 10 to 15 digits, the range of a
// plausible phone number with or without country code.
func LooksLikePhone(raw string) bool {
	n := len(digitsOf(raw))
	return n >= minDigits && n <= maxDigits
}

// Candidates validates and normalizes each raw value, dropping anything that
// does not look like a phone and removing duplicates. Order is preserved.
func Candidates(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		if !LooksLikePhone(r) {
			continue
		}
		key := Normalize(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// Index maps normalized phone keys to the id of the record that first
// contributed them.
type Index map[string]string

// Add inserts a normalized key owned by id. Empty keys are ignored and the
// first owner of a key is kept.
func (idx Index) Add(key, id string) {
	if key == "" {
		return
	}
	if _, ok := idx[key]; !ok {
		idx[key] = id
	}
}

// AddRaw validates and normalizes raw phone strings before adding them.
func (idx Index) AddRaw(id string, raw ...string) {
	for _, key := range Candidates(raw...) {
		idx.Add(key, id)
	}
}

// FirstMatch returns the first key present in the index and its owner.
func (idx Index) FirstMatch(keys []string) (key, owner string, ok bool) {
	for _, k := range keys {
		if id, found := idx[k]; found {
			return k, id, true
		}
	}
	return "", "", false
}

func digitsOf(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
