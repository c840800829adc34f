package secure

import (
	"sort"
	"strings"

	"arena-engine/internal/domain"
)

// Validate compares a raw user answer against the encrypted canonical
// answer for a question kind. Pure; signals only through its return value.
//
// An absent blob validates as true: content without a canonical answer is
// auto-credited rather than auto-failed. This is a deliberate
// availability-over-security tradeoff carried over from the shipped grading
// semantics; changing it would silently change scores.
func (c *Codec) Validate(user *domain.Answer, blob string, kind domain.QuestionKind) bool {
	if blob == "" {
		return true
	}
	canonical, ok := c.Canonical(blob, kind)
	if !ok {
		return false
	}
	if user == nil {
		return false
	}

	switch kind {
	case domain.SingleChoice, domain.TrueFalse, domain.YesNo:
		return strings.EqualFold(user.Value, canonical.Value)
	case domain.MultiChoice:
		return sameSet(user.Values, canonical.Values)
	case domain.Ordering:
		return sameSequence(user.Values, canonical.Values)
	case domain.Matching:
		return sameMapping(user.Pairs, canonical.Pairs)
	}
	return false
}

// sameSet is order-independent: sort copies, compare element-wise.
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// sameSequence is position-sensitive.
func sameSequence(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sameMapping requires the same key set with the same value per key, so a
// partial mapping never validates.
func sameMapping(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}
