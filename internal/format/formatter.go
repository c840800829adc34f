// Package format renders canonical and user answers as human-readable text
// for the post-answer explanation card. All id resolution goes through the
// question's own option/item lists; there are no external lookups.
package format

import (
	"strings"

	"arena-engine/internal/domain"
)

// Locale selects the fixed-string table used for rendering.
type Locale string

const (
	English Locale = "en"
	French  Locale = "fr"
)

type stringTable struct {
	yes      string
	no       string
	trueStr  string
	falseStr string
	timedOut string
	listSep  string
	orderSep string
	matchSep string
}

var tables = map[Locale]stringTable{
	English: {
		yes:      "Yes",
		no:       "No",
		trueStr:  "True",
		falseStr: "False",
		timedOut: "Time ran out",
		listSep:  ", ",
		orderSep: " → ", // →
		matchSep: " ↔ ", // ↔
	},
	French: {
		yes:      "Oui",
		no:       "Non",
		trueStr:  "Vrai",
		falseStr: "Faux",
		timedOut: "Temps écoulé",
		listSep:  ", ",
		orderSep: " → ",
		matchSep: " ↔ ",
	},
}

func tableFor(locale Locale) stringTable {
	if t, ok := tables[locale]; ok {
		return t
	}
	return tables[English]
}

// DescribeCorrect renders the canonical answer for a question.
func DescribeCorrect(q domain.Question, canonical domain.CanonicalAnswer, locale Locale) string {
	t := tableFor(locale)
	switch q.Kind {
	case domain.SingleChoice:
		return resolve(q.Options, canonical.Value)
	case domain.TrueFalse:
		return boolText(canonical.Value, t.trueStr, t.falseStr)
	case domain.YesNo:
		return boolText(canonical.Value, t.yes, t.no)
	case domain.MultiChoice:
		return joinResolved(q.Options, canonical.Values, t.listSep)
	case domain.Ordering:
		return joinResolved(q.Items, canonical.Values, t.orderSep)
	case domain.Matching:
		return matchingLines(q, canonical.Pairs, t.matchSep)
	}
	return ""
}

// DescribeUser renders what the player actually answered. A nil answer is
// the timeout case and yields the localized timed-out marker instead of any
// id resolution.
func DescribeUser(q domain.Question, raw *domain.Answer, locale Locale) string {
	t := tableFor(locale)
	if raw == nil {
		return t.timedOut
	}
	switch q.Kind {
	case domain.SingleChoice:
		return resolve(q.Options, raw.Value)
	case domain.TrueFalse:
		return boolText(raw.Value, t.trueStr, t.falseStr)
	case domain.YesNo:
		return boolText(raw.Value, t.yes, t.no)
	case domain.MultiChoice:
		return joinResolved(q.Options, raw.Values, t.listSep)
	case domain.Ordering:
		return joinResolved(q.Items, raw.Values, t.orderSep)
	case domain.Matching:
		return matchingLines(q, raw.Pairs, t.matchSep)
	}
	return ""
}

// resolve maps an id to its display text, falling back to the id itself so
// a stale content reference still renders something.
func resolve(options []domain.Option, id string) string {
	for _, opt := range options {
		if opt.ID == id {
			return opt.Text
		}
	}
	return id
}

func joinResolved(options []domain.Option, ids []string, sep string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, resolve(options, id))
	}
	return strings.Join(parts, sep)
}

// matchingLines renders one "left ↔ right" line per mapping entry, in the
// question's left-item order so output is stable across runs.
func matchingLines(q domain.Question, pairs map[string]string, sep string) string {
	lines := make([]string, 0, len(pairs))
	for _, left := range q.LeftItems {
		right, ok := pairs[left.ID]
		if !ok {
			continue
		}
		lines = append(lines, left.Text+sep+resolve(q.RightItems, right))
	}
	return strings.Join(lines, "\n")
}

func boolText(value, truthy, falsy string) string {
	switch strings.ToLower(value) {
	case "true", "yes", "oui", "vrai", "1":
		return truthy
	default:
		return falsy
	}
}
