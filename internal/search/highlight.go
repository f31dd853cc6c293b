package search

import (
	"strings"
	"unicode"
)

// DefaultRunBudget is the number of word-boundary tokens kept on each side
// of an elision.
const DefaultRunBudget = 6

// Cut says which end of a plain run is elided.
type Cut string

const (
	CutLeft   Cut = "left"
	CutMiddle Cut = "middle"
	CutRight  Cut = "right"
)

type Run struct {
	Text      string `json:"text"`
	Highlight bool   `json:"highlight"`
}

// Highlight splits text into alternating plain and highlighted runs for the
// given spans (sorted, non-overlapping rune ranges). Long plain runs are
// elided next to their neighbouring highlights.
func Highlight(text string, spans []Span, budget int) []Run {
	r := []rune(text)
	var out []Run
	index := 0
	for _, s := range spans {
		if s.Start < index || s.End >= len(r) || s.Start > s.End {
			continue
		}
		if s.Start > index {
			cut := CutMiddle
			if index == 0 {
				cut = CutLeft
			}
			out = append(out, Run{Text: Elide(string(r[index:s.Start]), cut, budget)})
		}
		out = append(out, Run{Text: string(r[s.Start : s.End+1]), Highlight: true})
		index = s.End + 1
	}
	if len(out) == 0 {
		return []Run{{Text: text}}
	}
	if index < len(r) {
		out = append(out, Run{Text: Elide(string(r[index:]), CutRight, budget)})
	}
	return out
}

// Elide shortens a plain run to budget tokens on the kept side(s).
func Elide(text string, cut Cut, budget int) string {
	tokens := wordTokens(text)
	if len(tokens) <= budget {
		return text
	}
	switch cut {
	case CutMiddle:
		if len(tokens) <= budget*2 {
			return text
		}
		return strings.Join(tokens[:budget], "") + " ... " + strings.Join(tokens[len(tokens)-budget:], "")
	case CutLeft:
		return "... " + strings.Join(tokens[len(tokens)-budget:], "")
	default:
		return strings.Join(tokens[:budget], "") + " ..."
	}
}

// wordTokens splits text at word boundaries into alternating word and
// non-word pieces. Joining them yields text again.
func wordTokens(text string) []string {
	var out []string
	var b strings.Builder
	prev := -1
	for _, c := range text {
		cls := 0
		if isWordRune(c) {
			cls = 1
		}
		if prev != -1 && cls != prev {
			out = append(out, b.String())
			b.Reset()
		}
		b.WriteRune(c)
		prev = cls
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func isWordRune(c rune) bool {
	return c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c)
}
