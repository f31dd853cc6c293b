package search

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chatvault/internal/chat"
)

const (
	// Threshold bounds edits per query rune in approximate mode.
	Threshold = 0.05

	minQueryRunes = 2
	minMatchFloor = 2
)

type Field string

const (
	FieldPrompt     Field = "prompt"
	FieldCompletion Field = "completion"
)

// Mode picks the matcher.
type Mode string

const (
	ModeApproximate Mode = "approximate"
	ModeSubsequence Mode = "subsequence"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeApproximate:
		return ModeApproximate, nil
	case ModeSubsequence:
		return ModeSubsequence, nil
	}
	return "", &chat.ValidationError{Field: "mode", Reason: "must be approximate or subsequence"}
}

// Record is one searchable exchange.
type Record struct {
	ChatID     int64  `json:"chatId"`
	ChatTitle  string `json:"chatTitle"`
	RequestID  int64  `json:"requestId"`
	Timestamp  int64  `json:"timestamp"`
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

func (r Record) text(f Field) string {
	if f == FieldPrompt {
		return r.Prompt
	}
	return r.Completion
}

// Span is an inclusive rune range; it encodes as [start, end].
type Span struct {
	Start int
	End   int
}

func (s Span) Len() int { return s.End - s.Start + 1 }

func (s Span) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{s.Start, s.End})
}

func (s *Span) UnmarshalJSON(b []byte) error {
	var v [2]int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	s.Start, s.End = v[0], v[1]
	return nil
}

// FieldMatch is the match in one field of a record.
type FieldMatch struct {
	Key     Field  `json:"key"`
	Value   string `json:"value"`
	Indices []Span `json:"indices"`
	Runs    []Run  `json:"runs"`

	score float64
}

// Result groups the matches of one record. GoTo is the navigation target of
// the first match.
type Result struct {
	ChatID    int64        `json:"chatId"`
	ChatTitle string       `json:"chatTitle"`
	RequestID int64        `json:"requestId"`
	Timestamp int64        `json:"timestamp"`
	Score     float64      `json:"score"`
	Matches   []FieldMatch `json:"matches"`
	GoTo      GoTo         `json:"goTo"`
}

type GoTo struct {
	ChatID      int64  `json:"chatId"`
	RequestID   int64  `json:"requestId"`
	MessageType string `json:"messageType"`
}

// PoolFromRows flattens view rows into records, skipping chats without
// requests.
func PoolFromRows(rows []chat.ViewRow) []Record {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		if row.RequestID == nil {
			continue
		}
		r := Record{ChatID: row.ChatID, ChatTitle: row.ChatTitle, RequestID: *row.RequestID}
		if row.CompletionCreated != nil {
			r.Timestamp = *row.CompletionCreated
		}
		if row.Prompt != nil {
			r.Prompt = *row.Prompt
		}
		if row.Completion != nil {
			r.Completion = *row.Completion
		}
		out = append(out, r)
	}
	return out
}

// MatchLengthStep maps a query length to the shortest span worth keeping,
// before the floor is applied.
func MatchLengthStep(n int) int {
	switch {
	case n <= 4:
		return n
	case n == 5:
		return n - 1
	case n <= 7:
		return n - 2
	case n <= 9:
		return n - 3
	default:
		return n - 4
	}
}

func MinMatchLength(n int) int {
	return max(MatchLengthStep(n), minMatchFloor)
}

// Engine searches a pool of records.
type Engine struct {
	log zerolog.Logger
}

func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log}
}

// Search matches query against the prompt and completion of every record.
// Results are ordered best first; a record appears once with its matching
// fields in score order.
func (e *Engine) Search(pool []Record, query string, mode Mode) ([]Result, error) {
	n := utf8.RuneCountInString(query)
	if n < minQueryRunes {
		return nil, &chat.ValidationError{Field: "query", Reason: "must be at least 2 characters"}
	}
	var m matcher
	switch mode {
	case "", ModeApproximate:
		m = newApproxMatcher(query, MinMatchLength(n))
	case ModeSubsequence:
		m = newSubsequenceMatcher(query)
	default:
		return nil, &chat.ValidationError{Field: "mode", Reason: "unknown search mode"}
	}

	var results []Result
	for _, rec := range pool {
		var matches []FieldMatch
		for _, f := range [...]Field{FieldPrompt, FieldCompletion} {
			text := rec.text(f)
			spans, score, ok := m.match(text)
			if !ok {
				continue
			}
			matches = append(matches, FieldMatch{
				Key:     f,
				Value:   text,
				Indices: spans,
				Runs:    Highlight(text, spans, DefaultRunBudget),
				score:   score,
			})
		}
		if len(matches) == 0 {
			continue
		}
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].score < matches[j].score })
		results = append(results, Result{
			ChatID:    rec.ChatID,
			ChatTitle: rec.ChatTitle,
			RequestID: rec.RequestID,
			Timestamp: rec.Timestamp,
			Score:     matches[0].score,
			Matches:   matches,
			GoTo:      GoTo{ChatID: rec.ChatID, RequestID: rec.RequestID, MessageType: messageType(matches[0].Key)},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if ha, hb := highlighted(a), highlighted(b); ha != hb {
			return ha > hb
		}
		return a.RequestID < b.RequestID
	})
	e.log.Debug().Str("mode", string(mode)).Int("pool", len(pool)).Int("results", len(results)).Msg("search done")
	return results, nil
}

func highlighted(r Result) int {
	n := 0
	for _, m := range r.Matches {
		for _, s := range m.Indices {
			n += s.Len()
		}
	}
	return n
}

func messageType(f Field) string {
	if f == FieldPrompt {
		return "prompt"
	}
	return "response"
}

type matcher interface {
	// match returns the spans of text that match and a score; lower is better.
	match(text string) ([]Span, float64, bool)
}
