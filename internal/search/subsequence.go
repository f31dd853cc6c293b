package search

import (
	"sort"
	"strings"
	"sync"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

var fzfInit sync.Once

// subsequenceMatcher is fzf's fuzzy match: the query runes must appear in
// order, gaps allowed. Positions come back as single-rune spans, merged
// where they touch.
type subsequenceMatcher struct {
	pattern []rune
	mu      sync.Mutex
	slab    *util.Slab
}

func newSubsequenceMatcher(query string) *subsequenceMatcher {
	fzfInit.Do(func() { algo.Init("default") })
	return &subsequenceMatcher{
		pattern: []rune(strings.ToLower(query)),
		slab:    util.MakeSlab(100*1024, 2048),
	}
}

func (m *subsequenceMatcher) match(text string) ([]Span, float64, bool) {
	if text == "" {
		return nil, 0, false
	}
	chars := util.ToChars([]byte(text))

	m.mu.Lock()
	res, pos := algo.FuzzyMatchV2(false, true, true, &chars, m.pattern, true, m.slab)
	m.mu.Unlock()

	if res.Start < 0 || pos == nil || len(*pos) == 0 {
		return nil, 0, false
	}
	idx := append([]int(nil), (*pos)...)
	sort.Ints(idx)

	spans := []Span{{Start: idx[0], End: idx[0]}}
	for _, p := range idx[1:] {
		last := &spans[len(spans)-1]
		if p == last.End+1 {
			last.End = p
			continue
		}
		spans = append(spans, Span{Start: p, End: p})
	}
	return spans, 1 / (1 + float64(res.Score)), true
}
