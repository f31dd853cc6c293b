package search

import (
	"math"
	"unicode"
)

// approxMatcher finds every substring of the text within k edits of the
// query (semi-global edit distance, Sellers' algorithm), case-insensitively.
type approxMatcher struct {
	pattern []rune
	k       int
	minLen  int
}

func newApproxMatcher(query string, minLen int) *approxMatcher {
	p := foldRunes(query)
	return &approxMatcher{
		pattern: p,
		k:       int(math.Floor(Threshold * float64(len(p)))),
		minLen:  minLen,
	}
}

func foldRunes(s string) []rune {
	r := []rune(s)
	for i, c := range r {
		r[i] = unicode.ToLower(c)
	}
	return r
}

type hit struct {
	span Span
	dist int
}

func (m *approxMatcher) match(text string) ([]Span, float64, bool) {
	hits := m.scan(foldRunes(text))
	spans := mergeSpans(hits)

	kept := spans[:0]
	best := math.MaxInt
	for _, h := range spans {
		if h.span.Len() < m.minLen {
			continue
		}
		kept = append(kept, h)
		best = min(best, h.dist)
	}
	if len(kept) == 0 {
		return nil, 0, false
	}
	out := make([]Span, len(kept))
	for i, h := range kept {
		out[i] = h.span
	}
	return out, float64(best) / float64(len(m.pattern)), true
}

// scan returns, for each run of consecutive end positions within k edits,
// the alignments that reach the run's lowest distance.
func (m *approxMatcher) scan(t []rune) []hit {
	p := m.pattern
	plen := len(p)
	if plen == 0 {
		return nil
	}

	// dist[i] is the edit distance of p[:i] to the best text suffix ending
	// at the current column; start[i] is where that suffix begins.
	dist := make([]int, plen+1)
	start := make([]int, plen+1)
	next := make([]int, plen+1)
	nextStart := make([]int, plen+1)
	for i := range dist {
		dist[i] = i
	}

	var (
		hits   []hit
		run    []hit
		runMin = math.MaxInt
	)
	flush := func() {
		for _, h := range run {
			if h.dist == runMin {
				hits = append(hits, h)
			}
		}
		run = run[:0]
		runMin = math.MaxInt
	}

	for j := 1; j <= len(t); j++ {
		next[0], nextStart[0] = 0, j
		c := t[j-1]
		for i := 1; i <= plen; i++ {
			cost := 1
			if p[i-1] == c {
				cost = 0
			}
			d, s := dist[i-1]+cost, start[i-1]
			if v := dist[i] + 1; v < d {
				d, s = v, start[i]
			}
			if v := next[i-1] + 1; v < d {
				d, s = v, nextStart[i-1]
			}
			next[i], nextStart[i] = d, s
		}
		dist, next = next, dist
		start, nextStart = nextStart, start

		if d := dist[plen]; d <= m.k {
			run = append(run, hit{span: Span{Start: start[plen], End: j - 1}, dist: d})
			runMin = min(runMin, d)
		} else if len(run) > 0 {
			flush()
		}
	}
	if len(run) > 0 {
		flush()
	}
	return hits
}

// mergeSpans joins overlapping or adjacent hits, keeping the lower distance.
// Hits arrive ordered by end position.
func mergeSpans(hits []hit) []hit {
	if len(hits) == 0 {
		return nil
	}
	sortHits(hits)
	out := []hit{hits[0]}
	for _, h := range hits[1:] {
		last := &out[len(out)-1]
		if h.span.Start <= last.span.End+1 {
			last.span.End = max(last.span.End, h.span.End)
			last.dist = min(last.dist, h.dist)
			continue
		}
		out = append(out, h)
	}
	return out
}

func sortHits(hits []hit) {
	// insertion sort; hits are nearly ordered already
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].span.Start < hits[j-1].span.Start; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}
