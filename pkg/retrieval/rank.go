package retrieval

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
)

const (
	// tfCap bounds a single term's contribution so long transcripts that
	// repeat a word do not drown out everything else.
	tfCap       = 8
	titleWeight = 2
)

type cacheKey struct {
	id      string
	updated int64
}

// docTerms is the term vector of one meeting.
type docTerms struct {
	title map[string]int
	body  map[string]int
}

type scored struct {
	m     *meeting.Meeting
	score int
}

// termCache memoizes term vectors by meeting id and update time, so an
// edited meeting is re-tokenized on its next query.
type termCache struct {
	lru *lru.Cache[cacheKey, docTerms]
}

func newTermCache(size int) *termCache {
	if size <= 0 {
		return &termCache{}
	}
	c, err := lru.New[cacheKey, docTerms](size)
	if err != nil {
		return &termCache{}
	}
	return &termCache{lru: c}
}

func (c *termCache) terms(m *meeting.Meeting) docTerms {
	key := cacheKey{id: m.ID, updated: m.UpdatedAt.UnixNano()}
	if c.lru != nil {
		if dt, ok := c.lru.Get(key); ok {
			return dt
		}
	}
	dt := docTerms{
		title: termCounts(m.Title),
		body:  termCounts(m.SummaryText() + "\n" + m.TranscriptText()),
	}
	if c.lru != nil {
		c.lru.Add(key, dt)
	}
	return dt
}

func capped(n int) int {
	if n > tfCap {
		return tfCap
	}
	return n
}

// score sums capped term frequencies over the distinct query terms.
func score(terms []string, dt docTerms) int {
	total := 0
	for _, t := range terms {
		total += capped(dt.body[t]) + titleWeight*capped(dt.title[t])
	}
	return total
}

// rank orders meetings by score, then newest first, then id. At most limit
// meetings with a positive score are kept. When nothing matches, the limit
// most recent meetings are returned instead.
func (c *termCache) rank(terms []string, meetings []*meeting.Meeting, limit int) []*meeting.Meeting {
	results := make([]scored, 0, len(meetings))
	for _, m := range meetings {
		results = append(results, scored{m: m, score: score(terms, c.terms(m))})
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.m.CreatedAt.Equal(b.m.CreatedAt) {
			return a.m.CreatedAt.After(b.m.CreatedAt)
		}
		return a.m.ID < b.m.ID
	})

	out := make([]*meeting.Meeting, 0, limit)
	for _, r := range results {
		if r.score <= 0 || len(out) == limit {
			break
		}
		out = append(out, r.m)
	}
	if len(out) > 0 {
		return out
	}

	// Sorted by recency alone once every score is zero.
	for _, r := range results {
		if len(out) == limit {
			break
		}
		out = append(out, r.m)
	}
	return out
}
