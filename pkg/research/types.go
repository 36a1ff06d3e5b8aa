package research

import (
	"context"
	"strings"
)

// SearchProvider turns a query into up to limit result URLs, in ranking order.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// ContentFetcher returns the readable text of a page.
type ContentFetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// SourcedPassage is an extracted passage together with the URL it came from.
type SourcedPassage struct {
	Text      string `json:"text"`
	SourceURL string `json:"source_url"`
}

// QueryBatch is an ordered list of distinct, non-empty search queries.
type QueryBatch []string

// MaxQueriesPerBatch bounds every batch the planner hands to the search phase.
const MaxQueriesPerBatch = 4

// NewQueryBatch trims the candidates, drops empty and repeated entries and
// keeps at most max of them (max <= 0 means no cap).
func NewQueryBatch(candidates []string, max int) QueryBatch {
	seen := make(map[string]bool, len(candidates))
	batch := make(QueryBatch, 0, len(candidates))
	for _, q := range candidates {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		batch = append(batch, q)
		if max > 0 && len(batch) == max {
			break
		}
	}
	return batch
}

// LinkQueryMap assigns every distinct URL of an iteration to the first query
// that surfaced it. Links keeps the assignment order.
type LinkQueryMap struct {
	Links   []string
	queries map[string]string
}

// BuildLinkQueryMap walks the per-query results in batch order. results[i]
// belongs to batch[i]; a URL seen earlier keeps its original query.
func BuildLinkQueryMap(batch QueryBatch, results [][]string) *LinkQueryMap {
	m := &LinkQueryMap{queries: make(map[string]string)}
	for i, links := range results {
		if i >= len(batch) {
			break
		}
		for _, link := range links {
			link = strings.TrimSpace(link)
			if link == "" {
				continue
			}
			if _, ok := m.queries[link]; ok {
				continue
			}
			m.queries[link] = batch[i]
			m.Links = append(m.Links, link)
		}
	}
	return m
}

// Query returns the query a link was attributed to.
func (m *LinkQueryMap) Query(link string) (string, bool) {
	q, ok := m.queries[link]
	return q, ok
}

func (m *LinkQueryMap) Len() int {
	return len(m.Links)
}

// ResearchState tracks one run. It is owned by the engine; observers only ever
// receive snapshots.
type ResearchState struct {
	Topic          string           `json:"topic"`
	Queries        []string         `json:"queries"`
	Passages       []SourcedPassage `json:"passages"`
	Iteration      int              `json:"iteration"`
	IterationLimit int              `json:"iteration_limit"`
}

// Snapshot returns a copy that shares no slices with s.
func (s *ResearchState) Snapshot() ResearchState {
	out := *s
	out.Queries = append([]string(nil), s.Queries...)
	out.Passages = append([]SourcedPassage(nil), s.Passages...)
	return out
}

func (s *ResearchState) PassageTexts() []string {
	texts := make([]string, len(s.Passages))
	for i, p := range s.Passages {
		texts[i] = p.Text
	}
	return texts
}

// Unissued returns the queries of batch that were never searched in this run.
func (s *ResearchState) Unissued(batch QueryBatch) QueryBatch {
	issued := make(map[string]bool, len(s.Queries))
	for _, q := range s.Queries {
		issued[q] = true
	}
	fresh := make(QueryBatch, 0, len(batch))
	for _, q := range batch {
		if !issued[q] {
			fresh = append(fresh, q)
		}
	}
	return fresh
}

// Verdict is the evaluator's relevance decision for one page.
type Verdict int

const (
	NotUseful Verdict = iota
	Useful
)

func (v Verdict) String() string {
	if v == Useful {
		return "Yes"
	}
	return "No"
}

// RefineDecision is what the planner decided after an iteration.
type RefineDecision int

const (
	// Continue carries a non-empty batch of follow-up queries.
	Continue RefineDecision = iota
	// Stop means the planner declared the research complete.
	Stop
	// Exhausted means the planner failed or produced nothing usable.
	Exhausted
)

func (d RefineDecision) String() string {
	switch d {
	case Continue:
		return "continue"
	case Stop:
		return "stop"
	default:
		return "exhausted"
	}
}

type RefineResult struct {
	Decision RefineDecision
	Queries  QueryBatch
	Reason   string
}
