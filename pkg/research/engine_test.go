package research

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/clients"
)

const (
	callInitial  = "initial"
	callRefine   = "refine"
	callEvaluate = "evaluate"
	callExtract  = "extract"
	callReport   = "report"
)

// scriptedGateway answers by which component is asking, recognised from the
// system prompt, and records every call.
type scriptedGateway struct {
	mu       sync.Mutex
	handlers map[string]func(user string) (string, bool)
	calls    map[string]int
	prompts  map[string][]string
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{
		handlers: make(map[string]func(string) (string, bool)),
		calls:    make(map[string]int),
		prompts:  make(map[string][]string),
	}
}

func (g *scriptedGateway) on(kind string, h func(user string) (string, bool)) *scriptedGateway {
	g.handlers[kind] = h
	return g
}

func (g *scriptedGateway) Complete(_ context.Context, messages []clients.Message) (string, bool) {
	kind := callKind(messages[0].Content)
	user := messages[len(messages)-1].Content

	g.mu.Lock()
	g.calls[kind]++
	g.prompts[kind] = append(g.prompts[kind], user)
	h := g.handlers[kind]
	g.mu.Unlock()

	if h == nil {
		return "", false
	}
	return h(user)
}

func (g *scriptedGateway) count(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[kind]
}

func (g *scriptedGateway) promptsFor(kind string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts[kind]...)
}

func callKind(system string) string {
	switch {
	case strings.Contains(system, "supportive research assistant"):
		return callInitial
	case strings.Contains(system, "planning further research"):
		return callRefine
	case strings.Contains(system, "relevance evaluator"):
		return callEvaluate
	case strings.Contains(system, "extracting relevant details"):
		return callExtract
	case strings.Contains(system, "report composer"):
		return callReport
	}
	return "unknown"
}

func always(text string) func(string) (string, bool) {
	return func(string) (string, bool) { return text, true }
}

func failing() func(string) (string, bool) {
	return func(string) (string, bool) { return "", false }
}

func sequence(replies ...string) func(string) (string, bool) {
	var n atomic.Int32
	return func(string) (string, bool) {
		i := int(n.Add(1)) - 1
		if i >= len(replies) {
			i = len(replies) - 1
		}
		return replies[i], true
	}
}

type fakeSearch struct {
	mu      sync.Mutex
	results map[string][]string
	errs    map[string]error
	queries []string
	limits  []int
}

func (s *fakeSearch) Search(_ context.Context, query string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	s.limits = append(s.limits, limit)
	if err := s.errs[query]; err != nil {
		return nil, err
	}
	return s.results[query], nil
}

func (s *fakeSearch) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	urls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, pageURL)
	text, ok := f.pages[pageURL]
	if !ok {
		return "", errors.New("not found")
	}
	return text, nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(gw clients.Gateway, search SearchProvider, fetcher ContentFetcher) *ResearchEngine {
	e := NewEngineWith(gw, search, fetcher)
	e.SetLogger(quietLogger())
	return e
}

func TestRun_Scenario(t *testing.T) {
	gw := newScriptedGateway().
		on(callInitial, always(`["a", "b"]`)).
		on(callEvaluate, func(user string) (string, bool) {
			if strings.Contains(user, "page one") {
				return "Yes", true
			}
			return "No", true
		}).
		on(callExtract, always("  p1  ")).
		on(callRefine, always("")).
		on(callReport, always("R"))

	search := &fakeSearch{results: map[string][]string{
		"a": {"u1", "u2"},
		"b": {"u2"},
	}}
	fetcher := &fakeFetcher{pages: map[string]string{"u1": "page one", "u2": "page two"}}

	report, err := newTestEngine(gw, search, fetcher).Run(context.Background(), "X", 3, 5)
	require.NoError(t, err)
	assert.Equal(t, "R\n\nReferences:\n[1] u1", report)

	assert.ElementsMatch(t, []string{"a", "b"}, search.calls())
	assert.Equal(t, 2, fetcher.count(), "u2 is fetched once even though two queries surfaced it")
	assert.Equal(t, 2, gw.count(callEvaluate))
	assert.Equal(t, 1, gw.count(callExtract))
	assert.Equal(t, 1, gw.count(callRefine))

	extractPrompt := gw.promptsFor(callExtract)[0]
	assert.Contains(t, extractPrompt, "Search Query: a")

	reportPrompt := gw.promptsFor(callReport)[0]
	assert.Contains(t, reportPrompt, "p1 [1]")
}

func TestRun_NoInitialQueries(t *testing.T) {
	for name, initial := range map[string]func(string) (string, bool){
		"gateway failure": failing(),
		"empty list":      always("[]"),
		"not a list":      always("Here are some ideas: search the web"),
	} {
		t.Run(name, func(t *testing.T) {
			gw := newScriptedGateway().on(callInitial, initial)
			search := &fakeSearch{}
			fetcher := &fakeFetcher{}

			report, err := newTestEngine(gw, search, fetcher).Run(context.Background(), "X", 3, 5)
			require.NoError(t, err)
			assert.Equal(t, NoQueriesMessage, report)
			assert.Empty(t, search.calls())
			assert.Zero(t, fetcher.count())
			assert.Zero(t, gw.count(callEvaluate))
			assert.Zero(t, gw.count(callExtract))
			assert.Zero(t, gw.count(callRefine))
			assert.Zero(t, gw.count(callReport))
		})
	}
}

func TestRun_EmptyFetchSkipsEvaluator(t *testing.T) {
	gw := newScriptedGateway().
		on(callInitial, always(`["a"]`)).
		on(callEvaluate, always("Yes")).
		on(callExtract, always("p")).
		on(callRefine, always("STOP")).
		on(callReport, always("R"))

	search := &fakeSearch{results: map[string][]string{"a": {"empty", "blank", "missing"}}}
	fetcher := &fakeFetcher{pages: map[string]string{"empty": "", "blank": "  \n "}}

	report, err := newTestEngine(gw, search, fetcher).Run(context.Background(), "X", 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, fetcher.count())
	assert.Zero(t, gw.count(callEvaluate))
	assert.Zero(t, gw.count(callExtract))
	assert.Equal(t, "R\n\nReferences:\n", report)
}

func TestRun_NotUsefulSkipsExtractor(t *testing.T) {
	gw := newScriptedGateway().
		on(callInitial, always(`["a"]`)).
		on(callEvaluate, always("No")).
		on(callExtract, always("p")).
		on(callRefine, always("STOP")).
		on(callReport, always("R"))

	search := &fakeSearch{results: map[string][]string{"a": {"u1", "u2"}}}
	fetcher := &fakeFetcher{pages: map[string]string{"u1": "one", "u2": "two"}}

	_, err := newTestEngine(gw, search, fetcher).Run(context.Background(), "X", 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, gw.count(callEvaluate))
	assert.Zero(t, gw.count(callExtract))
}

func TestRun_StopEndsEarly(t *testing.T) {
	for _, stop := range []string{"", `""`, "''", "STOP", "```\nSTOP\n```"} {
		t.Run(stop, func(t *testing.T) {
			gw := newScriptedGateway().
				on(callInitial, always(`["a", "b"]`)).
				on(callRefine, always(stop)).
				on(callReport, always("R"))
			search := &fakeSearch{}

			var updates []ResearchState
			e := newTestEngine(gw, search, &fakeFetcher{})
			e.OnStateUpdate = func(s ResearchState) { updates = append(updates, s) }

			_, err := e.Run(context.Background(), "X", 5, 5)
			require.NoError(t, err)
			assert.Len(t, search.calls(), 2, "only the first batch is searched")
			assert.Equal(t, 1, gw.count(callRefine))
			require.NotEmpty(t, updates)
			assert.Equal(t, 1, updates[len(updates)-1].Iteration)
		})
	}
}

func TestRun_MalformedRefineTerminates(t *testing.T) {
	for name, refine := range map[string]func(string) (string, bool){
		"garbage":         always("I think we should look at more sources"),
		"empty list":      always("[]"),
		"gateway failure": failing(),
		"python call":     always("__import__('os').system('true')"),
	} {
		t.Run(name, func(t *testing.T) {
			gw := newScriptedGateway().
				on(callInitial, always(`["a"]`)).
				on(callEvaluate, always("Yes")).
				on(callExtract, always("p1")).
				on(callRefine, refine).
				on(callReport, always("R"))
			search := &fakeSearch{results: map[string][]string{"a": {"u1"}}}
			fetcher := &fakeFetcher{pages: map[string]string{"u1": "text"}}

			report, err := newTestEngine(gw, search, fetcher).Run(context.Background(), "X", 4, 5)
			require.NoError(t, err)
			assert.Equal(t, "R\n\nReferences:\n[1] u1", report)
			assert.Equal(t, []string{"a"}, search.calls())
		})
	}
}

func TestRun_IterationLimit(t *testing.T) {
	gw := newScriptedGateway().
		on(callInitial, always(`["q1"]`)).
		on(callRefine, sequence(`["q2"]`, `["q3"]`, `["q4"]`)).
		on(callReport, always("R"))
	search := &fakeSearch{}

	var last ResearchState
	e := newTestEngine(gw, search, &fakeFetcher{})
	e.OnStateUpdate = func(s ResearchState) { last = s }

	_, err := e.Run(context.Background(), "X", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q2"}, search.calls())
	assert.Equal(t, 2, last.Iteration)
	assert.Equal(t, 2, last.IterationLimit)
	assert.Equal(t, []string{"q1", "q2"}, last.Queries)
	assert.Equal(t, 2, gw.count(callRefine))
}

func TestRun_NothingNewTerminates(t *testing.T) {
	gw := newScriptedGateway().
		on(callInitial, always(`["a", "b"]`)).
		on(callRefine, always(`["b", "a"]`)).
		on(callReport, always("R"))
	search := &fakeSearch{}

	_, err := newTestEngine(gw, search, &fakeFetcher{}).Run(context.Background(), "X", 5, 5)
	require.NoError(t, err)
	assert.Len(t, search.calls(), 2)
	assert.Equal(t, 1, gw.count(callRefine))
}

func TestRun_RefineOnlySearchesNewQueries(t *testing.T) {
	gw := newScriptedGateway().
		on(callInitial, always(`["a"]`)).
		on(callRefine, sequence(`["a", "c"]`, "STOP")).
		on(callReport, always("R"))
	search := &fakeSearch{}

	_, err := newTestEngine(gw, search, &fakeFetcher{}).Run(context.Background(), "X", 5, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, search.calls())

	refinePrompts := gw.promptsFor(callRefine)
	require.Len(t, refinePrompts, 2)
	assert.Contains(t, refinePrompts[1], `Previous Queries: ["a","c"]`)
}

func TestRun_RefineSeesAllPassages(t *testing.T) {
	gw := newScriptedGateway().
		on(callInitial, always(`["a"]`)).
		on(callEvaluate, always("Yes")).
		on(callExtract, func(user string) (string, bool) {
			if strings.Contains(user, "first page") {
				return "fact one", true
			}
			return "fact two", true
		}).
		on(callRefine, sequence(`["b"]`, "STOP")).
		on(callReport, always("R"))
	search := &fakeSearch{results: map[string][]string{"a": {"u1"}, "b": {"u2", "u1"}}}
	fetcher := &fakeFetcher{pages: map[string]string{"u1": "first page", "u2": "second page"}}

	report, err := newTestEngine(gw, search, fetcher).Run(context.Background(), "X", 5, 5)
	require.NoError(t, err)

	refinePrompts := gw.promptsFor(callRefine)
	require.Len(t, refinePrompts, 2)
	assert.Contains(t, refinePrompts[0], "fact one")
	assert.Contains(t, refinePrompts[1], "fact one\nfact two\nfact one")

	// u1 appears in two iterations and keeps its first citation number.
	assert.Equal(t, "R\n\nReferences:\n[1] u1\n[2] u2", report)
	reportPrompt := gw.promptsFor(callReport)[0]
	assert.Contains(t, reportPrompt, "fact one [1]\nfact two [2]\nfact one [1]")
}

func TestRun_SearchFailureIsIsolated(t *testing.T) {
	gw := newScriptedGateway().
		on(callInitial, always(`["broken", "fine"]`)).
		on(callEvaluate, always("Yes")).
		on(callExtract, always("p")).
		on(callRefine, always("STOP")).
		on(callReport, always("R"))
	search := &fakeSearch{
		results: map[string][]string{"fine": {"u1", "u2", "u3"}},
		errs:    map[string]error{"broken": errors.New("quota exceeded")},
	}
	fetcher := &fakeFetcher{pages: map[string]string{"u1": "x", "u2": "y", "u3": "z"}}

	report, err := newTestEngine(gw, search, fetcher).Run(context.Background(), "X", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.count(), "results are capped at the per-search limit")
	assert.Equal(t, "R\n\nReferences:\n[1] u1\n[2] u2", report)
	for _, l := range search.limits {
		assert.Equal(t, 2, l)
	}
}

func TestRun_ReportFailure(t *testing.T) {
	gw := newScriptedGateway().
		on(callInitial, always(`["a"]`)).
		on(callRefine, always("STOP")).
		on(callReport, failing())

	report, err := newTestEngine(gw, &fakeSearch{}, &fakeFetcher{}).Run(context.Background(), "X", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, ReportErrorMessage, report)
}

type blockingSearch struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingSearch) Search(ctx context.Context, _ string, _ int) ([]string, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_Cancelled(t *testing.T) {
	gw := newScriptedGateway().
		on(callInitial, always(`["a", "b"]`)).
		on(callReport, always("R"))
	search := &blockingSearch{started: make(chan struct{})}

	var updates atomic.Int32
	e := newTestEngine(gw, search, &fakeFetcher{})
	e.OnStateUpdate = func(ResearchState) { updates.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-search.started
		cancel()
	}()

	report, err := e.Run(ctx, "X", 3, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report)
	assert.Zero(t, gw.count(callRefine))
	assert.Zero(t, gw.count(callReport))
	assert.Equal(t, int32(1), updates.Load(), "only the start snapshot is published")
}

func TestRun_InvalidArguments(t *testing.T) {
	e := newTestEngine(newScriptedGateway(), &fakeSearch{}, &fakeFetcher{})

	tests := []struct {
		name       string
		topic      string
		iterations int
		results    int
	}{
		{"empty topic", "   ", 1, 1},
		{"zero iterations", "X", 0, 1},
		{"zero results", "X", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Run(context.Background(), tt.topic, tt.iterations, tt.results)
			assert.Error(t, err)
		})
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	gw := newScriptedGateway().
		on(callInitial, always(`["a"]`)).
		on(callEvaluate, func(string) (string, bool) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			return "No", true
		}).
		on(callRefine, always("STOP")).
		on(callReport, always("R"))
	search := &fakeSearch{results: map[string][]string{"a": {"u1", "u2", "u3", "u4", "u5"}}}
	fetcher := &fakeFetcher{pages: map[string]string{"u1": "1", "u2": "2", "u3": "3", "u4": "4", "u5": "5"}}

	e := newTestEngine(gw, search, fetcher)
	e.MaxConcurrency = 2

	_, err := e.Run(context.Background(), "X", 1, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, gw.count(callEvaluate))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
