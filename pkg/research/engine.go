package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/research/tools"
)

// ResearchEngine runs the iterative search, read, extract and refine loop
// and hands the gathered passages to the synthesizer.
type ResearchEngine struct {
	Planner     *Planner
	Evaluator   *Evaluator
	Extractor   *Extractor
	Synthesizer *Synthesizer
	Search      SearchProvider
	Fetcher     ContentFetcher

	// MaxConcurrency bounds each fan-out; 0 means one goroutine per task.
	MaxConcurrency int
	Logger         *slog.Logger
	OnStateUpdate  func(state ResearchState)
}

// NewEngine wires the gateway, search provider and content fetcher selected
// by cfg.
func NewEngine(ctx context.Context, cfg *config.Config) (*ResearchEngine, error) {
	gw, err := clients.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init LLM gateway: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var search SearchProvider
	switch cfg.SearchProvider {
	case config.SearchArxiv:
		search = tools.NewArxiv(httpClient)
	case config.SearchSerpAPI, "":
		search = tools.NewSerpAPI(cfg.SerpAPIKey, httpClient)
	default:
		return nil, fmt.Errorf("invalid search provider: %s", cfg.SearchProvider)
	}

	var fetcher tools.Fetcher
	if cfg.JinaAPIKey != "" {
		fetcher = tools.NewJinaReader(cfg.JinaAPIKey, httpClient)
	} else {
		fetcher = tools.NewDirectFetcher(httpClient)
	}
	if cfg.RedisURL != "" {
		rdb, err := tools.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		fetcher = tools.NewCachedFetcher(fetcher, rdb, cfg.PageCacheTTL)
	}

	e := NewEngineWith(gw, search, fetcher)
	e.MaxConcurrency = cfg.MaxConcurrency
	return e, nil
}

// NewEngineWith builds an engine around already constructed collaborators.
func NewEngineWith(gw clients.Gateway, search SearchProvider, fetcher ContentFetcher) *ResearchEngine {
	return &ResearchEngine{
		Planner:     NewPlanner(gw),
		Evaluator:   NewEvaluator(gw),
		Extractor:   NewExtractor(gw),
		Synthesizer: NewSynthesizer(gw),
		Search:      search,
		Fetcher:     fetcher,
		Logger:      slog.Default(),
	}
}

// SetLogger points the engine and all of its components at logger.
func (e *ResearchEngine) SetLogger(logger *slog.Logger) {
	e.Logger = logger
	e.Planner.Logger = logger
	e.Evaluator.Logger = logger
	e.Extractor.Logger = logger
	e.Synthesizer.Logger = logger
}

// Run researches topic for at most iterationLimit iterations, asking the
// search provider for resultsPerSearch links per query, and returns the
// report. Component failures degrade into fewer passages or a fixed message;
// an error is returned only for invalid arguments or when ctx is cancelled.
func (e *ResearchEngine) Run(ctx context.Context, topic string, iterationLimit, resultsPerSearch int) (string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", errors.New("research topic is empty")
	}
	if iterationLimit < 1 {
		return "", fmt.Errorf("iteration limit must be at least 1, got %d", iterationLimit)
	}
	if resultsPerSearch < 1 {
		return "", fmt.Errorf("results per search must be at least 1, got %d", resultsPerSearch)
	}

	start := time.Now()
	metrics.RunsStarted.Inc()
	state := &ResearchState{Topic: topic, IterationLimit: iterationLimit}
	finish := func(outcome string) {
		metrics.RunsCompleted.WithLabelValues(outcome).Inc()
		metrics.RunDuration.Observe(time.Since(start).Seconds())
		metrics.Iterations.Observe(float64(state.Iteration))
	}

	e.Logger.Info("Starting research loop", "topic", topic, "iteration_limit", iterationLimit, "results_per_search", resultsPerSearch)
	e.notify(state)

	batch := e.Planner.Initial(ctx, topic)
	if err := ctx.Err(); err != nil {
		finish("cancelled")
		return "", fmt.Errorf("research cancelled: %w", err)
	}
	if len(batch) == 0 {
		e.Logger.Warn(NoQueriesMessage)
		finish("no_queries")
		return NoQueriesMessage, nil
	}
	state.Queries = append(state.Queries, batch...)

	for state.Iteration < iterationLimit {
		e.Logger.Info("Starting iteration", "iteration", state.Iteration+1, "max", iterationLimit, "queries", []string(batch))

		passages, err := e.runIteration(ctx, topic, batch, resultsPerSearch)
		if err != nil {
			finish("cancelled")
			return "", err
		}
		if len(passages) == 0 {
			e.Logger.Info("No relevant information found in this iteration", "iteration", state.Iteration+1)
		}

		texts := append(state.PassageTexts(), passageTexts(passages)...)
		plan := e.Planner.Refine(ctx, topic, state.Queries, texts)
		if err := ctx.Err(); err != nil {
			finish("cancelled")
			return "", fmt.Errorf("research cancelled: %w", err)
		}

		state.Passages = append(state.Passages, passages...)
		state.Iteration++
		metrics.PassagesRetained.Add(float64(len(passages)))
		e.notify(state)

		if plan.Decision != Continue {
			e.Logger.Info("Research loop finished", "decision", plan.Decision.String(), "reason", plan.Reason, "iteration", state.Iteration)
			break
		}

		fresh := state.Unissued(plan.Queries)
		if len(fresh) == 0 {
			e.Logger.Info("Research loop finished", "decision", "no_new_queries", "iteration", state.Iteration)
			break
		}
		state.Queries = append(state.Queries, fresh...)
		batch = fresh
		e.Logger.Info("New search queries generated", "queries", []string(fresh))
	}

	report := e.Synthesizer.Synthesize(ctx, topic, state.Passages)
	if err := ctx.Err(); err != nil {
		finish("cancelled")
		return "", fmt.Errorf("research cancelled: %w", err)
	}

	finish("completed")
	e.Logger.Info("Final report generated", "length", len(report), "passages", len(state.Passages), "iterations", state.Iteration)
	return report, nil
}

func (e *ResearchEngine) notify(state *ResearchState) {
	if e.OnStateUpdate != nil {
		e.OnStateUpdate(state.Snapshot())
	}
}

func (e *ResearchEngine) runIteration(ctx context.Context, topic string, batch QueryBatch, resultsPerSearch int) ([]SourcedPassage, error) {
	results, err := e.searchAll(ctx, batch, resultsPerSearch)
	if err != nil {
		return nil, err
	}

	links := BuildLinkQueryMap(batch, results)
	e.Logger.Info("Aggregated unique links", "count", links.Len())

	return e.processLinks(ctx, topic, links)
}

func (e *ResearchEngine) newGroup(ctx context.Context) (*errgroup.Group, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	if e.MaxConcurrency > 0 {
		g.SetLimit(e.MaxConcurrency)
	}
	return g, gctx
}

// searchAll runs one search per query and waits for all of them. results[i]
// holds the links for batch[i]; a failed search leaves its slot empty.
func (e *ResearchEngine) searchAll(ctx context.Context, batch QueryBatch, limit int) ([][]string, error) {
	results := make([][]string, len(batch))
	g, gctx := e.newGroup(ctx)

	for i, query := range batch {
		g.Go(func() error {
			links, err := e.Search.Search(gctx, query, limit)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				metrics.SearchCalls.WithLabelValues("error").Inc()
				e.Logger.Error("Search failed", "query", query, "error", err)
				return nil
			}
			metrics.SearchCalls.WithLabelValues("ok").Inc()
			if len(links) > limit {
				links = links[:limit]
			}
			results[i] = links
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("search phase cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search phase cancelled: %w", err)
	}
	return results, nil
}

// processLinks runs the fetch, evaluate and extract pipeline for every link
// and returns the passages in link order.
func (e *ResearchEngine) processLinks(ctx context.Context, topic string, links *LinkQueryMap) ([]SourcedPassage, error) {
	slots := make([]*SourcedPassage, links.Len())
	g, gctx := e.newGroup(ctx)

	for i, link := range links.Links {
		query, _ := links.Query(link)
		g.Go(func() error {
			passage, result := e.processLink(gctx, topic, query, link)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			metrics.LinksProcessed.WithLabelValues(result).Inc()
			slots[i] = passage
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("link processing cancelled: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("link processing cancelled: %w", err)
	}

	var passages []SourcedPassage
	for _, p := range slots {
		if p != nil {
			passages = append(passages, *p)
		}
	}
	return passages, nil
}

func (e *ResearchEngine) processLink(ctx context.Context, topic, query, link string) (*SourcedPassage, string) {
	e.Logger.Info("Fetching content", "url", link)
	text, err := e.Fetcher.Fetch(ctx, link)
	if err != nil {
		e.Logger.Warn("Failed to fetch content", "url", link, "error", err)
		return nil, "fetch_failed"
	}
	if strings.TrimSpace(text) == "" {
		return nil, "empty"
	}

	verdict := e.Evaluator.Evaluate(ctx, topic, text)
	e.Logger.Info("Page relevance", "url", link, "useful", verdict.String())
	if verdict != Useful {
		return nil, "not_useful"
	}

	passage := e.Extractor.Extract(ctx, topic, query, text)
	if passage == "" {
		return nil, "no_passage"
	}

	e.Logger.Info("Extracted context", "url", link, "preview", truncateRunes(passage, 200))
	return &SourcedPassage{Text: passage, SourceURL: link}, "extracted"
}

func passageTexts(passages []SourcedPassage) []string {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	return texts
}
