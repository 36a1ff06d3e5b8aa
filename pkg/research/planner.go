package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/metrics"
)

// Planner asks the model for search queries, first from the topic alone and
// then after every iteration from everything gathered so far.
type Planner struct {
	Gateway    clients.Gateway
	Logger     *slog.Logger
	MaxQueries int
}

func NewPlanner(gw clients.Gateway) *Planner {
	return &Planner{Gateway: gw, Logger: slog.Default(), MaxQueries: MaxQueriesPerBatch}
}

// Initial returns the first batch of queries. An empty batch means the model
// failed or answered with something unusable.
func (p *Planner) Initial(ctx context.Context, topic string) QueryBatch {
	text, ok := p.Gateway.Complete(ctx, initialQueriesMessages(topic))
	if !ok {
		p.Logger.Warn("Initial query generation failed")
		return nil
	}

	queries, err := ParseQueryList(text)
	if err != nil {
		p.Logger.Warn("Could not parse initial search queries", "error", err, "response", truncateRunes(text, 500))
		return nil
	}

	batch := NewQueryBatch(queries, p.MaxQueries)
	p.Logger.Info("Generated initial queries", "queries", []string(batch))
	return batch
}

// Refine decides whether another iteration is needed.
func (p *Planner) Refine(ctx context.Context, topic string, priorQueries, passages []string) RefineResult {
	result := p.refine(ctx, topic, priorQueries, passages)
	metrics.RefineDecisions.WithLabelValues(result.Decision.String()).Inc()
	return result
}

func (p *Planner) refine(ctx context.Context, topic string, priorQueries, passages []string) RefineResult {
	text, ok := p.Gateway.Complete(ctx, refineQueriesMessages(topic, priorQueries, passages))
	if !ok {
		return RefineResult{Decision: Exhausted, Reason: "query planner call failed"}
	}

	if isStopSignal(text) {
		return RefineResult{Decision: Stop, Reason: "planner reported no further research needed"}
	}

	queries, err := ParseQueryList(text)
	if err != nil {
		p.Logger.Warn("Could not parse refined search queries", "error", err, "response", truncateRunes(text, 500))
		return RefineResult{Decision: Exhausted, Reason: "unparseable planner response"}
	}

	batch := NewQueryBatch(queries, p.MaxQueries)
	if len(batch) == 0 {
		return RefineResult{Decision: Exhausted, Reason: "planner returned no queries"}
	}
	return RefineResult{Decision: Continue, Queries: batch}
}

func isStopSignal(text string) bool {
	switch s := StripCodeFence(text); {
	case s == "", s == `""`, s == "''":
		return true
	default:
		return strings.EqualFold(strings.Trim(s, `"'.`), "stop")
	}
}

var (
	errEmptyResponse = errors.New("empty response")
	errNotAList      = errors.New("response is not a list of strings")
)

// ParseQueryList reads a list of strings from model output. It accepts a JSON
// array or a list literal of single or double quoted strings, optionally
// wrapped in a ``` fence with a language tag. Nothing is ever evaluated.
func ParseQueryList(text string) ([]string, error) {
	s := StripCodeFence(text)
	if s == "" {
		return nil, errEmptyResponse
	}

	var list []string
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		return list, nil
	}

	list, err := parseQuotedList(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotAList, err)
	}
	return list, nil
}

var fenceTags = map[string]bool{
	"json": true, "python": true, "py": true, "javascript": true, "js": true, "text": true, "plaintext": true,
}

// StripCodeFence removes a surrounding markdown code fence and its language
// tag. Text without a leading fence is only trimmed.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}

	tagEnd := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if tagEnd > 0 && fenceTags[strings.ToLower(s[:tagEnd])] {
		s = s[tagEnd:]
	}
	return strings.TrimSpace(s)
}

// parseQuotedList accepts exactly: '[' (string (',' string)* ','?)? ']'
// where a string is single or double quoted with backslash escapes.
func parseQuotedList(s string) ([]string, error) {
	r := []rune(s)
	i := 0
	skipSpace := func() {
		for i < len(r) && unicode.IsSpace(r[i]) {
			i++
		}
	}

	skipSpace()
	if i >= len(r) || r[i] != '[' {
		return nil, errors.New("expected '['")
	}
	i++

	out := []string{}
	for {
		skipSpace()
		if i >= len(r) {
			return nil, errors.New("unterminated list")
		}
		if r[i] == ']' {
			i++
			break
		}

		quote := r[i]
		if quote != '\'' && quote != '"' {
			return nil, fmt.Errorf("unexpected %q at offset %d", r[i], i)
		}
		i++

		var b strings.Builder
		closed := false
		for i < len(r) {
			c := r[i]
			i++
			if c == '\\' && i < len(r) {
				b.WriteRune(unescape(r[i]))
				i++
				continue
			}
			if c == quote {
				closed = true
				break
			}
			b.WriteRune(c)
		}
		if !closed {
			return nil, errors.New("unterminated string")
		}
		out = append(out, b.String())

		skipSpace()
		if i >= len(r) {
			return nil, errors.New("unterminated list")
		}
		switch r[i] {
		case ',':
			i++
		case ']':
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", r[i], i)
		}
	}

	skipSpace()
	if i != len(r) {
		return nil, errors.New("trailing text after list")
	}
	return out, nil
}

func unescape(c rune) rune {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	default:
		return c
	}
}
