package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikeboe/deep-research/pkg/clients"
)

const (
	NoQueriesMessage   = "No search queries were generated by the LLM. Terminating process."
	ReportErrorMessage = "Error occurred while generating the report."
)

// CitationIndex numbers source URLs 1..N in the order they first appear.
type CitationIndex struct {
	numbers map[string]int
	urls    []string
}

func BuildCitationIndex(passages []SourcedPassage) *CitationIndex {
	idx := &CitationIndex{numbers: make(map[string]int)}
	for _, p := range passages {
		if _, ok := idx.numbers[p.SourceURL]; ok {
			continue
		}
		idx.urls = append(idx.urls, p.SourceURL)
		idx.numbers[p.SourceURL] = len(idx.urls)
	}
	return idx
}

// Number returns the citation number of url, or 0 when it is not indexed.
func (c *CitationIndex) Number(url string) int {
	return c.numbers[url]
}

func (c *CitationIndex) Len() int {
	return len(c.urls)
}

// References lists "[n] url" lines in citation order.
func (c *CitationIndex) References() []string {
	refs := make([]string, len(c.urls))
	for i, u := range c.urls {
		refs[i] = fmt.Sprintf("[%d] %s", i+1, u)
	}
	return refs
}

// Synthesizer writes the final cited report.
type Synthesizer struct {
	Gateway clients.Gateway
	Logger  *slog.Logger
}

func NewSynthesizer(gw clients.Gateway) *Synthesizer {
	return &Synthesizer{Gateway: gw, Logger: slog.Default()}
}

// Synthesize asks the model for a report over the numbered passages and
// appends the reference list. A failed call yields ReportErrorMessage.
func (s *Synthesizer) Synthesize(ctx context.Context, topic string, passages []SourcedPassage) string {
	idx := BuildCitationIndex(passages)

	lines := make([]string, len(passages))
	for i, p := range passages {
		lines[i] = fmt.Sprintf("%s [%d]", p.Text, idx.Number(p.SourceURL))
	}

	s.Logger.Info("Generating final report", "passages", len(passages), "sources", idx.Len())

	report, ok := s.Gateway.Complete(ctx, reportMessages(topic, strings.Join(lines, "\n")))
	if !ok || report == "" {
		s.Logger.Error("Report generation failed")
		return ReportErrorMessage
	}

	return report + "\n\nReferences:\n" + strings.Join(idx.References(), "\n")
}
