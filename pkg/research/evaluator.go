package research

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mikeboe/deep-research/pkg/clients"
)

// Evaluator judges whether a page is worth extracting from.
type Evaluator struct {
	Gateway clients.Gateway
	Logger  *slog.Logger
}

func NewEvaluator(gw clients.Gateway) *Evaluator {
	return &Evaluator{Gateway: gw, Logger: slog.Default()}
}

func (e *Evaluator) Evaluate(ctx context.Context, topic, pageText string) Verdict {
	answer, ok := e.Gateway.Complete(ctx, usefulnessMessages(topic, pageText))
	if !ok {
		return NotUseful
	}
	return ParseVerdict(answer)
}

// ParseVerdict maps a model answer to a verdict. An exact Yes or No wins,
// then a Yes or No anywhere in the text; everything else is NotUseful.
func ParseVerdict(answer string) Verdict {
	answer = strings.TrimSpace(answer)
	switch answer {
	case "Yes":
		return Useful
	case "No":
		return NotUseful
	}
	if strings.Contains(answer, "Yes") {
		return Useful
	}
	return NotUseful
}

// Extractor pulls the passages relevant to the topic out of a page.
type Extractor struct {
	Gateway clients.Gateway
	Logger  *slog.Logger
}

func NewExtractor(gw clients.Gateway) *Extractor {
	return &Extractor{Gateway: gw, Logger: slog.Default()}
}

// Extract returns the trimmed passage, or "" when the model call failed.
func (x *Extractor) Extract(ctx context.Context, topic, query, pageText string) string {
	text, ok := x.Gateway.Complete(ctx, extractionMessages(topic, query, pageText))
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}
