package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
)

// JobLogHandler is a slog.Handler that stores every record as a job log line
// and forwards it to Next (usually the process logger) when Next wants it.
type JobLogHandler struct {
	Store JobStore
	JobID uuid.UUID
	Next  slog.Handler

	attrs []slog.Attr
}

func NewJobLogHandler(store JobStore, jobID uuid.UUID, next slog.Handler) *JobLogHandler {
	return &JobLogHandler{Store: store, JobID: jobID, Next: next}
}

func (h *JobLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *JobLogHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = attrValue(a.Value)
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	// Stored with a background context so lines survive the job being cancelled.
	storeErr := h.Store.AppendLog(context.Background(), h.JobID, database.LogEntry{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  metaJSON,
	})

	if h.Next != nil && h.Next.Enabled(ctx, r.Level) {
		rec := r.Clone()
		rec.AddAttrs(slog.String("job_id", h.JobID.String()))
		if err := h.Next.Handle(ctx, rec); err != nil {
			return err
		}
	}
	return storeErr
}

func (h *JobLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	if h.Next != nil {
		clone.Next = h.Next.WithAttrs(attrs)
	}
	return &clone
}

// WithGroup is not supported; grouped attributes are stored flat.
func (h *JobLogHandler) WithGroup(name string) slog.Handler {
	return h
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	return v.Any()
}
