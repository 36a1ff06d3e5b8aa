package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/research"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrReportNotReady = errors.New("report not ready")
)

// EngineFactory builds a fresh engine for one job.
type EngineFactory func(ctx context.Context) (*research.ResearchEngine, error)

type Service struct {
	Store     JobStore
	Cfg       *config.Config
	NewEngine EngineFactory
	Logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(store JobStore, cfg *config.Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		Store: store,
		Cfg:   cfg,
		NewEngine: func(ctx context.Context) (*research.ResearchEngine, error) {
			return research.NewEngine(ctx, cfg)
		},
		Logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
}

type CreateJobRequest struct {
	Topic            string `json:"topic"`
	Iterations       int    `json:"iterations"`
	ResultsPerSearch int    `json:"results_per_search"`
}

func (s *Service) newJob(req CreateJobRequest) (*database.Job, error) {
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic cannot be empty", ErrInvalidRequest)
	}

	jobCfg := database.JobConfig{IterationLimit: req.Iterations, ResultsPerSearch: req.ResultsPerSearch}
	if jobCfg.IterationLimit == 0 {
		jobCfg.IterationLimit = s.Cfg.MaxIterations
	}
	if jobCfg.ResultsPerSearch == 0 {
		jobCfg.ResultsPerSearch = s.Cfg.ResultsPerSearch
	}
	if jobCfg.IterationLimit < 1 {
		return nil, fmt.Errorf("%w: iterations must be at least 1", ErrInvalidRequest)
	}
	if jobCfg.ResultsPerSearch < 1 {
		return nil, fmt.Errorf("%w: results_per_search must be at least 1", ErrInvalidRequest)
	}

	return &database.Job{
		ID:     uuid.New(),
		Topic:  topic,
		Status: database.StatusPending,
		Config: jobCfg,
	}, nil
}

// CreateJob records the job and starts it in the background.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*database.Job, error) {
	job, err := s.newJob(req)
	if err != nil {
		return nil, err
	}
	if err := s.Store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.runJob(s.ctx, job)
	}()

	return job, nil
}

// RunJob records the job and runs it to completion before returning.
func (s *Service) RunJob(ctx context.Context, req CreateJobRequest) (*database.Job, string, error) {
	job, err := s.newJob(req)
	if err != nil {
		return nil, "", err
	}
	if err := s.Store.CreateJob(ctx, job); err != nil {
		return nil, "", err
	}

	report, err := s.runJob(ctx, job)
	return job, report, err
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error) {
	return s.Store.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context) ([]database.Job, error) {
	return s.Store.ListJobs(ctx, 50)
}

func (s *Service) GetJobLogs(ctx context.Context, id uuid.UUID) ([]database.LogEntry, error) {
	if _, err := s.Store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.GetLogs(ctx, id)
}

// Report returns the final report of a completed job.
func (s *Service) Report(ctx context.Context, id uuid.UUID) (*database.Job, string, error) {
	job, err := s.Store.GetJob(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.Status != database.StatusCompleted || job.Report == nil {
		return job, "", ErrReportNotReady
	}
	return job, *job.Report, nil
}

// Close cancels running jobs and waits for their workers to exit.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) runJob(ctx context.Context, job *database.Job) (string, error) {
	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	// Store writes use a background context so the final status is recorded
	// even when ctx is cancelled.
	bg := context.Background()
	jobLogger := slog.New(NewJobLogHandler(s.Store, job.ID, s.Logger.Handler()))

	if err := s.Store.UpdateStatus(bg, job.ID, database.StatusRunning); err != nil {
		jobLogger.Error("Failed to mark job running", "error", err)
	}

	engine, err := s.NewEngine(ctx)
	if err != nil {
		s.failJob(job.ID, jobLogger, fmt.Sprintf("Failed to init engine: %v", err))
		return "", err
	}
	engine.SetLogger(jobLogger)
	engine.OnStateUpdate = func(state research.ResearchState) {
		if err := s.Store.UpdateProgress(bg, job.ID, progressOf(state)); err != nil {
			jobLogger.Error("Failed to save progress", "error", err)
		}
	}

	report, err := engine.Run(ctx, job.Topic, job.Config.IterationLimit, job.Config.ResultsPerSearch)
	if err != nil {
		s.failJob(job.ID, jobLogger, fmt.Sprintf("Research failed: %v", err))
		return "", err
	}

	if err := s.Store.CompleteJob(bg, job.ID, report); err != nil {
		jobLogger.Error("Failed to save final report", "error", err)
	}
	return report, nil
}

func (s *Service) failJob(jobID uuid.UUID, logger *slog.Logger, reason string) {
	logger.Error(reason)
	if err := s.Store.FailJob(context.Background(), jobID, reason); err != nil {
		s.Logger.Error("Failed to mark job failed", "job_id", jobID, "error", err)
	}
}

func progressOf(state research.ResearchState) database.Progress {
	return database.Progress{
		Iteration:      state.Iteration,
		IterationLimit: state.IterationLimit,
		Queries:        state.Queries,
		Passages:       len(state.Passages),
		Sources:        research.BuildCitationIndex(state.Passages).Len(),
	}
}
