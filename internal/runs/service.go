package runs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/deforum_launcher/internal/entrypoints"
	"github.com/dgnsrekt/deforum_launcher/internal/pipeline"
	"github.com/dgnsrekt/deforum_launcher/internal/storage"
	"github.com/google/uuid"
)

// StartInput selects the pipeline and arguments for a new run. Empty
// Pipeline and ModelID fall back to the service defaults.
type StartInput struct {
	Pipeline string
	ModelID  string
	Args     map[string]any
}

// Service records pipeline runs and executes them through a pipeline.Runner.
type Service struct {
	logger       *slog.Logger
	runner       pipeline.Runner
	store        *Store
	defaultModel string
	eventsDir    string

	base context.Context
	wg   sync.WaitGroup
}

// NewService creates a run service. Background runs are bound to base and
// stop when it is cancelled.
func NewService(base context.Context, logger *slog.Logger, runner pipeline.Runner, store *Store, defaultModel string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:       logger,
		runner:       runner,
		store:        store,
		defaultModel: defaultModel,
		base:         base,
	}
}

func (s *Service) prepare(in StartInput) (Record, error) {
	name := strings.TrimSpace(in.Pipeline)
	if name == "" {
		name = entrypoints.Animation
	}
	if name != entrypoints.Animation && name != entrypoints.AnimateDiff {
		return Record{}, newError(CodeValidation, "unsupported pipeline: "+name, nil)
	}
	model := strings.TrimSpace(in.ModelID)
	if model == "" {
		model = s.defaultModel
	}
	if model == "" {
		return Record{}, newError(CodeValidation, "model_id is required", nil)
	}

	rec := Record{
		ID:        uuid.NewString(),
		Pipeline:  name,
		ModelID:   model,
		Status:    StatusQueued,
		Args:      in.Args,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Save(rec); err != nil {
		return Record{}, newError(CodeStoreFailure, "failed to record run", err)
	}
	return rec, nil
}

// WithEventLog writes every run's status and frame events as JSON lines
// under dir.
func (s *Service) WithEventLog(dir string) *Service {
	s.eventsDir = dir
	return s
}

// Event is one line of a run's event log.
type Event struct {
	RunID string    `json:"run_id"`
	Event string    `json:"event"`
	Time  time.Time `json:"time"`
	Frame int       `json:"frame,omitempty"`
	Path  string    `json:"path,omitempty"`
	Error string    `json:"error,omitempty"`
}

func (s *Service) openEventLog(runID string) *storage.JSONLWriter {
	if s.eventsDir == "" {
		return nil
	}
	return storage.NewJSONLWriter(s.logger, s.eventsDir, "events", runID, 256, 10)
}

// Start records a queued run and executes it in the background.
func (s *Service) Start(_ context.Context, in StartInput) (Record, error) {
	rec, err := s.prepare(in)
	if err != nil {
		return Record{}, err
	}
	s.logger.Info("run queued", "run_id", rec.ID, "pipeline", rec.Pipeline, "model_id", rec.ModelID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(s.base, rec, nil); err != nil {
			s.logger.Error("run failed", "run_id", rec.ID, "error", err)
		}
	}()
	return rec, nil
}

// Run records and executes a run on the calling goroutine. onImage receives
// every frame event the pipeline reports.
func (s *Service) Run(ctx context.Context, in StartInput, onImage func(pipeline.ImageEvent)) (Record, error) {
	rec, err := s.prepare(in)
	if err != nil {
		return Record{}, err
	}
	return s.execute(ctx, rec, onImage)
}

func (s *Service) execute(ctx context.Context, rec Record, onImage func(pipeline.ImageEvent)) (Record, error) {
	started := time.Now().UTC()
	rec.Status = StatusRunning
	rec.StartedAt = &started
	s.save(rec)

	events := s.openEventLog(rec.ID)
	closeEvents := func() {
		if events == nil {
			return
		}
		if err := events.Close(); err != nil {
			s.logger.Debug("run event log close failed", "run_id", rec.ID, "error", err)
		}
		rec.EventLog = events.Path()
	}
	emit := func(evt Event) {
		if events == nil {
			return
		}
		evt.RunID = rec.ID
		evt.Time = time.Now().UTC()
		_ = events.Write(evt)
	}
	emit(Event{Event: string(StatusRunning)})

	var images atomic.Int64
	res, err := s.runner.Run(ctx, pipeline.Request{
		Pipeline: rec.Pipeline,
		ModelID:  rec.ModelID,
		Args:     rec.Args,
		OnImage: func(evt pipeline.ImageEvent) {
			images.Add(1)
			emit(Event{Event: "image", Frame: evt.Frame, Path: evt.Path})
			if onImage != nil {
				onImage(evt)
			}
		},
	})

	finished := time.Now().UTC()
	rec.FinishedAt = &finished
	rec.Images = int(images.Load())
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		emit(Event{Event: string(StatusFailed), Error: rec.Error})
		closeEvents()
		s.save(rec)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return rec, err
		}
		return rec, newError(CodePipelineFailure, "pipeline run failed", err)
	}

	rec.Status = StatusSucceeded
	rec.VideoPath = res.VideoPath
	emit(Event{Event: string(StatusSucceeded), Path: rec.VideoPath})
	closeEvents()
	s.save(rec)
	s.logger.Info("run finished", "run_id", rec.ID, "video_path", rec.VideoPath, "images", rec.Images, "duration", finished.Sub(started))
	return rec, nil
}

func (s *Service) save(rec Record) {
	if err := s.store.Save(rec); err != nil {
		s.logger.Warn("failed to persist run record", "run_id", rec.ID, "status", rec.Status, "error", err)
	}
}

// MarkInterrupted fails every stored run that never reached a terminal
// state, such as runs left behind by a killed server. It returns how many
// records changed.
func (s *Service) MarkInterrupted() (int, error) {
	recs, err := s.store.List()
	if err != nil {
		return 0, newError(CodeStoreFailure, "failed to list runs", err)
	}
	n := 0
	for _, rec := range recs {
		if rec.Done() {
			continue
		}
		finished := time.Now().UTC()
		rec.Status = StatusFailed
		rec.Error = "interrupted"
		rec.FinishedAt = &finished
		if err := s.store.Save(rec); err != nil {
			return n, newError(CodeStoreFailure, "failed to record run", err)
		}
		s.logger.Warn("run interrupted", "run_id", rec.ID, "pipeline", rec.Pipeline)
		n++
	}
	return n, nil
}

// Get returns a run by ID.
func (s *Service) Get(_ context.Context, id string) (Record, error) {
	return s.store.Get(strings.TrimSpace(id))
}

// List returns every recorded run, newest first.
func (s *Service) List(_ context.Context) ([]Record, error) {
	recs, err := s.store.List()
	if err != nil {
		return nil, newError(CodeStoreFailure, "failed to list runs", err)
	}
	return recs, nil
}

// Wait blocks until every background run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
