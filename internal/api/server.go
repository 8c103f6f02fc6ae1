package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/deforum_launcher/internal/pipeline"
	"github.com/dgnsrekt/deforum_launcher/internal/runs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Service is the run surface exposed over HTTP and WebSocket.
type Service interface {
	Start(ctx context.Context, in runs.StartInput) (runs.Record, error)
	Run(ctx context.Context, in runs.StartInput, onImage func(pipeline.ImageEvent)) (runs.Record, error)
	Get(ctx context.Context, id string) (runs.Record, error)
	List(ctx context.Context) ([]runs.Record, error)
}

type runOutput struct {
	Body runs.Record
}

type listRunsOutput struct {
	Body struct {
		Runs []runs.Record `json:"runs"`
	}
}

type healthOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// NewServer builds the router: JSON operations under /api/v1, the
// streaming endpoint at /ws and the rendered docs at /docs.
func NewServer(logger *slog.Logger, svc Service) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Deforum API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			logger.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/ws", wsHandler(logger, svc))

	registerRunHandlers(api, svc)
	return router
}

func registerRunHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Liveness check", Tags: []string{"Misc"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "create-run", Method: http.MethodPost, Path: "/api/v1/runs", Summary: "Queue a pipeline run", Tags: []string{"Runs"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *struct {
			Body struct {
				Pipeline string         `json:"pipeline,omitempty" enum:"animation,animatediff" doc:"Pipeline entry point (default animation)"`
				ModelID  string         `json:"model_id,omitempty" doc:"Model id; the server default is used when omitted"`
				Args     map[string]any `json:"args,omitempty" doc:"Keyword arguments handed to the pipeline"`
			}
		}) (*runOutput, error) {
			rec, err := svc.Start(ctx, runs.StartInput{
				Pipeline: input.Body.Pipeline,
				ModelID:  input.Body.ModelID,
				Args:     input.Body.Args,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			return &runOutput{Body: rec}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-runs", Method: http.MethodGet, Path: "/api/v1/runs", Summary: "List recorded runs", Tags: []string{"Runs"}},
		func(ctx context.Context, input *struct{}) (*listRunsOutput, error) {
			recs, err := svc.List(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listRunsOutput{}
			out.Body.Runs = recs
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-run", Method: http.MethodGet, Path: "/api/v1/runs/{run_id}", Summary: "Get a run by id", Tags: []string{"Runs"}},
		func(ctx context.Context, input *struct {
			RunID string `path:"run_id"`
		}) (*runOutput, error) {
			rec, err := svc.Get(ctx, input.RunID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &runOutput{Body: rec}, nil
		})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *runs.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case runs.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case runs.CodeRunNotFound:
			return huma.Error404NotFound(coded.Message)
		case runs.CodePipelineFailure:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
