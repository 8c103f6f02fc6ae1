package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgnsrekt/deforum_launcher/internal/entrypoints"
	"github.com/dgnsrekt/deforum_launcher/internal/procmon"
)

const stopGrace = 10 * time.Second

// Args are the keyword arguments handed to a pipeline invocation.
type Args map[string]any

// Merge combines maps left to right; later keys win.
func Merge(maps ...map[string]any) Args {
	out := Args{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// ImageEvent is emitted by the pipeline for each generated frame.
type ImageEvent struct {
	Frame int    `json:"frame"`
	Path  string `json:"path,omitempty"`
	Image string `json:"image,omitempty"`
}

// Request selects a pipeline entry point and its arguments.
type Request struct {
	Pipeline string
	ModelID  string
	Args     Args
	OnImage  func(ImageEvent)
}

// Result is what a finished pipeline reports back.
type Result struct {
	VideoPath string `json:"video_path"`
}

// Runner runs animation pipelines.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// EntryRunner runs plain entry points such as the web UI or installers.
type EntryRunner interface {
	RunEntry(ctx context.Context, name string, vars entrypoints.Vars, stdin io.Reader) (procmon.Result, error)
}

// ExecRunner runs entry points as child processes.
type ExecRunner struct {
	logger       *slog.Logger
	table        *entrypoints.Table
	vars         entrypoints.Vars
	workDir      string
	pollInterval time.Duration
}

// NewExecRunner creates a runner. base holds placeholders shared by every
// entry point ({python}, {src}); workDir receives per-run argument files.
func NewExecRunner(logger *slog.Logger, table *entrypoints.Table, base entrypoints.Vars, workDir string) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{
		logger:       logger,
		table:        table,
		vars:         base,
		workDir:      workDir,
		pollInterval: procmon.DefaultPollInterval,
	}
}

// WithPollInterval overrides the liveness poll interval.
func (r *ExecRunner) WithPollInterval(d time.Duration) *ExecRunner {
	r.pollInterval = d
	return r
}

// Run writes the arguments to disk, runs the pipeline entry point and reads
// the result file it leaves behind. A non-zero exit is an error.
func (r *ExecRunner) Run(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Pipeline) == "" {
		return Result{}, errors.New("pipeline name is required")
	}

	if r.workDir != "" {
		if err := os.MkdirAll(r.workDir, 0o755); err != nil {
			return Result{}, fmt.Errorf("pipeline work dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(r.workDir, "deforum-run-*")
	if err != nil {
		return Result{}, fmt.Errorf("pipeline work dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Debug("pipeline work dir cleanup failed", "dir", dir, "error", err)
		}
	}()

	argsPath := filepath.Join(dir, "args.json")
	resultPath := filepath.Join(dir, "result.json")

	data, err := json.MarshalIndent(req.Args, "", "  ")
	if err != nil {
		return Result{}, fmt.Errorf("pipeline args: %w", err)
	}
	if err := os.WriteFile(argsPath, data, 0o644); err != nil {
		return Result{}, fmt.Errorf("pipeline args: %w", err)
	}

	vars := r.withBase(entrypoints.Vars{
		"model_id": req.ModelID,
		"args":     argsPath,
		"result":   resultPath,
	})
	if sf, ok := req.Args["settings_file"].(string); ok {
		vars["settings_file"] = sf
	}

	argv, err := r.table.Render(req.Pipeline, vars)
	if err != nil {
		return Result{}, err
	}

	r.logger.Info("running pipeline", "pipeline", req.Pipeline, "model_id", req.ModelID, "command", procmon.CommandLine(argv[0], argv[1:]))
	proc, err := procmon.Start(r.logger, procmon.Spec{
		Name:     "deforum-" + req.Pipeline,
		Path:     argv[0],
		Args:     argv[1:],
		OnStdout: imageHook(req.OnImage),
	})
	if err != nil {
		return Result{}, err
	}

	res, err := r.await(ctx, proc)
	if err != nil {
		return Result{}, err
	}
	if !res.Success() {
		if res.Err != nil {
			return Result{}, fmt.Errorf("pipeline %s: %w", req.Pipeline, res.Err)
		}
		return Result{}, fmt.Errorf("pipeline %s exited with code %d", req.Pipeline, res.ExitCode)
	}

	return readResult(resultPath)
}

// RunEntry runs a non-pipeline entry point to completion. The exit status is
// returned as-is; only launch failures and cancellation are errors.
func (r *ExecRunner) RunEntry(ctx context.Context, name string, vars entrypoints.Vars, stdin io.Reader) (procmon.Result, error) {
	argv, err := r.table.Render(name, r.withBase(vars))
	if err != nil {
		return procmon.Result{}, err
	}
	r.logger.Info("running entry point", "entry", name, "command", procmon.CommandLine(argv[0], argv[1:]))
	proc, err := procmon.Start(r.logger, procmon.Spec{
		Name:  name,
		Path:  argv[0],
		Args:  argv[1:],
		Stdin: stdin,
	})
	if err != nil {
		return procmon.Result{}, err
	}
	return r.await(ctx, proc)
}

func (r *ExecRunner) await(ctx context.Context, proc *procmon.Process) (procmon.Result, error) {
	select {
	case res := <-proc.Monitor(r.pollInterval):
		return res, nil
	case <-ctx.Done():
		proc.Stop(stopGrace)
		return procmon.Result{}, ctx.Err()
	}
}

func (r *ExecRunner) withBase(vars entrypoints.Vars) entrypoints.Vars {
	out := make(entrypoints.Vars, len(r.vars)+len(vars))
	for k, v := range r.vars {
		out[k] = v
	}
	for k, v := range vars {
		out[k] = v
	}
	return out
}

func imageHook(onImage func(ImageEvent)) func(string) {
	if onImage == nil {
		return nil
	}
	return func(line string) {
		if !strings.HasPrefix(line, "{") {
			return
		}
		var evt struct {
			Event string `json:"event"`
			ImageEvent
		}
		if err := json.Unmarshal([]byte(line), &evt); err != nil || evt.Event != "image" {
			return
		}
		onImage(evt.ImageEvent)
	}
}

func readResult(path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("pipeline result: %w", err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, fmt.Errorf("pipeline result: %w", err)
	}
	return res, nil
}
