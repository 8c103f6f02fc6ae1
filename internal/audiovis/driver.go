package audiovis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/deforum_launcher/internal/entrypoints"
	"github.com/dgnsrekt/deforum_launcher/internal/notify"
	"github.com/dgnsrekt/deforum_launcher/internal/pipeline"
	"github.com/dgnsrekt/deforum_launcher/internal/procmon"
	"github.com/dgnsrekt/deforum_launcher/internal/projectm"
	"github.com/dgnsrekt/deforum_launcher/internal/settings"
)

const (
	DefaultFPS        = 24
	DefaultWidth      = 1024
	DefaultHeight     = 576
	DefaultFrameCount = 48
	DefaultModelID    = "125703"
	DefaultPrompt     = "A solo delorean speeding on an ethereal highway through time jumps, like in the iconic movie back to the future."

	stopGrace = 10 * time.Second
)

// ErrVisualizerStart is returned when projectM could not be launched.
var ErrVisualizerStart = errors.New("ProjectM process failed to start")

// Job describes one audio-reactive render.
type Job struct {
	InputAudio   string // local path or http(s) URL
	Preset       string // milkdrop preset
	BaseSettings string // Deforum settings file the overrides are applied to
	OutputDir    string
	FPS          int
	Width        int
	Height       int
	// FrameCount caps the render; 0 derives it from the audio duration.
	FrameCount int
	ModelID    string
	Prompt     string
}

func (j *Job) normalize() {
	if j.FPS < 1 {
		j.FPS = DefaultFPS
	}
	if j.Width == 0 {
		j.Width = DefaultWidth
	}
	if j.Height == 0 {
		j.Height = DefaultHeight
	}
	if j.ModelID == "" {
		j.ModelID = DefaultModelID
	}
	if j.Prompt == "" {
		j.Prompt = DefaultPrompt
	}
}

// Result summarises a finished job.
type Result struct {
	JobName    string
	OutputDir  string
	FrameCount int
	VideoPath  string
	Visualizer procmon.Result
}

// Driver renders projectM frames and runs the animation pipeline over them.
type Driver struct {
	logger       *slog.Logger
	runner       pipeline.Runner
	projectM     projectm.Config
	ffprobe      string
	notifier     *notify.Notifier
	client       *http.Client
	now          func() time.Time
	pollInterval time.Duration
}

// NewDriver creates a driver. ffprobe is only needed when a job does not
// fix its frame count.
func NewDriver(logger *slog.Logger, runner pipeline.Runner, pm projectm.Config, ffprobe string) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &Driver{
		logger:       logger,
		runner:       runner,
		projectM:     pm,
		ffprobe:      ffprobe,
		client:       &http.Client{Timeout: 5 * time.Minute},
		now:          time.Now,
		pollInterval: procmon.DefaultPollInterval,
	}
}

// WithNotifier announces finished jobs through n.
func (d *Driver) WithNotifier(n *notify.Notifier) *Driver {
	d.notifier = n
	return d
}

// WithPollInterval overrides the liveness poll interval for projectM and ffprobe.
func (d *Driver) WithPollInterval(interval time.Duration) *Driver {
	if interval > 0 {
		d.pollInterval = interval
	}
	return d
}

// JobName returns the name used for the output directory and batch.
func JobName(t time.Time) string {
	return "manual_audiovis_" + t.Format("20060102150405")
}

// Run executes the job. projectM runs under its own monitor while the
// pipeline runs on the calling goroutine; Run returns after both finish.
func (d *Driver) Run(ctx context.Context, job Job) (Result, error) {
	job.normalize()

	audio, err := d.fetchAudio(ctx, job.InputAudio)
	if err != nil {
		return Result{}, err
	}

	frames := job.FrameCount
	if frames <= 0 {
		duration, err := d.probeDuration(ctx, audio)
		if err != nil {
			return Result{}, err
		}
		frames = int(math.Floor(float64(job.FPS) * duration))
	}

	name := JobName(d.now())
	res := Result{
		JobName:    name,
		OutputDir:  filepath.Join(job.OutputDir, name),
		FrameCount: frames,
	}
	hybridFrames := filepath.Join(res.OutputDir, "inputframes")
	if err := os.MkdirAll(hybridFrames, 0o755); err != nil {
		return res, fmt.Errorf("create frame dir: %w", err)
	}

	pm := d.projectM
	pm.FPS, pm.Width, pm.Height = job.FPS, job.Width, job.Height
	d.logger.Info("Starting projectM", "frames_dir", hybridFrames, "expected_frames", frames)
	proc, err := projectm.Start(d.logger, pm, audio, hybridFrames, job.Preset)
	if err != nil {
		d.logger.Error("ProjectM process failed to start. Exiting.", "error", err)
		return res, fmt.Errorf("%w: %w", ErrVisualizerStart, err)
	}
	monitor := proc.Monitor(d.pollInterval)

	args, err := settings.Load(job.BaseSettings)
	if err != nil {
		res.Visualizer = proc.Stop(stopGrace)
		return res, err
	}
	for k, v := range overrides(job, res, audio) {
		args[k] = v
	}

	out, err := d.runner.Run(ctx, pipeline.Request{
		Pipeline: entrypoints.Animation,
		ModelID:  job.ModelID,
		Args:     args,
	})
	if err != nil {
		res.Visualizer = proc.Stop(stopGrace)
		return res, err
	}
	res.VideoPath = out.VideoPath
	d.logger.Info("Output video", "path", out.VideoPath)

	select {
	case res.Visualizer = <-monitor:
	case <-ctx.Done():
		res.Visualizer = proc.Stop(stopGrace)
		return res, ctx.Err()
	}
	d.notifier.Notify(ctx, "Deforum audiovis finished", fmt.Sprintf("%s: %s (projectM exit %d)", res.JobName, res.VideoPath, res.Visualizer.ExitCode))
	return res, nil
}

func overrides(job Job, res Result, audio string) map[string]any {
	return map[string]any{
		"outdir":                               res.OutputDir,
		"batch_name":                           res.JobName,
		"max_frames":                           res.FrameCount,
		"width":                                job.Width,
		"height":                               job.Height,
		"fps":                                  job.FPS,
		"add_soundtrack":                       "File",
		"soundtrack_path":                      audio,
		"seed":                                 10,
		"sampler":                              "DPM++ SDE Karras",
		"prompts":                              map[string]any{"0": job.Prompt},
		"hybrid_generate_inputframes":          false,
		"hybrid_composite":                     "Normal",
		"hybrid_comp_alpha_schedule":           "0:(0.2)",
		"hybrid_motion":                        "Optical Flow",
		"hybrid_flow_factor_schedule":          "0:(1)",
		"hybrid_motion_use_prev_img":           true,
		"hybrid_use_first_frame_as_init_image": false,
		"hybrid_flow_method":                   "Farneback",
		"diffusion_cadence":                    1,
	}
}

// fetchAudio returns a local path for src, downloading URLs to a temp .mp3.
func (d *Driver) fetchAudio(ctx context.Context, src string) (string, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return src, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download audio: %s: status %d", src, resp.StatusCode)
	}

	f, err := os.CreateTemp("", "audiovis-*.mp3")
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("download audio: %w", err)
	}
	d.logger.Info("downloaded input audio", "url", src, "path", f.Name(), "bytes", n)
	return f.Name(), nil
}

// probeDuration asks ffprobe for the audio length in seconds.
func (d *Driver) probeDuration(ctx context.Context, path string) (float64, error) {
	var (
		mu    sync.Mutex
		lines []string
	)
	proc, err := procmon.Start(d.logger, procmon.Spec{
		Name: "ffprobe",
		Path: d.ffprobe,
		Args: []string{"-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path},
		OnStdout: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})
	if err != nil {
		return 0, fmt.Errorf("probe audio duration: %w", err)
	}

	var res procmon.Result
	select {
	case res = <-proc.Monitor(d.pollInterval):
	case <-ctx.Done():
		proc.Stop(stopGrace)
		return 0, ctx.Err()
	}
	if !res.Success() {
		return 0, fmt.Errorf("probe audio duration: ffprobe exited with code %d", res.ExitCode)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, line := range lines {
		if v, err := strconv.ParseFloat(strings.TrimSpace(line), 64); err == nil && v > 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("probe audio duration: no duration reported for %s", path)
}
