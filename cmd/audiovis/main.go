package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dgnsrekt/deforum_launcher/internal/audiovis"
	"github.com/dgnsrekt/deforum_launcher/internal/config"
	"github.com/dgnsrekt/deforum_launcher/internal/entrypoints"
	"github.com/dgnsrekt/deforum_launcher/internal/notify"
	"github.com/dgnsrekt/deforum_launcher/internal/pipeline"
	"github.com/dgnsrekt/deforum_launcher/internal/projectm"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	preset := flag.String("preset", cfg.ProjectMPreset("waveform.milk"), "projectM preset file")
	base := flag.String("settings", cfg.SettingsPreset("Classic-3D-Motion.txt"), "base Deforum settings file")
	audio := flag.String("audio", cfg.AudioVisInput, "input audio path or URL")
	frames := flag.Int("frames", cfg.AudioVisFrameCount, "frame count override; 0 uses the full audio length")
	flag.Parse()

	logger, err := setupLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	table, err := entrypoints.Load(cfg.EntryPointsPath)
	if err != nil {
		logger.Error("failed to load entry points", "path", cfg.EntryPointsPath, "error", err)
		os.Exit(1)
	}
	runner := pipeline.NewExecRunner(logger, table, entrypoints.Vars{
		"python": cfg.PythonPath,
		"src":    cfg.SrcPath,
	}, cfg.WorkDir).WithPollInterval(cfg.MonitorInterval)

	driver := audiovis.NewDriver(logger, runner, projectm.Config{
		Executable:  cfg.ProjectMExecutable,
		TexturePath: cfg.ProjectMTexturePath,
	}, cfg.FFProbeExecutable).
		WithNotifier(notify.New(logger, nil, cfg.NotifyURL)).
		WithPollInterval(cfg.MonitorInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := driver.Run(ctx, audiovis.Job{
		InputAudio:   *audio,
		Preset:       *preset,
		BaseSettings: *base,
		OutputDir:    cfg.OutputDir,
		FPS:          cfg.AudioVisFPS,
		Width:        cfg.AudioVisWidth,
		Height:       cfg.AudioVisHeight,
		FrameCount:   *frames,
	})
	if err != nil {
		if !errors.Is(err, audiovis.ErrVisualizerStart) {
			logger.Error("audiovis job failed", "job", res.JobName, "error", err)
		}
		stop()
		os.Exit(1)
	}
	logger.Info("audiovis job finished",
		"job", res.JobName,
		"frames", res.FrameCount,
		"video_path", res.VideoPath,
		"projectm_exit_code", res.Visualizer.ExitCode,
	)
}

func setupLogger(level, filename string) (*slog.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}
