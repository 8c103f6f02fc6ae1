package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dgnsrekt/deforum_launcher/internal/config"
	"github.com/dgnsrekt/deforum_launcher/internal/entrypoints"
	"github.com/dgnsrekt/deforum_launcher/internal/launcher"
	"github.com/dgnsrekt/deforum_launcher/internal/notify"
	"github.com/dgnsrekt/deforum_launcher/internal/options"
	"github.com/dgnsrekt/deforum_launcher/internal/pipeline"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cliArgs, optionTokens := splitOptions(os.Args[1:])
	cmd := newRootCommand(optionTokens)
	cmd.SetArgs(cliArgs)
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// splitOptions cuts args at the first --options; every later token is a
// key=value option, even ones that look like flags.
func splitOptions(args []string) (cli, opts []string) {
	for i, a := range args {
		if a == "--options" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

func newRootCommand(optionTokens []string) *cobra.Command {
	var settingsFile string

	cmd := &cobra.Command{
		Use:   "deforum [mode]",
		Short: "Load settings from a txt file and run the deforum process.",
		Long: `Runs one Deforum mode. Without a mode the animation pipeline runs once.

Everything after --options is passed to the pipeline as key=value pairs:
  deforum runpresets --options randomize_files=1 modelid=125703`,
		Version:       version,
		ValidArgs:     launcher.ModeNames(),
		Args:          cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			return run(cmd.Context(), cmd.OutOrStdout(), name, settingsFile, optionTokens)
		},
	}
	cmd.Flags().StringVar(&settingsFile, "file", "", "Path to the deforum settings file.")
	return cmd
}

func run(ctx context.Context, stdout io.Writer, modeName, settingsFile string, optionTokens []string) error {
	mode, err := launcher.ParseMode(modeName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	logger, err := setupLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		return err
	}

	opts, err := options.ParseOptions(optionTokens)
	if err != nil {
		logger.Error("invalid --options", "error", err)
		return err
	}

	table, err := entrypoints.Load(cfg.EntryPointsPath)
	if err != nil {
		logger.Error("failed to load entry points", "path", cfg.EntryPointsPath, "error", err)
		return err
	}

	logger.Debug("launcher config loaded",
		"mode", mode.String(),
		"python", cfg.PythonPath,
		"src_path", cfg.SrcPath,
		"entrypoints", cfg.EntryPointsPath,
		"preset_dir", cfg.PresetDir,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	runner := pipeline.NewExecRunner(logger, table, entrypoints.Vars{
		"python": cfg.PythonPath,
		"src":    cfg.SrcPath,
	}, cfg.WorkDir).WithPollInterval(cfg.MonitorInterval)

	d := launcher.NewDispatcher(launcher.Env{
		Logger:   logger,
		Config:   cfg,
		Runner:   runner,
		Entries:  runner,
		Stdout:   stdout,
		Version:  version,
		Notifier: notify.New(logger, nil, cfg.NotifyURL),
	})
	inv := launcher.Invocation{Mode: mode, SettingsFile: settingsFile, Options: opts}
	if err := d.Dispatch(ctx, inv); err != nil {
		logger.Error("mode failed", "mode", mode.String(), "error", err)
		return err
	}
	return nil
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
