package projectm

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/dgnsrekt/deforum_launcher/internal/procmon"
)

const (
	processName     = "projectM"
	beatSensitivity = "2.0"
	calibrate       = "1"
)

var (
	ErrInputAudio         = errors.New("projectM input audio missing")
	ErrOutputPath         = errors.New("projectM output path missing")
	ErrExecutableNotFound = procmon.ErrExecutableNotFound
	ErrPresetNotFound     = errors.New("projectM preset not found")
)

// Config holds visualizer launch configuration.
type Config struct {
	Executable  string
	TexturePath string
	Width       int
	Height      int
	FPS         int
}

func (c *Config) normalize() {
	if c.Executable == "" {
		c.Executable = "projectMCli"
	}
	if c.Width == 0 {
		c.Width = 1024
	}
	if c.Height == 0 {
		c.Height = 576
	}
	if c.FPS == 0 {
		c.FPS = 20
	}
}

// Args builds the visualizer command line, excluding the executable.
func Args(cfg Config, inputAudio, outputPath, preset string) []string {
	cfg.normalize()
	return []string{
		"--outputPath", outputPath,
		"--outputType", "image",
		"--texturePath", cfg.TexturePath,
		"--width", strconv.Itoa(cfg.Width),
		"--height", strconv.Itoa(cfg.Height),
		"--beatSensitivity", beatSensitivity,
		"--calibrate", calibrate,
		"--fps", strconv.Itoa(cfg.FPS),
		"--presetFile", preset,
		"--audioPath", inputAudio,
	}
}

// Start validates the inputs and launches projectM writing image frames into
// outputPath. Any failed precondition is logged and yields a nil handle; a
// missing texture directory only warns.
func Start(logger *slog.Logger, cfg Config, inputAudio, outputPath, preset string) (*procmon.Process, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.normalize()

	logger.Info("starting projectM", "output_path", outputPath)

	if info, err := os.Stat(inputAudio); err != nil || !info.Mode().IsRegular() {
		logger.Error("projectM input audio is not a file", "path", inputAudio)
		return nil, fmt.Errorf("%w: %s", ErrInputAudio, inputAudio)
	}
	if info, err := os.Stat(outputPath); err != nil || !info.IsDir() {
		logger.Error("projectM output path is not a directory", "path", outputPath)
		return nil, fmt.Errorf("%w: %s", ErrOutputPath, outputPath)
	}
	if _, err := exec.LookPath(cfg.Executable); err != nil {
		logger.Error("no projectM executable found", "tried", cfg.Executable)
		return nil, fmt.Errorf("%w: %s", ErrExecutableNotFound, cfg.Executable)
	}
	if _, err := os.Stat(preset); err != nil {
		logger.Error("no projectM preset found", "path", preset)
		return nil, fmt.Errorf("%w: %s", ErrPresetNotFound, preset)
	}
	if _, err := os.Stat(cfg.TexturePath); err != nil {
		logger.Warn("no projectM texture directory found, some presets may not render as expected", "tried", cfg.TexturePath)
	}

	args := Args(cfg, inputAudio, outputPath, preset)
	logger.Info("running projectM", "command", procmon.CommandLine(cfg.Executable, args))

	return procmon.Start(logger, procmon.Spec{
		Name: processName,
		Path: cfg.Executable,
		Args: args,
		Env:  map[string]string{"EGL_PLATFORM": "surfaceless"},
	})
}
