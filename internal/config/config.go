package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the launcher binaries.
type Config struct {
	// Python side of the pipeline
	PythonPath  string
	SrcPath     string
	PresetsPath string
	PresetDir   string
	OutputDir   string

	EntryPointsPath string
	WorkDir         string
	RunsDir         string

	// API mode
	APIBindAddr      string
	PortAutoFallback bool
	PortCandidates   []string

	// Visualizer
	ProjectMExecutable  string
	ProjectMTexturePath string
	FFProbeExecutable   string

	// Liveness poll interval for monitored child processes
	MonitorInterval time.Duration

	// Audio-visual driver
	AudioVisInput      string
	AudioVisFPS        int
	AudioVisWidth      int
	AudioVisHeight     int
	AudioVisFrameCount int

	// Completion notifications (ntfy); empty disables them
	NotifyURL string

	LogLevel string
	LogFile  string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	root := getEnvOrDefault("DEFORUM_ROOT", defaultRoot())
	src := getEnvOrDefault("DEFORUM_SRC_PATH", filepath.Join(root, "src", "deforum"))

	cfg := &Config{
		PythonPath:          getEnvOrDefault("DEFORUM_PYTHON", "python3"),
		SrcPath:             src,
		PresetsPath:         getEnvOrDefault("DEFORUM_PRESETS_PATH", filepath.Join(root, "presets")),
		PresetDir:           getEnvOrDefault("DEFORUM_PRESET_DIR", "presets"),
		OutputDir:           getEnvOrDefault("DEFORUM_OUTPUT_DIR", filepath.Join(root, "output", "deforum")),
		EntryPointsPath:     getEnvOrDefault("DEFORUM_ENTRYPOINTS", "./config/entrypoints.yaml"),
		WorkDir:             getEnvOrDefault("DEFORUM_WORK_DIR", filepath.Join(os.TempDir(), "deforum")),
		RunsDir:             getEnvOrDefault("DEFORUM_RUNS_DIR", "./runs"),
		APIBindAddr:         getEnvOrDefault("DEFORUM_API_BIND_ADDR", "localhost:8000"),
		PortAutoFallback:    getEnvBoolOrDefault("DEFORUM_API_PORT_AUTO_FALLBACK", false),
		PortCandidates:      getEnvListOrDefault("DEFORUM_API_PORT_CANDIDATES", nil),
		ProjectMExecutable:  getEnvOrDefault("PROJECTM_EXECUTABLE", "projectMCli"),
		ProjectMTexturePath: getEnvOrDefault("PROJECTM_TEXTURE_PATH", filepath.Join(root, "milkdrop", "textures")),
		FFProbeExecutable:   getEnvOrDefault("FFPROBE_EXECUTABLE", "ffprobe"),
		MonitorInterval:     time.Duration(getEnvIntOrDefault("DEFORUM_MONITOR_INTERVAL_MS", 1000)) * time.Millisecond,
		AudioVisInput:       getEnvOrDefault("AUDIOVIS_INPUT_AUDIO", "https://vizrecord.app/audio/120bpm.mp3"),
		AudioVisFPS:         getEnvIntOrDefault("AUDIOVIS_FPS", 24),
		AudioVisWidth:       getEnvIntOrDefault("AUDIOVIS_WIDTH", 1024),
		AudioVisHeight:      getEnvIntOrDefault("AUDIOVIS_HEIGHT", 576),
		AudioVisFrameCount:  getEnvIntOrDefault("AUDIOVIS_FRAME_COUNT", 48),
		NotifyURL:           getEnvOrDefault("DEFORUM_NOTIFY_URL", ""),
		LogLevel:            strings.ToLower(getEnvOrDefault("DEFORUM_LOG_LEVEL", "info")),
		LogFile:             getEnvOrDefault("DEFORUM_LOG_FILE", "logs/deforum.log"),
	}

	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = time.Second
	}
	if cfg.AudioVisFPS < 1 {
		cfg.AudioVisFPS = 24
	}
	if cfg.AudioVisFrameCount < 0 {
		cfg.AudioVisFrameCount = 0
	}
	return cfg, nil
}

// ProjectMPreset returns the path of a milkdrop preset shipped with the presets.
func (c *Config) ProjectMPreset(name string) string {
	return filepath.Join(c.PresetsPath, "projectm", name)
}

// SettingsPreset returns the path of a Deforum settings preset.
func (c *Config) SettingsPreset(name string) string {
	return filepath.Join(c.PresetsPath, "settings", name)
}

func defaultRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "deforum")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
