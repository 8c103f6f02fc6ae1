package launcher

import (
	"io"
	"log/slog"
	"math/rand"
	"net"
	"os"

	"github.com/dgnsrekt/deforum_launcher/internal/config"
	"github.com/dgnsrekt/deforum_launcher/internal/notify"
	"github.com/dgnsrekt/deforum_launcher/internal/pipeline"
)

// Env carries everything a mode handler needs. It is built once in main and
// passed down explicitly.
type Env struct {
	Logger  *slog.Logger
	Config  *config.Config
	Runner  pipeline.Runner
	Entries pipeline.EntryRunner
	Stdin   io.Reader
	Stdout  io.Writer
	Version string
	// Notifier announces finished renders; nil disables notifications.
	Notifier *notify.Notifier

	// Shuffle reorders preset files when randomize_files is set.
	Shuffle func([]string)
	// Ready is called with the bound address once api mode is listening.
	Ready func(net.Addr)
}

func (e *Env) normalize() {
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Config == nil {
		e.Config = &config.Config{PresetDir: "presets", RunsDir: "runs", APIBindAddr: "localhost:8000"}
	}
	if e.Stdin == nil {
		e.Stdin = os.Stdin
	}
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.Version == "" {
		e.Version = "dev"
	}
	if e.Shuffle == nil {
		e.Shuffle = func(files []string) {
			rand.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
		}
	}
}
