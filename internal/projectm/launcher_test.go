package projectm

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fixture struct {
	audio  string
	frames string
	preset string
	bin    string
}

func newFixture(t *testing.T, script string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		audio:  filepath.Join(dir, "track.mp3"),
		frames: filepath.Join(dir, "inputframes"),
		preset: filepath.Join(dir, "waveform.milk"),
		bin:    filepath.Join(dir, "projectMCli"),
	}
	if err := os.WriteFile(f.audio, []byte("ID3"), 0o644); err != nil {
		t.Fatalf("WriteFile(audio) error = %v", err)
	}
	if err := os.MkdirAll(f.frames, 0o755); err != nil {
		t.Fatalf("MkdirAll(frames) error = %v", err)
	}
	if err := os.WriteFile(f.preset, []byte("[preset00]"), 0o644); err != nil {
		t.Fatalf("WriteFile(preset) error = %v", err)
	}
	if err := os.WriteFile(f.bin, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("WriteFile(bin) error = %v", err)
	}
	return f
}

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestArgs(t *testing.T) {
	got := Args(Config{TexturePath: "/tex", FPS: 24}, "a.mp3", "/out", "p.milk")
	want := []string{
		"--outputPath", "/out",
		"--outputType", "image",
		"--texturePath", "/tex",
		"--width", "1024",
		"--height", "576",
		"--beatSensitivity", "2.0",
		"--calibrate", "1",
		"--fps", "24",
		"--presetFile", "p.milk",
		"--audioPath", "a.mp3",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Args() = %v; want %v", got, want)
	}
}

func TestStartPreconditions(t *testing.T) {
	f := newFixture(t, "exit 0")
	missing := filepath.Join(t.TempDir(), "missing")

	tests := []struct {
		name    string
		cfg     Config
		audio   string
		frames  string
		preset  string
		wantErr error
		wantLog string
	}{
		{name: "missing audio", cfg: Config{Executable: f.bin}, audio: missing, frames: f.frames, preset: f.preset, wantErr: ErrInputAudio, wantLog: "input audio"},
		{name: "audio is a directory", cfg: Config{Executable: f.bin}, audio: f.frames, frames: f.frames, preset: f.preset, wantErr: ErrInputAudio, wantLog: "input audio"},
		{name: "missing output dir", cfg: Config{Executable: f.bin}, audio: f.audio, frames: missing, preset: f.preset, wantErr: ErrOutputPath, wantLog: "output path"},
		{name: "missing executable", cfg: Config{Executable: missing}, audio: f.audio, frames: f.frames, preset: f.preset, wantErr: ErrExecutableNotFound, wantLog: "no projectM executable found"},
		{name: "missing preset", cfg: Config{Executable: f.bin}, audio: f.audio, frames: f.frames, preset: missing, wantErr: ErrPresetNotFound, wantLog: "no projectM preset found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := newTestLogger()
			proc, err := Start(logger, tt.cfg, tt.audio, tt.frames, tt.preset)
			if proc != nil {
				t.Fatalf("Start() handle = %v; want nil", proc)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Start() error = %v; want %v", err, tt.wantErr)
			}
			if !strings.Contains(buf.String(), tt.wantLog) {
				t.Fatalf("log missing %q in %q", tt.wantLog, buf.String())
			}
		})
	}
}

func TestStartRunsVisualizerWithSurfacelessEGL(t *testing.T) {
	f := newFixture(t, `echo "egl=$EGL_PLATFORM args=$*"`)
	logger, buf := newTestLogger()

	proc, err := Start(logger, Config{Executable: f.bin, TexturePath: filepath.Join(t.TempDir(), "textures"), FPS: 24}, f.audio, f.frames, f.preset)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case res := <-proc.Monitor(10 * time.Millisecond):
		if !res.Success() {
			t.Fatalf("result = %+v; want success", res)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("projectM monitor did not finish")
	}

	out := buf.String()
	for _, want := range []string{
		"egl=surfaceless",
		"--beatSensitivity 2.0",
		"--presetFile " + f.preset,
		"no projectM texture directory found",
		"process completed successfully",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %q in %q", want, out)
		}
	}
}

func TestStartNonZeroExitIsReportedNotRaised(t *testing.T) {
	f := newFixture(t, "echo 'GL context failed' >&2; exit 2")
	logger, buf := newTestLogger()

	proc, err := Start(logger, Config{Executable: f.bin, TexturePath: t.TempDir()}, f.audio, f.frames, f.preset)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	res := <-proc.Monitor(10 * time.Millisecond)
	if res.ExitCode != 2 {
		t.Fatalf("ExitCode = %d; want 2", res.ExitCode)
	}
	if !strings.Contains(buf.String(), "process exited with error") {
		t.Fatalf("expected exit error log in %q", buf.String())
	}
	if strings.Contains(buf.String(), "no projectM texture directory found") {
		t.Fatal("texture warning logged although the directory exists")
	}
}
