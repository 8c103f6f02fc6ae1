package procmon

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultPollInterval is how often the monitor checks that the child is alive.
const DefaultPollInterval = time.Second

const maxLineBytes = 1024 * 1024

// ErrExecutableNotFound is returned when a Spec's executable cannot be resolved.
var ErrExecutableNotFound = errors.New("executable not found")

// Spec describes a child process to launch.
type Spec struct {
	// Name labels log lines, e.g. "projectM".
	Name string
	Path string
	Args []string
	// Env is merged over the parent environment.
	Env   map[string]string
	Dir   string
	Stdin io.Reader

	// OnStdout and OnStderr receive every line after it has been logged.
	OnStdout func(line string)
	OnStderr func(line string)
}

// Result is the outcome of a monitored process.
type Result struct {
	ExitCode int
	// Err is set when the process could not be waited on at all.
	Err      error
	Duration time.Duration
}

// Success reports whether the process exited with code zero.
func (r Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Process is a running child whose output is owned by the monitor.
type Process struct {
	spec    Spec
	logger  *slog.Logger
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	started time.Time

	once     sync.Once
	finished chan struct{}
	result   Result
}

// Start resolves and launches spec. On failure the error is logged and a nil
// handle is returned; Start never panics on a bad executable.
func Start(logger *slog.Logger, spec Spec) (*Process, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if spec.Name == "" {
		spec.Name = spec.Path
	}

	path, err := exec.LookPath(spec.Path)
	if err != nil {
		logger.Error("executable not found", "process", spec.Name, "path", spec.Path, "error", err)
		return nil, fmt.Errorf("%w: %s", ErrExecutableNotFound, spec.Path)
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdin = spec.Stdin
	cmd.Env = MergeEnv(os.Environ(), spec.Env)
	// Own process group so Stop reaches helpers the child spawns. Children
	// that read our stdin stay in the foreground group to keep terminal access.
	if spec.Stdin == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logger.Error("stdout pipe failed", "process", spec.Name, "error", err)
		return nil, fmt.Errorf("%s stdout pipe: %w", spec.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		logger.Error("stderr pipe failed", "process", spec.Name, "error", err)
		return nil, fmt.Errorf("%s stderr pipe: %w", spec.Name, err)
	}

	if err := cmd.Start(); err != nil {
		logger.Error("process start failed", "process", spec.Name, "path", path, "error", err)
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}
	logger.Info("process started", "process", spec.Name, "pid", cmd.Process.Pid)

	return &Process{
		spec:     spec,
		logger:   logger,
		cmd:      cmd,
		stdout:   stdout,
		stderr:   stderr,
		started:  time.Now(),
		finished: make(chan struct{}),
	}, nil
}

// pid returns the operating system process id.
func (p *Process) pid() int { return p.cmd.Process.Pid }

// Monitor starts the monitoring task on first call and returns a channel that
// receives the result once the process has exited and its output is drained.
// Every call returns its own channel; the task itself runs once. The loop has
// no timeout.
func (p *Process) Monitor(interval time.Duration) <-chan Result {
	p.once.Do(func() {
		go p.supervise(interval)
	})
	ch := make(chan Result, 1)
	go func() {
		<-p.finished
		ch <- p.result
	}()
	return ch
}

// Stop terminates the process with SIGTERM, falling back to SIGKILL after grace.
func (p *Process) Stop(grace time.Duration) Result {
	results := p.Monitor(DefaultPollInterval)
	select {
	case <-p.finished:
		return <-results
	default:
	}

	p.logger.Info("stopping process", "process", p.spec.Name, "pid", p.pid())
	if err := p.signalGroup(syscall.SIGTERM); err != nil {
		p.logger.Debug("SIGTERM failed", "process", p.spec.Name, "error", err)
	}

	select {
	case res := <-results:
		return res
	case <-time.After(grace):
		p.logger.Warn("process did not exit, sending SIGKILL", "process", p.spec.Name, "pid", p.pid())
		if err := p.signalGroup(syscall.SIGKILL); err != nil {
			p.logger.Debug("SIGKILL failed", "process", p.spec.Name, "error", err)
		}
		return <-results
	}
}

func (p *Process) signalGroup(sig syscall.Signal) error {
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err != nil {
		return p.cmd.Process.Signal(sig)
	}
	return nil
}

func (p *Process) supervise(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var drained sync.WaitGroup
	drained.Add(2)
	go p.drain(&drained, p.stdout, "stdout", p.spec.OnStdout)
	go p.drain(&drained, p.stderr, "stderr", p.spec.OnStderr)

	// Wait must not run before both pipes reach EOF, otherwise it closes them
	// under the readers and the tail of the output is lost.
	exited := make(chan Result, 1)
	go func() {
		drained.Wait()
		exited <- p.resultFrom(p.cmd.Wait())
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("process running...", "process", p.spec.Name)
	for {
		select {
		case res := <-exited:
			p.report(res)
			p.result = res
			close(p.finished)
			return
		case <-ticker.C:
			p.logger.Info("process running...", "process", p.spec.Name)
		}
	}
}

func (p *Process) drain(wg *sync.WaitGroup, r io.Reader, stream string, hook func(string)) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if stream == "stderr" {
			p.logger.Error("process stderr", "process", p.spec.Name, "line", line)
		} else {
			p.logger.Info("process stdout", "process", p.spec.Name, "line", line)
		}
		if hook != nil {
			hook(line)
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("process output scan failed, discarding remainder", "process", p.spec.Name, "stream", stream, "error", err)
		// Keep the pipe empty so the child never blocks on a full buffer.
		if _, err := io.Copy(io.Discard, r); err != nil {
			p.logger.Debug("process output discard failed", "process", p.spec.Name, "stream", stream, "error", err)
		}
	}
}

func (p *Process) resultFrom(err error) Result {
	res := Result{Duration: time.Since(p.started)}
	if err == nil {
		return res
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res
	}
	res.ExitCode = -1
	res.Err = err
	return res
}

func (p *Process) report(res Result) {
	switch {
	case res.Err != nil:
		p.logger.Error("process wait failed", "process", p.spec.Name, "error", res.Err)
	case res.ExitCode != 0:
		p.logger.Error("process exited with error", "process", p.spec.Name, "exit_code", res.ExitCode, "duration_ms", res.Duration.Milliseconds())
	default:
		p.logger.Info("process completed successfully", "process", p.spec.Name, "duration_ms", res.Duration.Milliseconds())
	}
}

// MergeEnv returns base with overrides applied. Existing keys are replaced in
// place; new keys are appended in sorted order.
func MergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if val, ok := overrides[key]; ok {
			if !seen[key] {
				out = append(out, key+"="+val)
				seen[key] = true
			}
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

// CommandLine renders path and args for logging.
func CommandLine(path string, args []string) string {
	return strings.Join(append([]string{path}, args...), " ")
}
