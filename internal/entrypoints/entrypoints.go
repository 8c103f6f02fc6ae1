package entrypoints

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry point names referenced by the launcher.
const (
	Animation    = "animation"
	AnimateDiff  = "animatediff"
	WebUI        = "webui"
	Setup        = "setup"
	UI           = "ui"
	RunSingle    = "runsingle"
	ConfigEditor = "config"
	UnitTest     = "unittest"
	QtProbe      = "qt_probe"
	QtInstall    = "qt_install"
	QtInstallGUI = "qt_install_bindings"
)

// Entry describes one external command.
type Entry struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
}

// Table is the top-level YAML configuration.
type Table struct {
	Entries []Entry `yaml:"entrypoints"`

	byName map[string]Entry
}

// Vars are substituted into {placeholder} tokens when rendering a command.
type Vars map[string]string

// Defaults returns the built-in entry points.
func Defaults() *Table {
	t := &Table{Entries: []Entry{
		{Name: Animation, Command: []string{"{python}", "-m", "deforum.commands.deforum_run_pipeline", "--pipeline", "animation", "--model-id", "{model_id}", "--args", "{args}", "--result", "{result}"}},
		{Name: AnimateDiff, Command: []string{"{python}", "-m", "deforum.commands.deforum_run_pipeline", "--pipeline", "animatediff", "--model-id", "{model_id}", "--args", "{args}", "--result", "{result}"}},
		{Name: WebUI, Command: []string{"{python}", "-m", "streamlit", "run", "{src}/webui/deforum_webui.py", "--server.headless", "true"}},
		{Name: Setup, Command: []string{"{python}", "-m", "deforum.utils.install_sfast"}},
		{Name: UI, Command: []string{"{python}", "{src}/ui/main.py"}},
		{Name: RunSingle, Command: []string{"{python}", "{src}/ui/process_only.py", "{settings_file}"}},
		{Name: ConfigEditor, Command: []string{"{python}", "{src}/commands/deforum_config.py"}},
		{Name: UnitTest, Command: []string{"{python}", "-m", "deforum.commands.deforum_run_unit_test", "--args", "{args}"}},
		{Name: QtProbe, Command: []string{"{python}", "-c", "import PyQt6"}},
		{Name: QtInstall, Command: []string{"{python}", "-m", "pip", "install", "PyQt6-Qt6==6.5.0"}},
		{Name: QtInstallGUI, Command: []string{"{python}", "-m", "pip", "install", "pyqt6==6.5.0"}},
	}}
	if err := t.index(); err != nil {
		panic(err)
	}
	return t
}

// New builds a validated table from entries.
func New(entries ...Entry) (*Table, error) {
	t := &Table{Entries: entries}
	if err := t.index(); err != nil {
		return nil, err
	}
	return t, nil
}

// Load reads an entry-point YAML file and layers it over the defaults. A
// missing file yields the defaults unchanged.
func Load(path string) (*Table, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return nil, fmt.Errorf("entrypoints config: %w", err)
	}
	return t.Overlay(data)
}

// Overlay parses YAML entries and replaces same-named defaults.
func (t *Table) Overlay(data []byte) (*Table, error) {
	var file Table
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("entrypoints config: %w", err)
	}
	if err := file.index(); err != nil {
		return nil, err
	}

	merged := &Table{}
	for _, e := range t.Entries {
		if override, ok := file.byName[e.Name]; ok {
			merged.Entries = append(merged.Entries, override)
			continue
		}
		merged.Entries = append(merged.Entries, e)
	}
	for _, e := range file.Entries {
		if _, ok := t.byName[e.Name]; !ok {
			merged.Entries = append(merged.Entries, e)
		}
	}
	if err := merged.index(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (t *Table) index() error {
	t.byName = make(map[string]Entry, len(t.Entries))
	for i, e := range t.Entries {
		if e.Name == "" {
			return fmt.Errorf("entrypoints config: entrypoints[%d] missing name", i)
		}
		if len(e.Command) == 0 {
			return fmt.Errorf("entrypoints config: entrypoints[%d] (%s) missing command", i, e.Name)
		}
		if _, dup := t.byName[e.Name]; dup {
			return fmt.Errorf("entrypoints config: duplicate entry point %q", e.Name)
		}
		t.byName[e.Name] = e
	}
	return nil
}

// Render substitutes vars into the named entry's command and returns the argv.
func (t *Table) Render(name string, vars Vars) ([]string, error) {
	e, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown entry point %q", name)
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	argv := make([]string, len(e.Command))
	for i, tok := range e.Command {
		argv[i] = r.Replace(tok)
	}
	return argv, nil
}
