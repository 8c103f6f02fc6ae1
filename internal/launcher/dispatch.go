package launcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgnsrekt/deforum_launcher/internal/entrypoints"
	"github.com/dgnsrekt/deforum_launcher/internal/pipeline"
)

const (
	DefaultAnimationModel   = "125703"
	DefaultAnimateDiffModel = "132632"

	deloreanPrompt = "A solo delorean speeding on an ethereal highway through time jumps, like in the iconic movie back to the future."
	presetSeed     = 420
)

// ErrSettingsFileRequired is returned by runsingle without --file.
var ErrSettingsFileRequired = errors.New("runsingle requires --file")

type handlerFunc func(ctx context.Context, inv Invocation) error

// Dispatcher routes an Invocation to exactly one mode handler.
type Dispatcher struct {
	env      Env
	handlers map[Mode]handlerFunc
}

// NewDispatcher builds a dispatcher over env.
func NewDispatcher(env Env) *Dispatcher {
	env.normalize()
	d := &Dispatcher{env: env}
	d.handlers = map[Mode]handlerFunc{
		ModeDefault:     d.runDefault,
		ModeVersion:     d.runVersion,
		ModeWebUI:       d.entry(entrypoints.WebUI),
		ModeAnimateDiff: d.runAnimateDiff,
		ModeRunPresets:  d.runPresets,
		ModeAPI:         d.runAPI,
		ModeSetup:       d.runSetup,
		ModeUI:          d.runUI,
		ModeRunSingle:   d.runSingle,
		ModeConfig:      d.entry(entrypoints.ConfigEditor),
		ModeUnitTest:    d.runUnitTest,
	}
	return d
}

// Dispatch runs the handler for inv.Mode.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation) error {
	h, ok := d.handlers[inv.Mode]
	if !ok {
		return fmt.Errorf("unknown mode %q", string(inv.Mode))
	}
	d.env.Logger.Debug("dispatching mode", "mode", inv.Mode.String(), "settings_file", inv.SettingsFile, "options", inv.Options.Keys())
	return h(ctx, inv)
}

func (d *Dispatcher) modelID(inv Invocation, def string) string {
	return inv.Options.StringOr("modelid", def)
}

func (d *Dispatcher) runVersion(_ context.Context, _ Invocation) error {
	_, err := fmt.Fprintln(d.env.Stdout, d.env.Version)
	return err
}

func (d *Dispatcher) runDefault(ctx context.Context, inv Invocation) error {
	args := pipeline.Merge(inv.ExtraArgs(), inv.Options.Map(), map[string]any{"optimize": false})
	res, err := d.env.Runner.Run(ctx, pipeline.Request{
		Pipeline: entrypoints.Animation,
		ModelID:  d.modelID(inv, DefaultAnimationModel),
		Args:     args,
	})
	if err != nil {
		return err
	}
	d.env.Logger.Info("Output video", "path", res.VideoPath)
	d.env.Notifier.Notify(ctx, "Deforum render finished", res.VideoPath)
	return nil
}

func (d *Dispatcher) runAnimateDiff(ctx context.Context, inv Invocation) error {
	_, err := d.env.Runner.Run(ctx, pipeline.Request{
		Pipeline: entrypoints.AnimateDiff,
		ModelID:  d.modelID(inv, DefaultAnimateDiffModel),
		Args:     pipeline.Merge(inv.ExtraArgs(), inv.Options.Map()),
	})
	return err
}

func (d *Dispatcher) runSetup(ctx context.Context, inv Invocation) error {
	d.env.Logger.Info("Installing stable-fast and its dependencies...")
	return d.entry(entrypoints.Setup)(ctx, inv)
}

func (d *Dispatcher) runUI(ctx context.Context, inv Invocation) error {
	if err := d.ensurePyQt6(ctx); err != nil {
		return err
	}
	return d.entry(entrypoints.UI)(ctx, inv)
}

func (d *Dispatcher) runSingle(ctx context.Context, inv Invocation) error {
	if err := d.ensurePyQt6(ctx); err != nil {
		return err
	}
	if inv.SettingsFile == "" {
		return ErrSettingsFileRequired
	}
	d.env.Logger.Info("Using settings file", "path", inv.SettingsFile)
	return d.runEntry(ctx, entrypoints.RunSingle, entrypoints.Vars{"settings_file": inv.SettingsFile})
}

func (d *Dispatcher) runUnitTest(ctx context.Context, inv Invocation) error {
	_, err := d.env.Runner.Run(ctx, pipeline.Request{
		Pipeline: entrypoints.UnitTest,
		ModelID:  d.modelID(inv, DefaultAnimationModel),
		Args: pipeline.Args{
			"options":    inv.Options.Map(),
			"extra_args": inv.ExtraArgs(),
		},
	})
	return err
}

func (d *Dispatcher) entry(name string) handlerFunc {
	return func(ctx context.Context, _ Invocation) error {
		return d.runEntry(ctx, name, nil)
	}
}

func (d *Dispatcher) runEntry(ctx context.Context, name string, vars entrypoints.Vars) error {
	res, err := d.env.Entries.RunEntry(ctx, name, vars, d.env.Stdin)
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("%s exited with code %d", name, res.ExitCode)
	}
	return nil
}

// ensurePyQt6 installs the pinned Qt bindings when they cannot be imported.
// Installer failures are logged; the UI launch reports the real problem.
func (d *Dispatcher) ensurePyQt6(ctx context.Context) error {
	res, err := d.env.Entries.RunEntry(ctx, entrypoints.QtProbe, nil, nil)
	if err != nil {
		return err
	}
	if res.Success() {
		return nil
	}

	d.env.Logger.Info("PyQt6 not importable, installing pinned bindings")
	for _, name := range []string{entrypoints.QtInstall, entrypoints.QtInstallGUI} {
		res, err := d.env.Entries.RunEntry(ctx, name, nil, nil)
		if err != nil {
			return err
		}
		if !res.Success() {
			d.env.Logger.Warn("PyQt6 install step failed", "entry", name, "exit_code", res.ExitCode)
		}
	}
	return nil
}
