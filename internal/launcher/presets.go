package launcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgnsrekt/deforum_launcher/internal/entrypoints"
	"github.com/dgnsrekt/deforum_launcher/internal/pipeline"
	"github.com/dgnsrekt/deforum_launcher/internal/settings"
	"github.com/olekukonko/tablewriter"
)

type presetOutcome struct {
	File      string
	BatchName string
	VideoPath string
	Err       error
}

// runPresets renders every settings file under the preset directory with a
// fixed prompt and seed. A failing file is logged and skipped.
func (d *Dispatcher) runPresets(ctx context.Context, inv Invocation) error {
	files, err := settings.Discover(d.env.Config.PresetDir)
	if err != nil {
		return fmt.Errorf("discover presets: %w", err)
	}
	if inv.Options.Truthy("randomize_files") {
		d.env.Shuffle(files)
	}

	model := d.modelID(inv, DefaultAnimationModel)
	opts := inv.Options.Map()
	outcomes := make([]presetOutcome, 0, len(files))

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := settings.BatchName(path)
		d.env.Logger.Info("Settings file path", "path", path)
		d.env.Logger.Info("Batch Name", "batch_name", batch)

		extra := inv.ExtraArgs()
		extra["settings_file"] = path
		opts["prompts"] = map[string]any{"0": deloreanPrompt}
		opts["seed"] = presetSeed
		opts["batch_name"] = batch

		out := presetOutcome{File: path, BatchName: batch}
		res, err := d.env.Runner.Run(ctx, pipeline.Request{
			Pipeline: entrypoints.Animation,
			ModelID:  model,
			Args:     pipeline.Merge(extra, opts),
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			d.env.Logger.Error("Error running settings file", "path", path, "error", err)
			out.Err = err
		} else {
			out.VideoPath = res.VideoPath
		}
		outcomes = append(outcomes, out)
	}

	d.printPresetSummary(outcomes)
	if len(outcomes) > 0 {
		d.env.Notifier.Notify(ctx, "Deforum runpresets finished", tally(outcomes))
	}
	return nil
}

func tally(outcomes []presetOutcome) string {
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	return fmt.Sprintf("%d ok, %d failed", len(outcomes)-failed, failed)
}

func (d *Dispatcher) printPresetSummary(outcomes []presetOutcome) {
	w := d.env.Stdout
	if len(outcomes) == 0 {
		fmt.Fprintln(w, infoColor("No preset files found in "+d.env.Config.PresetDir))
		return
	}

	fmt.Fprintln(w, headerColor("Preset run summary: "+tally(outcomes)))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Batch", "Status", "Output"})
	table.SetBorder(true)
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})
	for _, o := range outcomes {
		if o.Err != nil {
			table.Append([]string{o.BatchName, errorColor("failed"), detailColor(o.Err.Error())})
			continue
		}
		table.Append([]string{o.BatchName, successColor("ok"), o.VideoPath})
	}
	table.Render()
}
