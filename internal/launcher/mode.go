package launcher

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/deforum_launcher/internal/options"
)

// Mode is the top-level operation selected on the command line.
type Mode string

const (
	ModeDefault     Mode = ""
	ModeWebUI       Mode = "webui"
	ModeAnimateDiff Mode = "animatediff"
	ModeRunPresets  Mode = "runpresets"
	ModeAPI         Mode = "api"
	ModeSetup       Mode = "setup"
	ModeUI          Mode = "ui"
	ModeRunSingle   Mode = "runsingle"
	ModeConfig      Mode = "config"
	ModeUnitTest    Mode = "unittest"
	ModeVersion     Mode = "version"
)

// Modes lists every named mode in help order.
var Modes = []Mode{
	ModeWebUI, ModeAnimateDiff, ModeRunPresets, ModeAPI, ModeSetup,
	ModeUI, ModeRunSingle, ModeConfig, ModeUnitTest, ModeVersion,
}

// ModeNames returns the named modes as strings.
func ModeNames() []string {
	names := make([]string, len(Modes))
	for i, m := range Modes {
		names[i] = string(m)
	}
	return names
}

// ParseMode accepts a named mode or the empty string for the default run.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeDefault, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("invalid mode %q (choose from %s)", s, strings.Join(ModeNames(), ", "))
}

func (m Mode) String() string {
	if m == ModeDefault {
		return "default"
	}
	return string(m)
}

// Invocation is one parsed command line.
type Invocation struct {
	Mode         Mode
	SettingsFile string
	Options      options.Options
}

// ExtraArgs returns the arguments implied by flags other than --options.
func (inv Invocation) ExtraArgs() map[string]any {
	extra := map[string]any{}
	if inv.SettingsFile != "" {
		extra["settings_file"] = inv.SettingsFile
	}
	return extra
}
