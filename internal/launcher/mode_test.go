package launcher

import (
	"reflect"
	"testing"

	"github.com/dgnsrekt/deforum_launcher/internal/options"
)

func TestParseMode(t *testing.T) {
	for _, name := range ModeNames() {
		m, err := ParseMode(name)
		if err != nil || string(m) != name {
			t.Fatalf("ParseMode(%q) = %q, %v", name, m, err)
		}
	}
	if m, err := ParseMode(""); err != nil || m != ModeDefault {
		t.Fatalf("ParseMode(\"\") = %q, %v; want default", m, err)
	}
	if _, err := ParseMode("serve"); err == nil {
		t.Fatal("ParseMode(serve) = nil error; want invalid mode")
	}
}

func TestModeString(t *testing.T) {
	if got := ModeDefault.String(); got != "default" {
		t.Fatalf("ModeDefault.String() = %q; want default", got)
	}
	if got := ModeRunPresets.String(); got != "runpresets" {
		t.Fatalf("ModeRunPresets.String() = %q", got)
	}
}

func TestInvocationExtraArgs(t *testing.T) {
	inv := Invocation{Options: options.Options{}}
	if got := inv.ExtraArgs(); len(got) != 0 {
		t.Fatalf("ExtraArgs() = %v; want empty", got)
	}
	inv.SettingsFile = "presets/Classic.txt"
	if got, want := inv.ExtraArgs(), map[string]any{"settings_file": "presets/Classic.txt"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtraArgs() = %v; want %v", got, want)
	}
}
