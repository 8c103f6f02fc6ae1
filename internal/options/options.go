package options

import (
	"fmt"
	"sort"
	"strings"
)

// Options holds the free-form key=value overrides passed on the command line.
type Options map[string]Value

// ParseOptions parses items of the form key=value. An item must contain
// exactly one '=' or the whole parse fails.
func ParseOptions(items []string) (Options, error) {
	opts := make(Options, len(items))
	for _, item := range items {
		parts := strings.Split(item, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("option %q: expected key=value", item)
		}
		opts[parts[0]] = Coerce(parts[1])
	}
	return opts, nil
}

// StringOr returns the str() rendering of key, or def when it is absent.
func (o Options) StringOr(key, def string) string {
	if v, ok := o[key]; ok {
		return v.String()
	}
	return def
}

// Truthy reports whether key is present and set.
func (o Options) Truthy(key string) bool {
	v, ok := o[key]
	return ok && v.Truthy()
}

// Map converts the options into plain values keyed by option name.
func (o Options) Map() map[string]any {
	out := make(map[string]any, len(o))
	for k, v := range o {
		out[k] = v.Any()
	}
	return out
}

// Keys returns option names in sorted order.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
