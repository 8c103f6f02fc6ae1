package netutil

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNoAddr is returned when neither the preferred address nor any candidate
// can be bound.
var ErrNoAddr = errors.New("no available api bind addresses")

// Listen binds the preferred address, or the first free candidate when
// fallback is enabled. Blank and duplicate candidates are skipped.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	preferred = strings.TrimSpace(preferred)
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address in use: %s: %w", preferred, err)
		}
	}

	for _, addr := range candidates {
		addr = strings.TrimSpace(addr)
		if addr == "" || addr == preferred {
			continue
		}
		if ln, err := net.Listen("tcp", addr); err == nil {
			return ln, nil
		}
	}
	return nil, ErrNoAddr
}
