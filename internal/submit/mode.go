// Package submit validates, delivers and records annotation results.
package submit

import (
	"fmt"
	"strings"
)

// Mode selects the output channel of a session.
type Mode string

const (
	ModeStandalone Mode = "standalone"
	ModeAMT        Mode = "amt"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeStandalone:
		return ModeStandalone, nil
	case ModeAMT:
		return ModeAMT, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want standalone or amt)", s)
	}
}
