package inventory

import (
	"fmt"
	"strings"
)

// Mode selects how a scan changes stock. In ModeAuto a leading "-" on the
// barcode marks an outbound scan; the explicit modes override that prefix.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeInput  Mode = "input"
	ModeOutput Mode = "output"
)

// Modes lists the modes in the order a UI cycles through them.
var Modes = []Mode{ModeAuto, ModeInput, ModeOutput}

// ParseMode accepts the mode names case-insensitively; empty means auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeInput:
		return ModeInput, nil
	case ModeOutput:
		return ModeOutput, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Next returns the mode after m in Modes, wrapping around.
func (m Mode) Next() Mode {
	for i, mode := range Modes {
		if mode == m {
			return Modes[(i+1)%len(Modes)]
		}
	}
	return ModeAuto
}

// ChangeType is the direction recorded in the inventory log.
type ChangeType string

const (
	ChangeInput  ChangeType = "input"
	ChangeOutput ChangeType = "output"
)

// ResolveMode strips the outbound prefix from raw and decides the change
// direction. The prefix is always stripped; it only decides the direction
// when mode is auto.
func ResolveMode(raw string, mode Mode) (string, ChangeType) {
	barcode := strings.TrimSpace(raw)
	change := ChangeInput
	if strings.HasPrefix(barcode, "-") {
		barcode = barcode[1:]
		change = ChangeOutput
	}
	switch mode {
	case ModeInput:
		change = ChangeInput
	case ModeOutput:
		change = ChangeOutput
	}
	return barcode, change
}

const (
	MinQuantity = 1
	MaxQuantity = 99
)

// ClampQuantity limits q to [MinQuantity, MaxQuantity].
func ClampQuantity(q int) int {
	return max(MinQuantity, min(MaxQuantity, q))
}
