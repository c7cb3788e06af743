package common

import (
	"errors"
	"fmt"
	"strings"
)

// Module names checked against the operator pause switches.
const (
	ModuleEscrow = "escrow"
	ModuleBank   = "bank"
)

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the operator pause switches.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when module is switched off. A nil view
// never blocks.
func Guard(p PauseView, module string) error {
	module = strings.TrimSpace(module)
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}
