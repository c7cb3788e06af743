package common

import (
	"errors"
	"testing"
)

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	pauses := pauseMap{ModuleBank: true}
	if err := Guard(pauses, ModuleEscrow); err != nil {
		t.Fatalf("escrow should not be paused: %v", err)
	}
	err := Guard(pauses, ModuleBank)
	if !errors.Is(err, ErrModulePaused) {
		t.Fatalf("want ErrModulePaused got %v", err)
	}
	if err.Error() != "module paused: bank" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if err := Guard(nil, ModuleBank); err != nil {
		t.Fatalf("nil view should not block: %v", err)
	}
}
