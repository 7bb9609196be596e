package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModulePaused is returned by Guard when an operator has paused the module.
var ErrModulePaused = errors.New("module paused")

// PauseView answers whether a named module currently rejects mutations.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused, annotated with the module name, when p
// reports module as paused. A nil view never pauses.
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
