//go:build !windows

package capture

import (
	"errors"

	"go.uber.org/zap"
)

// Trap is the non-Windows placeholder. Global input hooks are only
// implemented for Windows; Start fails so the controller role refuses to run
// elsewhere instead of silently capturing nothing.
type Trap struct {
	logger *zap.Logger
}

func NewTrap(_ *Processor, logger *zap.Logger) *Trap {
	return &Trap{logger: logger}
}

func (t *Trap) Start() error {
	return errors.New("capture: global input hooks are not supported on this platform")
}

func (t *Trap) Stop() {}
