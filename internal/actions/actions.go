package actions

import (
	"github.com/kingrea/gantry/internal/action"
	"github.com/kingrea/gantry/internal/actions/checkout"
	"github.com/kingrea/gantry/internal/actions/condaenv"
	"github.com/kingrea/gantry/internal/actions/uploadartifact"
)

// RegisterBuiltins installs all of the built-in action factories into the
// provided registry.
func RegisterBuiltins(reg *action.Registry) {
	if reg == nil {
		return
	}
	checkout.Register(reg)
	condaenv.Register(reg)
	uploadartifact.Register(reg)
}
