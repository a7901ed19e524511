package action

import "github.com/kingrea/gantry/internal/artifact"

// Base provides common plumbing for actions (identity + output contracts).
type Base struct {
	info    Info
	outputs []artifact.ArtifactRef
}

// NewBase seeds the helper with action info.
func NewBase(info Info) Base {
	return Base{info: info}
}

// SetOutputs declares the produced artifacts.
func (b *Base) SetOutputs(refs ...artifact.ArtifactRef) {
	b.outputs = append([]artifact.ArtifactRef{}, refs...)
}

// Info implements Action.Info.
func (b *Base) Info() Info {
	return b.info
}

// Outputs implements Action.Outputs.
func (b *Base) Outputs() []artifact.ArtifactRef {
	return append([]artifact.ArtifactRef{}, b.outputs...)
}
