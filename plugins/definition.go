package plugins

import (
	"fmt"
	"strings"

	"github.com/kingrea/gantry/internal/artifact"
)

// ActionDefinition describes a command-backed plugin action loaded from the
// project's actions directory.
//
// The struct mirrors the on-disk schema under .gantry/actions/*.yaml and is
// intentionally narrow so the runtime can validate plugin metadata before
// wiring it into the action registry.
type ActionDefinition struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string            `json:"version" yaml:"version"`
	Command     CommandSpec       `json:"command" yaml:"command"`
	Params      map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Outputs     []ArtifactBinding `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Normalized returns a trimmed, copy-on-write variant of the definition.
func (def ActionDefinition) Normalized() ActionDefinition {
	clone := ActionDefinition{
		ID:          strings.TrimSpace(def.ID),
		Name:        strings.TrimSpace(def.Name),
		Description: strings.TrimSpace(def.Description),
		Version:     strings.TrimSpace(def.Version),
		Command:     def.Command.normalized(),
	}
	if len(def.Params) > 0 {
		clone.Params = make(map[string]string, len(def.Params))
		for key, value := range def.Params {
			trimmed := strings.TrimSpace(key)
			if trimmed == "" {
				continue
			}
			clone.Params[trimmed] = value
		}
	}
	if len(def.Outputs) > 0 {
		clone.Outputs = make([]ArtifactBinding, len(def.Outputs))
		for i, binding := range def.Outputs {
			clone.Outputs[i] = binding.normalized()
		}
	}
	return clone
}

// Validate ensures the plugin definition is well-formed and references known
// artifacts.
func (def ActionDefinition) Validate() error {
	normalized := def.Normalized()
	if normalized.ID == "" {
		return fmt.Errorf("plugin: id is required")
	}
	if normalized.Version == "" {
		return fmt.Errorf("plugin %s: version is required", normalized.ID)
	}
	if err := normalized.Command.Validate(); err != nil {
		return fmt.Errorf("plugin %s: command: %w", normalized.ID, err)
	}
	if err := validateBindings("outputs", normalized.Outputs); err != nil {
		return fmt.Errorf("plugin %s: %w", normalized.ID, err)
	}
	return nil
}

// displayName returns the human label, falling back to the ID.
func (def ActionDefinition) displayName() string {
	if def.Name != "" {
		return def.Name
	}
	return def.ID
}

// CommandSpec declares the process a plugin action launches. Binary, Args,
// Dir, and Env values are text/template expressions rendered against the
// step's parameters and runtime facts before execution.
type CommandSpec struct {
	Binary         string            `json:"binary" yaml:"binary"`
	Args           []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Dir            string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Env            map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

func (spec CommandSpec) normalized() CommandSpec {
	clone := CommandSpec{
		Binary:         strings.TrimSpace(spec.Binary),
		Dir:            strings.TrimSpace(spec.Dir),
		TimeoutSeconds: spec.TimeoutSeconds,
	}
	if len(spec.Args) > 0 {
		clone.Args = make([]string, len(spec.Args))
		copy(clone.Args, spec.Args)
	}
	if len(spec.Env) > 0 {
		clone.Env = make(map[string]string, len(spec.Env))
		for key, value := range spec.Env {
			trimmedKey := strings.TrimSpace(key)
			if trimmedKey == "" {
				continue
			}
			clone.Env[trimmedKey] = value
		}
	}
	return clone
}

// Validate ensures the command is launchable.
func (spec CommandSpec) Validate() error {
	normalized := spec.normalized()
	if normalized.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	if normalized.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must be >= 0")
	}
	return nil
}

// ArtifactBinding references a declared artifact ID and whether it is optional.
type ArtifactBinding struct {
	Artifact string `json:"artifact" yaml:"artifact"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

func (binding ArtifactBinding) normalized() ArtifactBinding {
	return ArtifactBinding{
		Artifact: strings.TrimSpace(binding.Artifact),
		Optional: binding.Optional,
	}
}

// Validate ensures the binding references a known artifact.
func (binding ArtifactBinding) Validate() error {
	normalized := binding.normalized()
	if normalized.Artifact == "" {
		return fmt.Errorf("artifact id is required")
	}
	if _, ok := artifact.Lookup(normalized.Artifact); !ok {
		return fmt.Errorf("artifact %s is not registered", normalized.Artifact)
	}
	return nil
}

// Resolve returns the artifact reference declared by the binding. Optional flags
// override the default optionality set by the artifact catalog.
func (binding ArtifactBinding) Resolve() (artifact.ArtifactRef, error) {
	normalized := binding.normalized()
	ref, ok := artifact.Lookup(normalized.Artifact)
	if !ok {
		return artifact.ArtifactRef{}, fmt.Errorf("artifact %s is not registered", normalized.Artifact)
	}
	ref.Optional = normalized.Optional
	return ref, nil
}

func validateBindings(label string, bindings []ArtifactBinding) error {
	if len(bindings) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(bindings))
	for idx, binding := range bindings {
		if err := binding.Validate(); err != nil {
			return fmt.Errorf("%s[%d]: %w", label, idx, err)
		}
		key := binding.normalized().Artifact
		if key == "" {
			continue
		}
		if _, exists := seen[key]; exists {
			return fmt.Errorf("%s[%d]: duplicate artifact %s", label, idx, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
