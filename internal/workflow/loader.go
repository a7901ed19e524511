package workflow

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultWorkflowDir points to the conventional location for YAML workflow
// definitions when loading from disk.
const DefaultWorkflowDir = ".gantry/workflows"

// ParseDefinition decodes a workflow definition from YAML bytes and
// normalizes it.
func ParseDefinition(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, fmt.Errorf("workflow: definition payload is empty")
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("workflow: decode definition: %w", err)
	}
	return def.Normalized()
}

// LoadDefinitionReader reads workflow definition data from an io.Reader.
func LoadDefinitionReader(r io.Reader) (Definition, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Definition{}, fmt.Errorf("workflow: read definition: %w", err)
	}
	return ParseDefinition(content)
}

// LoadDefinitionFile loads a workflow definition from an explicit file path.
func LoadDefinitionFile(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	def, parseErr := ParseDefinition(content)
	if parseErr != nil {
		return Definition{}, fmt.Errorf("workflow: %s: %w", path, parseErr)
	}
	return def, nil
}

// LoadDefinitionDir loads every *.yml and *.yaml definition in dir, sorted by
// filename. A missing directory yields an empty slice, not an error.
func LoadDefinitionDir(dir string) ([]Definition, error) {
	if dir == "" {
		dir = DefaultWorkflowDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workflow: read %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".yml", ".yaml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		def, err := LoadDefinitionFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// SaveDefinition writes a definition as YAML, creating parent directories.
func SaveDefinition(path string, def Definition) error {
	normalized, err := def.Normalized()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("workflow: encode definition: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("workflow: create %s: %w", filepath.Dir(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultDefinition returns the stock pull-request test workflow written by
// `gantry init`: one job on a windows-latest / Python 3.10.* matrix that
// checks out the repository, provisions a conda environment, and runs pytest
// with AWS credentials bound from secrets.
func DefaultDefinition() Definition {
	failFast := false
	return Definition{
		Name: "OnStove tests",
		On: Triggers{
			PullRequest: &PullRequestRule{
				Branches: []string{"main"},
				Paths:    []string{"onstove/*", "onstove/tests/*"},
			},
		},
		Jobs: map[string]Job{
			"test": {
				RunsOn: "${{ matrix.os }}",
				Strategy: Strategy{
					FailFast: &failFast,
					Matrix: Matrix{
						"os":             {"windows-latest"},
						"python-version": {"3.10.*"},
					},
				},
				Steps: []Step{
					{Uses: "checkout"},
					{
						Uses: "setup-conda",
						With: StringMap{
							"activate-environment": "onstove-tests",
							"environment-file":     "environment-tests.yml",
							"python-version":       "${{ matrix.python-version }}",
							"auto-activate-base":   "false",
						},
					},
					{
						Name: "Run tests",
						Run:  "pytest",
						Env: StringMap{
							"AWS_ACCESS_ID":  "${{ secrets.AWS_ACCESS_ID }}",
							"AWS_SECRET_KEY": "${{ secrets.AWS_SECRET_KEY }}",
							"AWS_REGION":     "${{ secrets.AWS_REGION }}",
						},
					},
				},
			},
		},
	}
}
