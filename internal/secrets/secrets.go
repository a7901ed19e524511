// Package secrets resolves the secret bindings a workflow declares through
// ${{ secrets.NAME }} expressions. Values come from the project secrets
// file, with GANTRY_SECRET_<NAME> environment variables taking precedence.
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultFileName is the secrets file name under the project dir.
	DefaultFileName = "secrets.yml"
	// EnvPrefix is prepended to a secret name to form its override
	// environment variable.
	EnvPrefix = "GANTRY_SECRET_"
)

// Secret names double as environment variable suffixes.
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store holds the file-backed secret values for one project.
type Store struct {
	values map[string]string
}

// Load reads the secrets file at path. A missing file yields an empty
// store: projects without secrets are valid.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Store{values: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("secrets: read %s: %w", path, err)
	}

	parsed := map[string]string{}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("secrets: parse %s: %w", path, err)
	}
	for name := range parsed {
		if !namePattern.MatchString(name) {
			return nil, fmt.Errorf("secrets: invalid secret name %q in %s", name, path)
		}
	}
	return &Store{values: parsed}, nil
}

// FromMap wraps an in-memory value set.
func FromMap(values map[string]string) *Store {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Store{values: copied}
}

// Lookup returns the value bound to name. The GANTRY_SECRET_<NAME>
// environment variable wins over the file so operators can override
// without editing the project.
func (s *Store) Lookup(name string) (string, bool) {
	if !namePattern.MatchString(name) {
		return "", false
	}
	if value, ok := os.LookupEnv(EnvPrefix + name); ok {
		return value, true
	}
	if s == nil {
		return "", false
	}
	value, ok := s.values[name]
	return value, ok
}

// Resolve maps each requested name to its value. Names with no binding are
// left out of the result rather than mapped to an empty string, so callers
// can distinguish unset from empty.
func (s *Store) Resolve(names []string) map[string]string {
	resolved := make(map[string]string, len(names))
	for _, name := range names {
		if value, ok := s.Lookup(name); ok {
			resolved[name] = value
		}
	}
	return resolved
}

// Names lists the file-backed secret names in sorted order. Environment
// overrides for unknown names are not enumerable and do not appear here.
func (s *Store) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
