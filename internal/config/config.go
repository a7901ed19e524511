// internal/config/config.go
//
// This package handles configuration and the .gantry directory structure.
// Every project that uses gantry gets a .gantry/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/gantry/internal/rundir"
)

const (
	// GantryDir is the name of the directory we create in each project.
	GantryDir = ".gantry"

	defaultBaseBranch = "main"
)

// Executor kinds a runner entry may declare.
const (
	ExecutorLocal  = "local"
	ExecutorDocker = "docker"
)

const defaultProjectConfigYAML = `# gantry project configuration
version: 1

# Branch that synthesized local events target when watch mode runs.
base_branch: main

# Runner catalog: maps a workflow's runs-on label to an executor.
# executor: local runs commands on this host; docker runs them in a
# container built from image.
runners:
  ubuntu-latest:
    executor: docker
    image: ubuntu:24.04
    os: linux
  windows-latest:
    executor: local
    os: windows
  macos-latest:
    executor: local
    os: darwin

# HTTP event bridge. Disable to run purely from the CLI.
bridge:
  enabled: true
  host: 127.0.0.1
  port: 8765

# Optional S3-compatible mirror for run artifacts. Leave endpoint empty
# to disable. Credentials come from the secrets store (access_key_secret
# and secret_key_secret name entries in .gantry/secrets.yml).
object_store:
  endpoint: ""
  bucket: gantry-runs
  region: ""
  use_ssl: false
  access_key_secret: AWS_ACCESS_ID
  secret_key_secret: AWS_SECRET_KEY
  region_secret: AWS_REGION
`

// RunnerRef declares how jobs carrying one runs-on label execute.
type RunnerRef struct {
	Executor string `yaml:"executor"`
	Image    string `yaml:"image,omitempty"`
	OS       string `yaml:"os,omitempty"`
}

// BridgeConfig captures the HTTP event bridge preferences.
type BridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// ObjectStoreConfig declares the optional artifact mirror. The access and
// secret keys are indirected through secret names so credentials never
// live in the config file itself.
type ObjectStoreConfig struct {
	Endpoint        string `yaml:"endpoint,omitempty"`
	Bucket          string `yaml:"bucket,omitempty"`
	Region          string `yaml:"region,omitempty"`
	UseSSL          bool   `yaml:"use_ssl,omitempty"`
	AccessKeySecret string `yaml:"access_key_secret,omitempty"`
	SecretKeySecret string `yaml:"secret_key_secret,omitempty"`
	RegionSecret    string `yaml:"region_secret,omitempty"`
}

// Enabled reports whether mirroring is configured at all.
func (o ObjectStoreConfig) Enabled() bool {
	return strings.TrimSpace(o.Endpoint) != ""
}

// ProjectConfig models .gantry/config.yml.
type ProjectConfig struct {
	Version     int                  `yaml:"version"`
	BaseBranch  string               `yaml:"base_branch,omitempty"`
	Runners     map[string]RunnerRef `yaml:"runners"`
	Bridge      BridgeConfig         `yaml:"bridge,omitempty"`
	ObjectStore ObjectStoreConfig    `yaml:"object_store,omitempty"`
}

// Config holds the runtime configuration for gantry.
type Config struct {
	// ProjectDir is the directory where the user ran `gantry` from.
	ProjectDir string

	// GantryProjectDir is ProjectDir/.gantry.
	GantryProjectDir string

	Project ProjectConfig
}

// InitGantryDir creates the .gantry directory structure in the given project
// directory and seeds a default config file when none exists.
//
// Structure created:
// .gantry/
// ├── workflows/    <- Workflow definition YAML files
// ├── runs/         <- One folder per run (state, logs, workspace)
// ├── actions/      <- Plugin action definitions (*.yml, *.go)
// └── logs/         <- Runner-level logs
func InitGantryDir(projectDir string) error {
	gantryDir := filepath.Join(projectDir, GantryDir)
	project := rundir.NewProject(gantryDir)
	if err := project.Initialize(); err != nil {
		return err
	}
	return ensureProjectConfig(filepath.Join(gantryDir, "config.yml"))
}

// NewConfig creates a Config populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:       projectDir,
		GantryProjectDir: filepath.Join(projectDir, GantryDir),
		Project:          defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Rundir returns the navigator for the project's .gantry tree.
func (c *Config) Rundir() *rundir.Project {
	return rundir.NewProject(c.GantryProjectDir)
}

// WorkflowsDir returns the directory holding workflow definitions.
func (c *Config) WorkflowsDir() string {
	return c.Rundir().WorkflowsDir()
}

// RunsDir returns the directory holding per-run folders.
func (c *Config) RunsDir() string {
	return c.Rundir().RunsDir()
}

// ActionsDir returns the directory holding plugin action definitions.
func (c *Config) ActionsDir() string {
	return c.Rundir().ActionsDir()
}

// LogsDir returns the path to the runner-level logs directory.
func (c *Config) LogsDir() string {
	return c.Rundir().LogsDir()
}

// SecretsPath returns the on-disk location of the project secrets file.
func (c *Config) SecretsPath() string {
	return c.Rundir().SecretsPath()
}

// ProjectConfigPath returns the on-disk location for the config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.GantryProjectDir, "config.yml")
}

// BaseBranch returns the branch synthesized local events target.
func (c *Config) BaseBranch() string {
	return c.Project.BaseBranch
}

// Runner returns the catalog entry for a runs-on label.
func (c *Config) Runner(label string) (RunnerRef, bool) {
	ref, ok := c.Project.Runners[strings.TrimSpace(label)]
	return ref, ok
}

// RunnerLabels lists the catalog's labels in sorted order.
func (c *Config) RunnerLabels() []string {
	labels := make([]string, 0, len(c.Project.Runners))
	for label := range c.Project.Runners {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

// Save persists the current project configuration back to config.yml.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.GantryProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure gantry dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	var parsed ProjectConfig
	// The embedded default is authored in this package; it always parses.
	_ = yaml.Unmarshal([]byte(defaultProjectConfigYAML), &parsed)
	parsed.applyDefaults()
	parsed.normalize()
	return parsed
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.BaseBranch == "" {
		pc.BaseBranch = defaultBaseBranch
	}
	if pc.Runners == nil {
		pc.Runners = map[string]RunnerRef{}
	}
}

func (pc *ProjectConfig) normalize() {
	pc.BaseBranch = strings.TrimSpace(pc.BaseBranch)
	if pc.BaseBranch == "" {
		pc.BaseBranch = defaultBaseBranch
	}
	normalized := make(map[string]RunnerRef, len(pc.Runners))
	for label, ref := range pc.Runners {
		trimmed := strings.TrimSpace(label)
		if trimmed == "" {
			continue
		}
		ref.Executor = strings.ToLower(strings.TrimSpace(ref.Executor))
		if ref.Executor == "" {
			ref.Executor = ExecutorLocal
		}
		ref.Image = strings.TrimSpace(ref.Image)
		ref.OS = strings.ToLower(strings.TrimSpace(ref.OS))
		normalized[trimmed] = ref
	}
	pc.Runners = normalized
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
	pc.ObjectStore.Endpoint = strings.TrimSpace(pc.ObjectStore.Endpoint)
	pc.ObjectStore.Bucket = strings.TrimSpace(pc.ObjectStore.Bucket)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if len(pc.Runners) == 0 {
		return fmt.Errorf("at least one runner is required")
	}
	for label, ref := range pc.Runners {
		switch ref.Executor {
		case ExecutorLocal:
		case ExecutorDocker:
			if ref.Image == "" {
				return fmt.Errorf("runners[%s]: image is required for docker runners", label)
			}
		default:
			return fmt.Errorf("runners[%s]: executor must be %q or %q", label, ExecutorLocal, ExecutorDocker)
		}
	}
	if pc.Bridge.Port < 0 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port %d is out of range", pc.Bridge.Port)
	}
	if pc.ObjectStore.Enabled() && pc.ObjectStore.Bucket == "" {
		return fmt.Errorf("object_store.bucket is required when an endpoint is set")
	}
	return nil
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
