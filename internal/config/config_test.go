package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadProjectConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	gantryDir := filepath.Join(projectDir, ".gantry")
	if err := os.MkdirAll(gantryDir, 0o755); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, GantryProjectDir: gantryDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.BaseBranch() != defaultBaseBranch {
		t.Fatalf("expected base branch %q, got %q", defaultBaseBranch, c.BaseBranch())
	}
	if _, ok := c.Runner("windows-latest"); !ok {
		t.Fatalf("expected default catalog to know windows-latest, labels: %v", c.RunnerLabels())
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	gantryDir := filepath.Join(projectDir, ".gantry")
	if err := os.MkdirAll(gantryDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := strings.Join([]string{
		"version: 1",
		"base_branch: develop",
		"runners:",
		"  beefy-box:",
		"    executor: docker",
		"    image: ubuntu:24.04",
		"    os: linux",
	}, "\n")
	if err := os.WriteFile(filepath.Join(gantryDir, "config.yml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.BaseBranch() != "develop" {
		t.Fatalf("expected base branch develop, got %q", cfg.BaseBranch())
	}
	ref, ok := cfg.Runner("beefy-box")
	if !ok {
		t.Fatalf("expected beefy-box runner, labels: %v", cfg.RunnerLabels())
	}
	if ref.Executor != ExecutorDocker || ref.Image != "ubuntu:24.04" {
		t.Fatalf("unexpected runner entry: %+v", ref)
	}
}

func TestLoadProjectConfigRejectsDockerWithoutImage(t *testing.T) {
	projectDir := t.TempDir()
	gantryDir := filepath.Join(projectDir, ".gantry")
	if err := os.MkdirAll(gantryDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := strings.Join([]string{
		"version: 1",
		"runners:",
		"  broken:",
		"    executor: docker",
	}, "\n")
	if err := os.WriteFile(filepath.Join(gantryDir, "config.yml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewConfig(projectDir); err == nil {
		t.Fatal("expected docker runner without image to be rejected")
	}
}

func TestInitGantryDirSeedsConfigOnce(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitGantryDir(projectDir); err != nil {
		t.Fatalf("InitGantryDir: %v", err)
	}
	configPath := filepath.Join(projectDir, GantryDir, "config.yml")
	if err := os.WriteFile(configPath, []byte("version: 1\nrunners:\n  only:\n    executor: local\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A second init must not clobber the user's edits.
	if err := InitGantryDir(projectDir); err != nil {
		t.Fatalf("InitGantryDir second run: %v", err)
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "only:") {
		t.Fatal("expected existing config to survive re-init")
	}
	for _, sub := range []string{"workflows", "runs", "actions", "logs"} {
		if _, err := os.Stat(filepath.Join(projectDir, GantryDir, sub)); err != nil {
			t.Fatalf("expected %s directory: %v", sub, err)
		}
	}
}

func TestSaveRoundTrips(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitGantryDir(projectDir); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	cfg.Project.BaseBranch = "release"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reloaded, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.BaseBranch() != "release" {
		t.Fatalf("expected saved base branch to round-trip, got %q", reloaded.BaseBranch())
	}
}
