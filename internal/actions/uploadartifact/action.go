// Package uploadartifact implements the builtin upload-artifact action. It
// copies files a step produced into the run's artifacts folder, where the
// engine's object-store mirror picks them up.
package uploadartifact

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kingrea/gantry/internal/action"
	"github.com/kingrea/gantry/internal/artifact"
)

const (
	actionID      = "upload-artifact"
	actionVersion = "1.0.0"
)

// UploadAction gathers files matching a workspace-relative glob into the
// run's artifacts folder under a named bundle.
type UploadAction struct {
	*action.Base
}

// Register installs the action factory into the registry.
func Register(reg *action.Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(actionID, func(action.Config) (action.Action, error) {
		return New(), nil
	})
}

// New constructs the action definition with its output contract.
func New() *UploadAction {
	info := action.Info{
		ID:          actionID,
		Name:        "Upload Artifact",
		Description: "Copies matching files into the run's artifacts folder.",
		Version:     actionVersion,
	}
	base := action.NewBase(info)
	base.SetOutputs(artifact.UploadsDirectory)
	return &UploadAction{Base: &base}
}

// Run resolves the path glob against the workspace and copies every match
// into artifacts/<name>/, preserving workspace-relative layout. The
// if-no-files-found parameter follows the usual warn/error/ignore choices.
func (a *UploadAction) Run(ctx context.Context, step *action.StepContext) (action.Result, error) {
	name := step.Param("name")
	if name == "" {
		return action.Result{Status: action.StatusFailed, ExitCode: 1},
			fmt.Errorf("uploadartifact: name is required")
	}
	pattern := step.Param("path")
	if pattern == "" {
		return action.Result{Status: action.StatusFailed, ExitCode: 1},
			fmt.Errorf("uploadartifact: path is required")
	}

	files, err := collectFiles(step.Workspace, pattern)
	if err != nil {
		return action.Result{Status: action.StatusFailed, ExitCode: 1},
			fmt.Errorf("uploadartifact: resolve %s: %w", pattern, err)
	}
	if len(files) == 0 {
		switch step.Param("if-no-files-found") {
		case "error":
			return action.Result{
				Status:   action.StatusFailed,
				Message:  fmt.Sprintf("no files match %s", pattern),
				ExitCode: 1,
			}, nil
		case "ignore":
			return action.Result{Status: action.StatusNoOp}, nil
		default:
			step.Logbook.Warn("uploadartifact: no files match %s", pattern)
			return action.Result{
				Status:  action.StatusNoOp,
				Message: fmt.Sprintf("no files match %s", pattern),
			}, nil
		}
	}

	dest := filepath.Join(step.Run.ArtifactsPath(), name)
	for _, file := range files {
		rel, relErr := filepath.Rel(step.Workspace, file)
		if relErr != nil {
			return action.Result{Status: action.StatusFailed, ExitCode: 1}, relErr
		}
		if err := copyFile(file, filepath.Join(dest, rel)); err != nil {
			return action.Result{Status: action.StatusFailed, ExitCode: 1},
				fmt.Errorf("uploadartifact: copy %s: %w", rel, err)
		}
	}

	return action.Result{
		Status:  action.StatusCompleted,
		Message: fmt.Sprintf("uploaded %d file(s) as %s", len(files), name),
	}, nil
}

// collectFiles expands the glob and flattens directory matches into their
// contained files.
func collectFiles(workspace, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(workspace, pattern))
	if err != nil {
		return nil, err
	}
	var files []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, match)
			continue
		}
		err = filepath.WalkDir(match, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
