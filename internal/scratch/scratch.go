// Package scratch manages per-run scratch directories. The sandbox itself
// cannot write anywhere; the host places generated code and rendered charts
// here on its behalf.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
)

type Workspace struct {
	Path string
}

// Create makes the scratch directory for one workflow run.
func Create(baseDir, runID string) (*Workspace, error) {
	path := filepath.Join(baseDir, "run-"+runID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Workspace{Path: path}, nil
}

// WriteArtifact keeps a generated code attempt on disk for debugging.
func (w *Workspace) WriteArtifact(kind string, attempt int, code string) error {
	name := fmt.Sprintf("%s-attempt-%d.lua", kind, attempt)
	return os.WriteFile(filepath.Join(w.Path, name), []byte(code), 0o644)
}

// WriteChart places the rendered chart in the scratch dir and returns its
// path.
func (w *Workspace) WriteChart(png []byte) (string, error) {
	path := w.ChartPath()
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("failed to write chart: %w", err)
	}
	return path, nil
}

func (w *Workspace) ChartPath() string {
	return filepath.Join(w.Path, "chart.png")
}

func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Path)
}
