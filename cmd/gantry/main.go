// cmd/gantry/main.go
//
// This is the entry point for the gantry dashboard.
// When you run `gantry` from a project directory, this is what executes.
//
// Flow:
// 1. Initialize the .gantry folder if it does not exist yet
// 2. Launch the TUI run board

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/gantry/internal/config"
	"github.com/kingrea/gantry/internal/tui"
)

func main() {
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	flag.Parse()

	project := *projectDir
	if project == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
			os.Exit(1)
		}
		project = cwd
	}
	project, err := filepath.Abs(project)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving project dir: %v\n", err)
		os.Exit(1)
	}

	if err := config.InitGantryDir(project); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing .gantry directory: %v\n", err)
		os.Exit(1)
	}

	app, err := tui.NewApp(project)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting dashboard: %v\n", err)
		os.Exit(1)
	}

	// tea.NewProgram creates a new bubbletea application
	p := tea.NewProgram(
		app,
		tea.WithAltScreen(), // Use alternate screen buffer (like vim does)
	)

	// Run blocks until the user quits
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
