// internal/tui/app.go
//
// This is the main TUI (Terminal User Interface) for gantry.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The flow is: User Input -> Message -> Update -> New Model -> View -> Screen

package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/gantry/internal/config"
	"github.com/kingrea/gantry/internal/logbook"
	"github.com/kingrea/gantry/internal/run"
	"github.com/kingrea/gantry/internal/rundir"
	"github.com/kingrea/gantry/internal/workflow"
)

// appState represents which "screen" we're on
type appState int

const (
	stateRunBoard     appState = iota // Run board listing every run on disk
	stateRunDetail                    // Drilled into one run's jobs and steps
	stateWorkflowList                 // Browsing the project's workflow definitions
)

const boardRefreshInterval = 3 * time.Second

// StateLoader resolves a run folder into its persisted state snapshot.
type StateLoader func(r *rundir.Run) (run.State, error)

// WorkflowLoader lists the workflow definitions under a directory.
type WorkflowLoader func(dir string) ([]workflow.Definition, error)

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithStateLoader overrides how the board reads run state from disk.
func WithStateLoader(loader StateLoader) AppOption {
	return func(a *App) {
		if loader != nil {
			a.stateLoader = loader
		}
	}
}

// WithWorkflowLoader overrides how the workflow list is populated.
func WithWorkflowLoader(loader WorkflowLoader) AppOption {
	return func(a *App) {
		if loader != nil {
			a.workflowLoader = loader
		}
	}
}

type boardRefreshMsg struct {
	runs []runItem
	err  error
}

type workflowListMsg struct {
	items []workflowItem
	err   error
}

// runItem is one row on the run board.
type runItem struct {
	ID    string
	State run.State
	Err   error
}

func (i runItem) Title() string { return i.ID }

func (i runItem) Description() string {
	if i.Err != nil {
		return fmt.Sprintf("state unavailable: %v", i.Err)
	}
	succeeded, failed, cancelled, skipped, active := i.State.Counts()
	parts := []string{string(i.State.Status)}
	parts = append(parts, fmt.Sprintf("%d ok", succeeded))
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	if cancelled > 0 {
		parts = append(parts, fmt.Sprintf("%d cancelled", cancelled))
	}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", skipped))
	}
	if active > 0 {
		parts = append(parts, fmt.Sprintf("%d active", active))
	}
	if !i.State.StartedAt.IsZero() {
		parts = append(parts, fmt.Sprintf("started %s ago", humanizeDuration(time.Since(i.State.StartedAt))))
	}
	return strings.Join(parts, " · ")
}

func (i runItem) FilterValue() string { return i.ID }

// workflowItem is one row in the workflow browser.
type workflowItem struct {
	def workflow.Definition
}

func (i workflowItem) Title() string { return i.def.Name }

func (i workflowItem) Description() string {
	jobs := i.def.JobIDs()
	parts := []string{fmt.Sprintf("%d job(s)", len(jobs))}
	if len(jobs) > 0 {
		parts = append(parts, strings.Join(jobs, ", "))
	}
	return strings.Join(parts, " · ")
}

func (i workflowItem) FilterValue() string { return i.def.Name }

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	state   appState
	config  *config.Config
	project *rundir.Project
	logbook *logbook.Logbook

	stateLoader    StateLoader
	workflowLoader WorkflowLoader

	// UI components
	runMenu      list.Model
	workflowMenu list.Model
	detail       *runView
	statusMsg    string
	boardErr     string

	runItems []runItem

	// Window size (we get this from bubbletea)
	width  int
	height int
}

// NewApp creates a new App instance rooted at the given project directory.
func NewApp(projectDir string, opts ...AppOption) (*App, error) {
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, err
	}
	logPath := filepath.Join(cfg.LogsDir(), "gantry.log")
	lb, err := logbook.New(logPath)
	if err != nil {
		return nil, err
	}
	lb.Info("Dashboard opened for %s", projectDir)

	runMenu := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	runMenu.Title = "⬡ RUNS"
	runMenu.SetShowStatusBar(false)
	runMenu.SetFilteringEnabled(false)
	workflowMenu := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	workflowMenu.Title = "Workflows"
	workflowMenu.SetShowStatusBar(false)
	workflowMenu.SetFilteringEnabled(false)

	app := &App{
		state:          stateRunBoard,
		config:         cfg,
		project:        cfg.Rundir(),
		logbook:        lb,
		stateLoader:    run.LoadState,
		workflowLoader: workflow.LoadDefinitionDir,
		runMenu:        runMenu,
		workflowMenu:   workflowMenu,
		statusMsg:      "Loading runs...",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app, nil
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.fetchBoardSnapshot()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.runMenu.SetSize(max(0, msg.Width-6), max(0, msg.Height-12))
		a.workflowMenu.SetSize(max(0, msg.Width-6), max(0, msg.Height-12))
		return a, nil

	case boardRefreshMsg:
		if msg.err != nil {
			a.boardErr = msg.err.Error()
		} else {
			a.boardErr = ""
			a.applyRunItems(msg.runs)
			a.statusMsg = fmt.Sprintf("%d run(s) on disk", len(msg.runs))
		}
		if a.state == stateRunDetail && a.detail != nil {
			a.detail.reload(msg.runs)
		}
		return a, a.scheduleBoardRefresh()

	case workflowListMsg:
		if msg.err != nil {
			a.boardErr = msg.err.Error()
			return a, nil
		}
		items := make([]list.Item, len(msg.items))
		for i := range msg.items {
			items[i] = msg.items[i]
		}
		a.workflowMenu.SetItems(items)
		a.statusMsg = fmt.Sprintf("%d workflow(s) defined", len(msg.items))
		return a, nil

	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "ctrl+c":
			return a, tea.Quit
		case "q":
			if a.state == stateRunBoard {
				return a, tea.Quit
			}
		case "esc":
			if a.state != stateRunBoard {
				return a.returnToBoard()
			}
		case "r":
			a.statusMsg = "Refreshing..."
			return a, a.fetchBoardSnapshot()
		case "w":
			if a.state == stateRunBoard {
				a.state = stateWorkflowList
				a.statusMsg = "Loading workflows..."
				return a, a.fetchWorkflowList()
			}
		case "enter":
			if a.state == stateRunBoard {
				return a.openSelectedRun()
			}
		}
	}

	var cmds []tea.Cmd
	switch a.state {
	case stateRunBoard:
		var menuCmd tea.Cmd
		a.runMenu, menuCmd = a.runMenu.Update(msg)
		if menuCmd != nil {
			cmds = append(cmds, menuCmd)
		}
	case stateWorkflowList:
		var menuCmd tea.Cmd
		a.workflowMenu, menuCmd = a.workflowMenu.Update(msg)
		if menuCmd != nil {
			cmds = append(cmds, menuCmd)
		}
	case stateRunDetail:
		if a.detail != nil {
			if cmd := a.detail.Update(msg); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
	}

	return a, tea.Batch(cmds...)
}

func (a *App) applyRunItems(items []runItem) {
	a.runItems = items
	listItems := make([]list.Item, len(items))
	for i := range items {
		listItems[i] = items[i]
	}
	selected := a.runMenu.Index()
	a.runMenu.SetItems(listItems)
	if selected < len(listItems) {
		a.runMenu.Select(selected)
	}
}

func (a *App) openSelectedRun() (tea.Model, tea.Cmd) {
	item, ok := a.runMenu.SelectedItem().(runItem)
	if !ok {
		return a, nil
	}
	if item.Err != nil {
		a.statusMsg = fmt.Sprintf("Run %s has no readable state", item.ID)
		return a, nil
	}
	a.logbook.Info("Opened run %s", item.ID)
	a.state = stateRunDetail
	a.detail = newRunView(a, item)
	return a, nil
}

// returnToBoard transitions back to the run board.
func (a *App) returnToBoard() (tea.Model, tea.Cmd) {
	a.state = stateRunBoard
	a.detail = nil
	a.statusMsg = fmt.Sprintf("%d run(s) on disk", len(a.runItems))
	return a, nil
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	rightWidth := max(32, width/3)
	leftWidth := width - rightWidth - 4
	if leftWidth < 40 {
		leftWidth = width - 4
	}
	if leftWidth < 20 {
		leftWidth = width
		rightWidth = 0
	}
	var content string
	switch a.state {
	case stateRunBoard:
		content = a.runMenu.View()
		if len(a.runItems) == 0 {
			content = "No runs yet. Trigger one with `gantry-runner trigger` or start watch mode."
		}
	case stateWorkflowList:
		content = a.workflowMenu.View()
	case stateRunDetail:
		if a.detail != nil {
			content = a.detail.View()
		} else {
			content = "Loading run..."
		}
	}
	return a.renderBoard(content, leftWidth, rightWidth)
}

func (a *App) renderBoard(mainContent string, leftWidth, rightWidth int) string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ GANTRY")
	leftBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(20, leftWidth)).
		Render(mainContent)
	var body string
	if rightWidth > 0 {
		rightBox := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1).
			Width(max(20, rightWidth)).
			Render(a.renderTotalsPanel(rightWidth - 4))
		body = lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox)
	} else {
		body = leftBox
	}
	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.renderFooter())
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderFooter() string {
	hints := "enter → open run    w → workflows    r → refresh    q → quit"
	if a.state != stateRunBoard {
		hints = "esc → back    r → refresh"
	}
	if a.statusMsg == "" {
		return hints
	}
	return a.statusMsg + "\n" + hints
}

func (a *App) renderTotalsPanel(width int) string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("Runs (%d)", len(a.runItems)))
	counts := map[run.Status]int{}
	for _, item := range a.runItems {
		if item.Err != nil {
			continue
		}
		counts[item.State.Status]++
	}
	lines := []string{
		fmt.Sprintf("Running:   %d", counts[run.StatusRunning]+counts[run.StatusPending]),
		fmt.Sprintf("Succeeded: %d", counts[run.StatusSucceeded]),
		fmt.Sprintf("Failed:    %d", counts[run.StatusFailed]),
		fmt.Sprintf("Cancelled: %d", counts[run.StatusCancelled]),
	}
	if a.boardErr != "" {
		lines = append(lines, fmt.Sprintf("⚠ %s", a.boardErr))
	}
	body := strings.Join(lines, "\n")
	return lipgloss.NewStyle().Width(max(20, width)).Render(title + "\n" + body)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, _ := a.logbook.Tail(6)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func (a *App) fetchBoardSnapshot() tea.Cmd {
	return func() tea.Msg {
		return a.buildBoardSnapshot()
	}
}

func (a *App) scheduleBoardRefresh() tea.Cmd {
	return tea.Tick(boardRefreshInterval, func(time.Time) tea.Msg {
		return a.buildBoardSnapshot()
	})
}

func (a *App) buildBoardSnapshot() boardRefreshMsg {
	ids, err := a.project.RunIDs()
	if err != nil {
		return boardRefreshMsg{err: err}
	}
	items := make([]runItem, 0, len(ids))
	for _, id := range ids {
		item := runItem{ID: id}
		state, err := a.stateLoader(a.project.Run(id))
		if err != nil {
			item.Err = err
		} else {
			item.State = state
		}
		items = append(items, item)
	}
	// Newest first; runs without readable state sink to the bottom.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Err != nil || items[j].Err != nil {
			return items[j].Err != nil && items[i].Err == nil
		}
		return items[i].State.StartedAt.After(items[j].State.StartedAt)
	})
	return boardRefreshMsg{runs: items}
}

func (a *App) fetchWorkflowList() tea.Cmd {
	return func() tea.Msg {
		defs, err := a.workflowLoader(a.config.WorkflowsDir())
		if err != nil {
			return workflowListMsg{err: err}
		}
		items := make([]workflowItem, 0, len(defs))
		for _, def := range defs {
			items = append(items, workflowItem{def: def})
		}
		sort.Slice(items, func(i, j int) bool { return items[i].def.Name < items[j].def.Name })
		return workflowListMsg{items: items}
	}
}

func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
