package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/gantry/internal/logbook"
	"github.com/kingrea/gantry/internal/run"
)

var (
	labelStyleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleWaiting = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

// runView drills into one run: its job instances, the selected instance's
// steps, and the tail of that instance's log file.
type runView struct {
	app       *App
	runID     string
	state     run.State
	stale     bool
	selection int
}

func newRunView(app *App, item runItem) *runView {
	return &runView{app: app, runID: item.ID, state: item.State}
}

// reload refreshes the view from the board's latest snapshot.
func (v *runView) reload(items []runItem) {
	for _, item := range items {
		if item.ID != v.runID {
			continue
		}
		if item.Err != nil {
			v.stale = true
			return
		}
		v.state = item.State
		v.stale = false
		if v.selection >= len(v.state.JobOrder) {
			v.selection = max(0, len(v.state.JobOrder)-1)
		}
		return
	}
	v.stale = true
}

func (v *runView) Update(msg tea.Msg) tea.Cmd {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}
	switch key.String() {
	case "up", "k":
		if v.selection > 0 {
			v.selection--
		}
	case "down", "j":
		if v.selection < len(v.state.JobOrder)-1 {
			v.selection++
		}
	}
	return nil
}

func (v *runView) View() string {
	var sections []string
	sections = append(sections, v.renderHeader())
	sections = append(sections, v.renderJobs())
	if job, ok := v.selectedJob(); ok {
		sections = append(sections, v.renderSteps(job))
		if tail := v.renderJobLog(job); tail != "" {
			sections = append(sections, tail)
		}
	}
	return strings.Join(sections, "\n\n")
}

func (v *runView) selectedJob() (run.JobState, bool) {
	jobs := v.state.JobStates()
	if v.selection < 0 || v.selection >= len(jobs) {
		return run.JobState{}, false
	}
	return jobs[v.selection], true
}

func (v *runView) renderHeader() string {
	title := lipgloss.NewStyle().Bold(true).Render(
		fmt.Sprintf("%s · %s", v.state.Workflow, v.runID))
	lines := []string{
		title,
		fmt.Sprintf("Status: %s", renderRunStatus(v.state.Status)),
	}
	if v.state.StatusReason != "" {
		lines = append(lines, detailTextStyle.Render("Reason: "+v.state.StatusReason))
	}
	ev := v.state.Event
	eventLine := ev.Kind
	if ev.Action != "" {
		eventLine += "/" + ev.Action
	}
	if ev.BaseRef != "" {
		eventLine += " → " + ev.BaseRef
	}
	if ev.HeadSHA != "" {
		eventLine += " @ " + shortSHA(ev.HeadSHA)
	}
	lines = append(lines, detailTextStyle.Render("Event: "+eventLine))
	if !v.state.StartedAt.IsZero() {
		timing := fmt.Sprintf("Started %s ago", humanizeDuration(time.Since(v.state.StartedAt)))
		if !v.state.FinishedAt.IsZero() {
			timing += fmt.Sprintf(", took %s", humanizeDuration(v.state.FinishedAt.Sub(v.state.StartedAt)))
		}
		lines = append(lines, detailTextStyle.Render(timing))
	}
	if v.stale {
		lines = append(lines, labelStyleWaiting.Render("⚠ run folder no longer readable"))
	}
	return strings.Join(lines, "\n")
}

func (v *runView) renderJobs() string {
	jobs := v.state.JobStates()
	if len(jobs) == 0 {
		return detailTextStyle.Render("No job instances recorded.")
	}
	var rows []string
	for i, job := range jobs {
		cursor := "  "
		if i == v.selection {
			cursor = "▸ "
		}
		label := renderJobStatus(job.Status)
		line := fmt.Sprintf("%s%s  %s", cursor, label, job.ID)
		if job.RunsOn != "" {
			line += detailTextStyle.Render("  on " + job.RunsOn)
		}
		if job.Reason != "" {
			line += detailTextStyle.Render("  (" + job.Reason + ")")
		}
		rows = append(rows, line)
	}
	return strings.Join(rows, "\n")
}

func (v *runView) renderSteps(job run.JobState) string {
	if len(job.Steps) == 0 {
		return detailTextStyle.Render("No steps recorded for " + job.ID)
	}
	head := lipgloss.NewStyle().Bold(true).Render("Steps · " + job.ID)
	var rows []string
	for _, step := range job.Steps {
		line := fmt.Sprintf("%s  %s", renderStepStatus(step.Status), step.Name)
		if step.Status == run.StepFailed {
			line += detailTextStyle.Render(fmt.Sprintf("  exit %d", step.ExitCode))
			if step.Message != "" {
				line += detailTextStyle.Render("  " + firstLine(step.Message))
			}
		}
		rows = append(rows, line)
	}
	return head + "\n" + strings.Join(rows, "\n")
}

func (v *runView) renderJobLog(job run.JobState) string {
	book, err := logbook.New(v.app.project.Run(v.runID).JobLogPath(job.ID))
	if err != nil {
		return ""
	}
	lines, total := book.Tail(8)
	if total == 0 {
		return ""
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("Job log (%d line(s))", total))
	body := detailTextStyle.Render(strings.Join(lines, "\n"))
	return head + "\n" + body
}

func renderRunStatus(status run.Status) string {
	switch status {
	case run.StatusSucceeded:
		return labelStyleOK.Render(string(status))
	case run.StatusFailed:
		return labelStyleFailed.Render(string(status))
	case run.StatusRunning:
		return labelStyleRunning.Render(string(status))
	case run.StatusCancelled:
		return labelStyleSkipped.Render(string(status))
	default:
		return labelStyleWaiting.Render(string(status))
	}
}

func renderJobStatus(status run.JobStatus) string {
	text := fmt.Sprintf("%-9s", string(status))
	switch status {
	case run.JobSucceeded:
		return labelStyleOK.Render(text)
	case run.JobFailed:
		return labelStyleFailed.Render(text)
	case run.JobRunning:
		return labelStyleRunning.Render(text)
	case run.JobSkipped, run.JobCancelled:
		return labelStyleSkipped.Render(text)
	default:
		return labelStyleWaiting.Render(text)
	}
}

func renderStepStatus(status run.StepStatus) string {
	switch status {
	case run.StepSucceeded:
		return labelStyleOK.Render("✓")
	case run.StepFailed:
		return labelStyleFailed.Render("✗")
	case run.StepRunning:
		return labelStyleRunning.Render("▶")
	case run.StepCancelled:
		return labelStyleSkipped.Render("×")
	case run.StepSkipped:
		return labelStyleSkipped.Render("-")
	default:
		return labelStyleWaiting.Render("·")
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
