// Package tui renders a running migration in the terminal.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/chatmirror/chatmirror/internal/migration"
)

// StatusMsg carries a migration status into the program.
type StatusMsg struct {
	Status *migration.Status
}

// DoneMsg ends the program with the final job.
type DoneMsg struct {
	Job *migration.Job
	Err error
}

// ProgressModel is the bubbletea model for a full migration run.
type ProgressModel struct {
	status  *migration.Status
	bar     progress.Model
	spinner spinner.Model
	pause   func()
	pausing bool
	done    bool
	job     *migration.Job
	err     error
	width   int
}

// NewProgressModel creates the model. pause is called once when the user
// asks to stop; the run then halts after its current batch.
func NewProgressModel(pause func()) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = highlightStyle
	return ProgressModel{
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		spinner: s,
		pause:   pause,
		width:   100,
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(max(msg.Width-30, 10), 80)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "p", "q", "esc", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			if !m.pausing {
				m.pausing = true
				if m.pause != nil {
					m.pause()
				}
			}
		}
		return m, nil

	case StatusMsg:
		m.status = msg.Status
		return m, nil

	case DoneMsg:
		m.done = true
		m.job = msg.Job
		m.err = msg.Err
		if msg.Job != nil {
			m.status = migration.NewStatus(msg.Job, nil)
		}
		return m, tea.Quit

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m ProgressModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("chatmirror migration"))
	b.WriteString("\n\n")

	if m.status == nil || m.status.Job == nil {
		b.WriteString(fmt.Sprintf("  %s Counting source rows...\n", m.spinner.View()))
		return b.String()
	}
	job := m.status.Job

	phaseStyle := dimStyle
	switch job.Phase {
	case migration.PhaseMigrating:
		phaseStyle = highlightStyle
	case migration.PhaseCompleted:
		phaseStyle = successStyle
	case migration.PhaseErrored:
		phaseStyle = errStyle
	case migration.PhasePaused:
		phaseStyle = warnStyle
	}
	b.WriteString(fmt.Sprintf("  Phase: %s\n", phaseStyle.Render(string(job.Phase))))
	b.WriteString(fmt.Sprintf("  %s %3d%%\n\n", m.bar.ViewAs(float64(m.status.Percent)/100), m.status.Percent))

	for _, t := range job.Tasks {
		icon := dimStyle.Render("..")
		switch {
		case t.Completed:
			icon = successStyle.Render("OK")
		case t.Name == m.status.CurrentEntity && job.Phase == migration.PhaseMigrating:
			icon = m.spinner.View()
		case job.Phase == migration.PhaseErrored && t.Name == m.status.CurrentEntity:
			icon = errStyle.Render("XX")
		}
		line := fmt.Sprintf("  %s %-14s %7d / %-7d", icon, t.Name, t.Migrated, t.TotalRows)
		if t.Errors > 0 {
			line += errStyle.Render(fmt.Sprintf("  %d errors", t.Errors))
		}
		if t.Truncated > 0 {
			line += warnStyle.Render(fmt.Sprintf("  %d truncated", t.Truncated))
		}
		b.WriteString(line + "\n")
	}

	if lb := m.status.LastBatch; lb != nil && len(lb.RowErrors) > 0 {
		b.WriteString("\n")
		b.WriteString(errStyle.Render("  Last batch errors:"))
		b.WriteString("\n")
		for _, e := range lb.RowErrors[:min(len(lb.RowErrors), 5)] {
			b.WriteString(fmt.Sprintf("  - %s\n", e))
		}
	}

	b.WriteString("\n")
	switch {
	case m.err != nil:
		b.WriteString(errStyle.Render("  Migration failed: " + m.err.Error()))
		b.WriteString("\n")
	case job.Phase == migration.PhaseCompleted:
		migrated, failed := job.Totals()
		b.WriteString(successStyle.Render(fmt.Sprintf("  Migration completed: %d rows migrated, %d errors", migrated, failed)))
		b.WriteString("\n")
	case job.Phase == migration.PhasePaused:
		b.WriteString(warnStyle.Render("  Paused. Run `chatmirror migrate --resume` to continue."))
		b.WriteString("\n")
	case m.pausing:
		b.WriteString(warnStyle.Render("  Pausing after the current batch..."))
		b.WriteString("\n")
	default:
		b.WriteString(dimStyle.Render("  p/q: pause after the current batch"))
		b.WriteString("\n")
	}
	return b.String()
}

// Done returns true once the run has returned.
func (m ProgressModel) Done() bool {
	return m.done
}

// Result returns the final job and error of the run.
func (m ProgressModel) Result() (*migration.Job, error) {
	return m.job, m.err
}
