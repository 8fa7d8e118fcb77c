package cli

import (
	"context"
	"errors"
	"fmt"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/chatvault/chatvault/internal/migrate"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// progressMsg carries one cumulative migration report.
type progressMsg migrate.Progress

// doneMsg signals that the migration stream closed.
type doneMsg struct{}

// migrateModel is the bubbletea model for migration progress.
type migrateModel struct {
	ch       <-chan migrate.Progress
	cancel   context.CancelFunc
	progress progress.Model
	theme    Theme
	last     migrate.Progress
	errs     []error
	started  bool
	done     bool
	quitting bool
}

// newMigrateModel creates a new migration progress model.
func newMigrateModel(ch <-chan migrate.Progress, cancel context.CancelFunc) migrateModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return migrateModel{
		ch:       ch,
		cancel:   cancel,
		progress: prog,
		theme:    defaultTheme,
	}
}

// waitForProgress blocks on the migration stream and delivers the next report.
func waitForProgress(ch <-chan migrate.Progress) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return doneMsg{}
		}
		return progressMsg(p)
	}
}

// Init returns the initial command (start consuming the stream).
func (m migrateModel) Init() tea.Cmd {
	return tea.Batch(
		waitForProgress(m.ch),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m migrateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.cancel()
			// Keep draining until the producer notices the cancel and
			// closes the stream, so it never blocks on a send.
			return m, waitForProgress(m.ch)
		}

	case progressMsg:
		m.started = true
		m.last = migrate.Progress(msg)
		if msg.Err != nil {
			m.errs = append(m.errs, msg.Err)
		}
		return m, waitForProgress(m.ch)

	case doneMsg:
		m.done = true
		return m, tea.Quit

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m migrateModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m migrateModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if !m.started {
		return "Counting conversations...\n"
	}

	// Calculate progress percentage
	var pct float64
	if m.last.Total > 0 {
		pct = float64(m.last.Processed) / float64(m.last.Total)
	}

	// Status line with color
	status := m.theme.statusStyle().Render("[migrating]")

	// Progress bar with counts
	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d conversations", m.last.Processed, m.last.Total)

	hint := m.theme.hintStyle().Render("Press Ctrl+C to abort")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

// finalView renders the completion message.
func (m migrateModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nMigration aborted after %d of %d conversations.\nRe-running resumes where it left off.\n",
			m.last.Processed, m.last.Total)
		return m.theme.hintStyle().Render(msg)
	}

	var output string
	output += m.theme.completedStyle().Render("✓ Migration finished") + "\n\n"
	output += fmt.Sprintf("  Conversations processed: %d\n", m.last.Processed)
	output += fmt.Sprintf("  Migrated:                %d\n", m.last.Migrated)
	output += fmt.Sprintf("  Skipped (up to date):    %d\n", m.last.Skipped)
	output += fmt.Sprintf("  Messages copied:         %d\n", m.last.Messages)
	if m.last.Summaries > 0 {
		output += fmt.Sprintf("  Summaries copied:        %d\n", m.last.Summaries)
	}
	if len(m.errs) > 0 {
		output += m.theme.errorStyle().Render(fmt.Sprintf("\nErrors (%d):\n", len(m.errs)))
		for _, e := range m.errs {
			output += fmt.Sprintf("  • %s\n", e)
		}
	}
	return output
}

// RunMigrationProgress runs the interactive progress UI over a migration
// stream. The cancel function aborts the migration when the user quits.
// Batch errors are collected and returned after the stream closes.
func RunMigrationProgress(ch <-chan migrate.Progress, cancel context.CancelFunc) error {
	p := tea.NewProgram(newMigrateModel(ch, cancel))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(migrateModel); ok {
		// A user abort is not an error
		if m.quitting {
			return nil
		}
		if len(m.errs) > 0 {
			return fmt.Errorf("migration finished with errors: %w", errors.Join(m.errs...))
		}
	}

	return nil
}
