package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/julianstephens/habitkeep/internal/syncer"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.state {
	case stateAddHabit:
		content = m.form.View()
		if m.formError != "" {
			content = lipgloss.JoinVertical(lipgloss.Left, content, dangerStyle.Render(m.formError))
		}
	default:
		content = m.habitsModel.View()
	}

	ui := lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("habitkeep")+"  "+m.viewStats(),
		content,
		m.viewStatus(),
		m.help.View(m),
	)
	return docStyle.Render(ui)
}

func (m Model) viewStats() string {
	return mutedStyle.Render(fmt.Sprintf("%d/%d done today · best streak %d · %.0f%% of scheduled",
		m.stats.CompletedToday, m.stats.TotalHabits, m.stats.ActiveStreak, m.stats.CompletionRate*100))
}

func (m Model) viewStatus() string {
	var indicator string
	switch m.syncState {
	case syncer.StateSynced:
		indicator = syncedStyle.Render("● synced")
	case syncer.StatePending:
		indicator = warningStyle.Render("● pending")
	case syncer.StateSyncing:
		indicator = warningStyle.Render("◌ syncing")
	case syncer.StateError:
		indicator = dangerStyle.Render("● sync error")
	default:
		indicator = mutedStyle.Render("○ not synced")
	}
	if m.status == "" {
		return indicator
	}
	return indicator + "  " + mutedStyle.Render(m.status)
}
