// Package live is the interactive fuzzy search behind `kvstore live`.
package live

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/overhuman/kvstore/internal/cache"
	"github.com/overhuman/kvstore/internal/kverr"
)

var (
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	tagStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("72"))
)

// Options controls a live search session.
type Options struct {
	Limit int
	Scope cache.Scope
	In    io.Reader // defaults to os.Stdin; must be a terminal
	Out   io.Writer // defaults to os.Stdout
}

type model struct {
	input   textinput.Model
	ix      *cache.Index
	limit   int
	scope   cache.Scope
	matches []cache.Match
	cursor  int
	chosen  *cache.Match
	done    bool
}

func newModel(ix *cache.Index, opts Options) model {
	in := textinput.New()
	in.Prompt = promptStyle.Render("Query: ")
	in.Placeholder = "type to search"
	in.Focus()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	return model{input: in, ix: ix, limit: limit, scope: opts.Scope}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEsc, tea.KeyCtrlC, tea.KeyCtrlD:
			m.done = true
			return m, tea.Quit
		case tea.KeyEnter:
			if m.cursor < len(m.matches) {
				chosen := m.matches[m.cursor]
				m.chosen = &chosen
			}
			m.done = true
			return m, tea.Quit
		case tea.KeyUp, tea.KeyCtrlP:
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case tea.KeyDown, tea.KeyCtrlN:
			if m.cursor < len(m.matches)-1 {
				m.cursor++
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	before := m.input.Value()
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before {
		m.matches = m.ix.Search(m.input.Value(), m.limit, m.scope)
		m.cursor = 0
	}
	return m, cmd
}

func (m model) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.input.View())
	b.WriteString("\n")

	switch {
	case m.input.Value() == "":
		b.WriteString(mutedStyle.Render("Type to search (Esc to exit)."))
		b.WriteString("\n")
	case len(m.matches) == 0:
		b.WriteString(mutedStyle.Render("No matches found."))
		b.WriteString("\n")
	default:
		for i, match := range m.matches {
			line := match.Key + " = " + firstLine(match.Entry.Value)
			if tags := match.Entry.Tags; len(tags) > 0 {
				line += " " + tagStyle.Render("["+strings.Join(tags, ", ")+"]")
			}
			if i == m.cursor {
				line = selectedStyle.Render("> " + line)
			} else {
				line = "  " + line
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("%s · %d entries · ↑/↓ select · enter show", m.scope, m.ix.Len())))
	b.WriteString("\n")
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

// Run searches ix interactively until the user quits. Choosing a match
// prints it and records the access.
func Run(ix *cache.Index, opts Options) error {
	in, out := opts.In, opts.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if f, ok := in.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return kverr.InvalidInput("live search needs an interactive terminal")
	}

	final, err := tea.NewProgram(newModel(ix, opts), tea.WithInput(in), tea.WithOutput(out)).Run()
	if err != nil {
		return fmt.Errorf("live search: %w", err)
	}
	if m, ok := final.(model); ok && m.chosen != nil {
		ix.RecordAccess(m.chosen.Key)
		fmt.Fprintln(out, m.chosen.Entry.Summary(m.chosen.Key))
	}
	return nil
}
