package output

import "github.com/charmbracelet/lipgloss"

type styles struct {
	header  lipgloss.Style
	command lipgloss.Style
	stdout  lipgloss.Style
	stderr  lipgloss.Style
	error   lipgloss.Style
	empty   lipgloss.Style
	summary lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	// remote output keeps its own tabs
	base := r.NewStyle().TabWidth(lipgloss.NoTabConversion)
	return styles{
		header:  base.Bold(true).Foreground(lipgloss.Color("39")),
		command: base.Foreground(lipgloss.Color("241")),
		stdout:  base,
		stderr:  base.Foreground(lipgloss.Color("214")),
		error:   base.Bold(true).Foreground(lipgloss.Color("203")),
		empty:   base.Faint(true),
		summary: base.Foreground(lipgloss.Color("252")),
	}
}

func (s styles) forKind(kind LineKind) lipgloss.Style {
	switch kind {
	case HeaderLine:
		return s.header
	case CommandLine:
		return s.command
	case StderrLine:
		return s.stderr
	case ErrorLine:
		return s.error
	case EmptyLine:
		return s.empty
	default:
		return s.stdout
	}
}
