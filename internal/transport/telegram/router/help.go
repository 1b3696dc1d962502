package router

import "sweepbot/pkg/tgui"

// HelpText renders the command list as HTML.
func (m *Manager) HelpText() string {
	lines := []tgui.H{tgui.B("Commands")}
	for _, c := range m.Commands() {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		line := tgui.Code(usage)
		if c.Description != "" {
			line += " - " + tgui.Esc(c.Description)
		}
		lines = append(lines, line)
	}
	return tgui.Lines(lines...).String()
}
