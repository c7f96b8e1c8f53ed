package router

import (
	"sort"
	"strings"
)

// helpText renders plain-text help: the command list, or details for one command.
func (m *CommandManager) helpText(args []string) string {
	if len(args) > 0 {
		word := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c, ok := m.lookup(word)
		if !ok {
			return "unknown command, try /help"
		}
		var b strings.Builder
		b.WriteString("/" + c.Name)
		if c.Description != "" {
			b.WriteString(" - " + c.Description)
		}
		if c.Usage != "" {
			b.WriteString("\nusage: " + c.Usage)
		}
		if len(c.Aliases) > 0 {
			b.WriteString("\naliases: /" + strings.Join(c.Aliases, ", /"))
		}
		if c.Access == AccessOwnerOnly {
			b.WriteString("\n(owner only)")
		}
		return b.String()
	}

	m.mu.RLock()
	names := make([]string, 0, len(m.cmds))
	for name := range m.cmds {
		names = append(names, name)
	}
	cmds := m.cmds
	m.mu.RUnlock()
	sort.Strings(names)

	lines := make([]string, 0, len(names)+1)
	lines = append(lines, "commands:")
	for _, name := range names {
		line := "/" + name
		if d := cmds[name].Description; d != "" {
			line += " - " + d
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
