package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the [key.Binding] mapping for the TUI.
type keyMap struct {
	up         key.Binding
	down       key.Binding
	enter      key.Binding
	back       key.Binding
	toggle     key.Binding
	approveAll key.Binding
	commit     key.Binding
	cancel     key.Binding
	preview    key.Binding
	yes        key.Binding
	no         key.Binding
	restart    key.Binding
	quit       key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		enter:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
		back:       key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		toggle:     key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "approve/reject")),
		approveAll: key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "approve all")),
		commit:     key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "commit")),
		cancel:     key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "cancel run")),
		preview:    key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "new preview")),
		yes:        key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "yes")),
		no:         key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "no")),
		restart:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "restart")),
		quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down, k.enter, k.back},
		{k.toggle, k.approveAll, k.commit, k.cancel},
		{k.preview, k.yes, k.no, k.restart, k.quit},
	}
}
