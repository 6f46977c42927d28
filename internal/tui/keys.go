package tui

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
)

// keyMap holds the dashboard's bindings.
type keyMap struct {
	NextPane key.Binding
	PrevPane key.Binding
	Workers  key.Binding
	Tasks    key.Binding
	Up       key.Binding
	Down     key.Binding
	Settings key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	NextPane: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "cycle focus")),
	PrevPane: key.NewBinding(key.WithKeys("shift+tab")),
	Workers:  key.NewBinding(key.WithKeys("1"), key.WithHelp("1/2", "jump to pane")),
	Tasks:    key.NewBinding(key.WithKeys("2")),
	Up:       key.NewBinding(key.WithKeys("k", "up")),
	Down:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/k", "select worker")),
	Settings: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "settings")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// ShortHelp lists the bindings shown in the help bar.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextPane, k.Workers, k.Down, k.Settings, k.Quit}
}

// FullHelp groups every binding for the expanded help view.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.NextPane, k.PrevPane, k.Workers, k.Tasks},
		{k.Up, k.Down, k.Settings, k.Quit},
	}
}

// HelpView returns a one-line help bar with common keybindings.
func HelpView() string {
	h := help.New()
	h.Styles.ShortKey = StyleHelp.Bold(true)
	h.Styles.ShortDesc = StyleHelp
	h.Styles.ShortSeparator = StyleHelp
	return h.View(keys)
}
