package main

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard shortcuts
type KeyMap struct {
	// Navigation
	Up       key.Binding
	Down     key.Binding
	Left     key.Binding
	Right    key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Home     key.Binding
	End      key.Binding

	// Actions
	Enter key.Binding
	Esc   key.Binding

	// Commands
	Pause    key.Binding
	Collect  key.Binding
	Uncommit key.Binding
	SoftUp   key.Binding
	SoftDown key.Binding
	Verify   key.Binding
	Copy     key.Binding
	Help     key.Binding
	Quit     key.Binding
}

// DefaultKeyMap returns the default keybindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "row up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "row down"),
		),
		Left: key.NewBinding(
			key.WithKeys("left", "h"),
			key.WithHelp("←/h", "previous region"),
		),
		Right: key.NewBinding(
			key.WithKeys("right", "l"),
			key.WithHelp("→/l", "next region"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "previous run"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "next run"),
		),
		Home: key.NewBinding(
			key.WithKeys("home", "g"),
			key.WithHelp("g", "first region"),
		),
		End: key.NewBinding(
			key.WithKeys("end", "G"),
			key.WithHelp("G", "last region"),
		),

		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "region details"),
		),
		Esc: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "close"),
		),

		Pause: key.NewBinding(
			key.WithKeys("p", " "),
			key.WithHelp("p", "pause mutators"),
		),
		Collect: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "request collection"),
		),
		Uncommit: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "uncommit now"),
		),
		SoftUp: key.NewBinding(
			key.WithKeys("+", "="),
			key.WithHelp("+", "raise soft max"),
		),
		SoftDown: key.NewBinding(
			key.WithKeys("-", "_"),
			key.WithHelp("-", "lower soft max"),
		),
		Verify: key.NewBinding(
			key.WithKeys("v"),
			key.WithHelp("v", "verify invariants"),
		),
		Copy: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "copy region"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// helpSections groups bindings for the help overlay.
func (k KeyMap) helpSections() []helpSection {
	return []helpSection{
		{"Navigation", []key.Binding{k.Left, k.Right, k.Up, k.Down, k.PageUp, k.PageDown, k.Home, k.End}},
		{"Regions", []key.Binding{k.Enter, k.Copy, k.Esc}},
		{"Heap", []key.Binding{k.Pause, k.Collect, k.Uncommit, k.SoftUp, k.SoftDown, k.Verify}},
		{"General", []key.Binding{k.Help, k.Quit}},
	}
}

type helpSection struct {
	title    string
	bindings []key.Binding
}
