package ui

import "github.com/rivo/tview"

// MenuHint is one key shown in the menu bar.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // drawn in the numeric key color
}

// Component is a page of the app. Page is the key the page stack knows it
// by, Name the label shown in the crumbs and Hints the keys listed in the
// menu while it is on top.
type Component interface {
	tview.Primitive
	Page() string
	Name() string
	Hints() []MenuHint
}
