package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

// flashLife is how long a message of each level stays up.
var flashLife = map[FlashLevel]time.Duration{
	FlashInfo: 5 * time.Second,
	FlashWarn: 8 * time.Second,
	FlashErr:  10 * time.Second,
}

// FlashMessage is one notification. Count is how many times it was raised
// while still showing.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Count   int
	Expires time.Time
}

// FlashModel holds the notification currently shown under the pages.
// Raising the message that is already up extends it and bumps its count
// instead of replacing it, so a burst of send failures reads as one line.
type FlashModel struct {
	mu      sync.RWMutex
	current FlashMessage
	watchCh chan FlashMessage
	now     func() time.Time
}

// NewFlashModel creates an empty flash model.
func NewFlashModel() *FlashModel {
	return &FlashModel{
		watchCh: make(chan FlashMessage, 8),
		now:     time.Now,
	}
}

// Info raises an info message.
func (f *FlashModel) Info(msg string) { f.raise(msg, FlashInfo) }

// Warn raises a warning.
func (f *FlashModel) Warn(msg string) { f.raise(msg, FlashWarn) }

// Err raises an error.
func (f *FlashModel) Err(err error) { f.raise(err.Error(), FlashErr) }

func (f *FlashModel) raise(text string, level FlashLevel) {
	now := f.now()
	f.mu.Lock()
	fm := FlashMessage{Text: text, Level: level, Count: 1}
	cur := f.current
	if cur.Text == text && cur.Level == level && now.Before(cur.Expires) {
		fm.Count = cur.Count + 1
	}
	fm.Expires = now.Add(flashLife[level])
	f.current = fm
	f.mu.Unlock()
	f.notify(fm)
}

// Clear drops the current message.
func (f *FlashModel) Clear() {
	f.mu.Lock()
	f.current = FlashMessage{}
	f.mu.Unlock()
	f.notify(FlashMessage{})
}

func (f *FlashModel) notify(fm FlashMessage) {
	select {
	case f.watchCh <- fm:
	default:
	}
}

// GetMessage returns the current message, or nil once it expired.
func (f *FlashModel) GetMessage() *FlashMessage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current.Text == "" || !f.now().Before(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}

// Watch returns a channel that receives every raised or cleared message.
func (f *FlashModel) Watch() <-chan FlashMessage {
	return f.watchCh
}

// FlashBar is the one-line notification bar.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

// NewFlashBar creates a flash bar.
func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	return &FlashBar{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders msg. A nil or empty message blanks the bar.
func (fb *FlashBar) Update(msg *FlashMessage) {
	fb.Clear()
	if msg == nil || msg.Text == "" {
		return
	}

	color, icon := colorName(fb.theme.FlashInfoColor), "ℹ"
	switch msg.Level {
	case FlashWarn:
		color, icon = colorName(fb.theme.FlashWarnColor), "⚠"
	case FlashErr:
		color, icon = colorName(fb.theme.FlashErrColor), "✗"
	}
	repeat := ""
	if msg.Count > 1 {
		repeat = fmt.Sprintf(" (x%d)", msg.Count)
	}
	_, _ = fmt.Fprintf(fb, " [%s]%s %s%s[-]", color, icon, tview.Escape(msg.Text), repeat)
}
