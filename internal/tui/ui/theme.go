package ui

import "github.com/gdamore/tcell/v2"

// Theme holds the colors used across the TUI.
type Theme struct {
	BgColor           tcell.Color
	FgColor           tcell.Color
	BorderColor       tcell.Color
	BorderFocusColor  tcell.Color
	TableHeaderFg     tcell.Color
	TableHeaderBg     tcell.Color
	TableCursorFg     tcell.Color
	TableCursorBg     tcell.Color
	CrumbActiveFg     tcell.Color
	CrumbActiveBg     tcell.Color
	CrumbInactiveFg   tcell.Color
	CrumbInactiveBg   tcell.Color
	MenuKeyColor      tcell.Color
	NumericKeyColor   tcell.Color
	TitleColor        tcell.Color
	CounterColor      tcell.Color
	FlashInfoColor    tcell.Color
	FlashWarnColor    tcell.Color
	FlashErrColor     tcell.Color
	PromptBorderColor tcell.Color

	// Conversation and message markers.
	UnreadColor  tcell.Color
	PinnedColor  tcell.Color
	DraftColor   tcell.Color
	OwnColor     tcell.Color
	PeerColor    tcell.Color
	PendingColor tcell.Color
	FailedColor  tcell.Color

	// Connection states.
	OnlineColor  tcell.Color
	PendingState tcell.Color
	OfflineColor tcell.Color
}

// DefaultTheme returns a k9s-inspired dark theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:           tcell.ColorBlack,
		FgColor:           tcell.ColorCadetBlue,
		BorderColor:       tcell.ColorDodgerBlue,
		BorderFocusColor:  tcell.ColorLightSkyBlue,
		TableHeaderFg:     tcell.ColorWhite,
		TableHeaderBg:     tcell.ColorBlack,
		TableCursorFg:     tcell.ColorBlack,
		TableCursorBg:     tcell.ColorAqua,
		CrumbActiveFg:     tcell.ColorBlack,
		CrumbActiveBg:     tcell.ColorOrange,
		CrumbInactiveFg:   tcell.ColorBlack,
		CrumbInactiveBg:   tcell.ColorAqua,
		MenuKeyColor:      tcell.ColorDodgerBlue,
		NumericKeyColor:   tcell.ColorFuchsia,
		TitleColor:        tcell.ColorFuchsia,
		CounterColor:      tcell.ColorPapayaWhip,
		FlashInfoColor:    tcell.ColorNavajoWhite,
		FlashWarnColor:    tcell.ColorOrange,
		FlashErrColor:     tcell.ColorOrangeRed,
		PromptBorderColor: tcell.ColorDodgerBlue,

		UnreadColor:  tcell.ColorGreenYellow,
		PinnedColor:  tcell.ColorGold,
		DraftColor:   tcell.ColorGray,
		OwnColor:     tcell.ColorMediumSpringGreen,
		PeerColor:    tcell.ColorLightSkyBlue,
		PendingColor: tcell.ColorGray,
		FailedColor:  tcell.ColorOrangeRed,

		OnlineColor:  tcell.ColorLimeGreen,
		PendingState: tcell.ColorOrange,
		OfflineColor: tcell.ColorOrangeRed,
	}
}

// ConnectionColor picks the color for a connection state name.
func (t *Theme) ConnectionColor(state string) tcell.Color {
	switch state {
	case "CONNECTED":
		return t.OnlineColor
	case "CONNECTING", "RECONNECTING":
		return t.PendingState
	default:
		return t.OfflineColor
	}
}
