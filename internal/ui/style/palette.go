package style

import "github.com/charmbracelet/lipgloss"

var (
	Cyan    = lipgloss.Color("#00E5FF") // primary highlight
	Magenta = lipgloss.Color("#FF1B6B") // accent
	Yellow  = lipgloss.Color("#FFB500") // warnings
	Green   = lipgloss.Color("#2AFFAA") // success
	Red     = lipgloss.Color("#FF5555") // errors
	Blue    = lipgloss.Color("#3B82F6") // info

	Base01 = lipgloss.Color("#6C7280") // muted text
	Base2  = lipgloss.Color("#ECEFF4") // primary text
	Base1  = lipgloss.Color("#B4BCC8") // secondary text

	BuyColor  = Green
	SellColor = Red
)

// Palette provides centralized color management.
type Palette struct {
	Primary       lipgloss.Color
	Secondary     lipgloss.Color
	Success       lipgloss.Color
	Error         lipgloss.Color
	Warning       lipgloss.Color
	Info          lipgloss.Color
	Text          lipgloss.Color
	TextMuted     lipgloss.Color
	TextSecondary lipgloss.Color
	Buy           lipgloss.Color
	Sell          lipgloss.Color
}

func DefaultPalette() Palette {
	return Palette{
		Primary:       Cyan,
		Secondary:     Magenta,
		Success:       Green,
		Error:         Red,
		Warning:       Yellow,
		Info:          Blue,
		Text:          Base2,
		TextMuted:     Base01,
		TextSecondary: Base1,
		Buy:           BuyColor,
		Sell:          SellColor,
	}
}
