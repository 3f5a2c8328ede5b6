package rfbserver

// Button represents a mask of pointer presses/releases.
type Button uint8

// All available button mask components.
const (
	BtnLeft Button = 1 << iota
	BtnMiddle
	BtnRight
	BtnScrollUp
	BtnScrollDown
	BtnSix
	BtnSeven
	BtnEight
	BtnNone Button = 0
)
