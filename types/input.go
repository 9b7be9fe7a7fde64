package types

// InputCode identifies one user action from the knob or buttons.
type InputCode uint8

const (
	InputBack     InputCode = 0 // side switch
	InputSelect   InputCode = 1 // knob push
	InputCW       InputCode = 2 // knob clockwise detent
	InputCCW      InputCode = 3 // knob counter-clockwise detent
	inputCodeSpan           = 4
)

func (c InputCode) Valid() bool { return c < inputCodeSpan }

func (c InputCode) String() string {
	switch c {
	case InputBack:
		return "back"
	case InputSelect:
		return "select"
	case InputCW:
		return "cw"
	case InputCCW:
		return "ccw"
	default:
		return "unknown"
	}
}
