package violation

// Category groups raw traffic light labels
type Category uint8

const (
	// Go permits entering the zone. Unknown labels fall here as well.
	Go Category = iota
	// Stop prohibits entering the zone
	Stop
)

func (c Category) String() string {
	if c == Stop {
		return "stop"
	}
	return "go"
}

// Raw labels produced by the light classifier
const (
	LabelRed       = "Red"
	LabelRedLeft   = "RedLeft"
	LabelYellow    = "Yellow"
	LabelGreen     = "Green"
	LabelGreenLeft = "GreenLeft"
	LabelUnknown   = "Unknown"
)

// lightLabels maps classifier class ids to raw labels
var lightLabels = map[int]string{
	0: LabelRed,
	1: LabelRedLeft,
	2: LabelYellow,
	3: LabelGreen,
	4: LabelGreenLeft,
}

var stopLabels = map[string]struct{}{
	LabelRed:     {},
	LabelRedLeft: {},
	LabelYellow:  {},
}

// LightLabel maps classifier class id to raw label
func LightLabel(classID int) string {
	if label, ok := lightLabels[classID]; ok {
		return label
	}
	return LabelUnknown
}

// Light is the traffic light state as last classified
type Light struct {
	Label string
}

// UnknownLight is the state before the first classification
var UnknownLight = Light{Label: LabelUnknown}

// Category maps raw label to Stop or Go
func (l Light) Category() Category {
	if _, ok := stopLabels[l.Label]; ok {
		return Stop
	}
	return Go
}

// IsStop is shorthand for Category() == Stop
func (l Light) IsStop() bool {
	return l.Category() == Stop
}
