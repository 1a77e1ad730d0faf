package models

import "fmt"

// Label is one of the fixed disease classes the classifier may assign.
type Label string

const (
	LabelHealthy Label = "Healthy"
	LabelMosaic  Label = "Mosaic"
	LabelRedRot  Label = "RedRot"
	LabelRust    Label = "Rust"
	LabelYellow  Label = "Yellow"
)

// LabelError is the sentinel prediction shown when classification fails.
// It is never stored in a history.
const LabelError Label = "Error"

// Labels lists the closed label set in model output order.
var Labels = []Label{LabelHealthy, LabelMosaic, LabelRedRot, LabelRust, LabelYellow}

// Valid reports whether l belongs to the closed label set.
func (l Label) Valid() bool {
	for _, x := range Labels {
		if x == l {
			return true
		}
	}
	return false
}

func (l Label) String() string { return string(l) }

// ParseLabel returns the label named s (exact match).
func ParseLabel(s string) (Label, error) {
	l := Label(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown label %q", s)
	}
	return l, nil
}
