package media

import "fmt"

// Filter names a voice mask applied to the captured stream.
type Filter string

const (
	FilterNone     Filter = "none"
	FilterLowPitch Filter = "low-pitch"
	FilterRobot    Filter = "robot"
)

// Filters lists every supported filter.
var Filters = []Filter{FilterNone, FilterLowPitch, FilterRobot}

// ParseFilter maps a user supplied name to a Filter. The empty string is none.
func ParseFilter(s string) (Filter, error) {
	if s == "" {
		return FilterNone, nil
	}
	for _, f := range Filters {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown filter %q", s)
}
