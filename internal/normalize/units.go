package normalize

import "fmt"

// Canonical units.
const (
	UnitCount   = "count"
	UnitScore   = "score"
	UnitSeconds = "seconds"
)

// conversion maps a source unit to its canonical unit.
type conversion struct {
	To     string
	Factor float64
}

var conversions = map[string]conversion{
	"count":        {To: UnitCount, Factor: 1},
	"fans":         {To: UnitCount, Factor: 1},
	"followers":    {To: UnitCount, Factor: 1},
	"pageviews":    {To: UnitCount, Factor: 1},
	"popularity":   {To: UnitScore, Factor: 1},
	"milliseconds": {To: UnitSeconds, Factor: 0.001},
	"seconds":      {To: UnitSeconds, Factor: 1},
}

// Convert returns v expressed in the canonical unit for unit.
func Convert(v float64, unit string) (float64, string, error) {
	c, ok := conversions[unit]
	if !ok {
		return 0, "", fmt.Errorf("no conversion for unit %q", unit)
	}
	return v * c.Factor, c.To, nil
}
