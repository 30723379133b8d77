package laborder

import (
	"math"
	"strconv"
	"strings"

	"github.com/clinicore/clinicore/internal/domain/catalog"
)

// ParseNumeric parses a submitted result value, returning nil for anything
// non-numeric. Qualitative values ("positive", "trace") stay textual.
// ParseFloat would also accept "NaN" and "Inf"; neither is a measurement,
// so they are treated as non-numeric.
func ParseNumeric(value string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ComputeFlag evaluates a numeric result against the parameter's reference
// bounds. Bounds are inclusive: a value exactly on a bound is NORMAL. A nil
// value or a parameter without bounds yields UNKNOWN. The parameter is
// assumed to carry a single pre-resolved range; ambiguity between candidate
// ranges is rejected upstream at catalog write time.
func ComputeFlag(p *catalog.Parameter, value *float64) Flag {
	if value == nil {
		return FlagUnknown
	}
	if p.RefLow == nil && p.RefHigh == nil {
		return FlagUnknown
	}
	if p.RefLow != nil && *value < *p.RefLow {
		return FlagLow
	}
	if p.RefHigh != nil && *value > *p.RefHigh {
		return FlagHigh
	}
	return FlagNormal
}
