package laborder

import (
	"testing"

	"github.com/clinicore/clinicore/internal/domain/catalog"
)

func f64(v float64) *float64 { return &v }

func TestParseNumeric(t *testing.T) {
	cases := []struct {
		in   string
		want *float64
	}{
		{"4.5", f64(4.5)},
		{" 13 ", f64(13)},
		{"-0.2", f64(-0.2)},
		{"positive", nil},
		{"", nil},
		{"4,5", nil},
		{"NaN", nil},
		{"Inf", nil},
		{"+Inf", nil},
		{"-Inf", nil},
		{"infinity", nil},
	}
	for _, tc := range cases {
		got := ParseNumeric(tc.in)
		switch {
		case tc.want == nil && got != nil:
			t.Errorf("ParseNumeric(%q) = %v, want nil", tc.in, *got)
		case tc.want != nil && (got == nil || *got != *tc.want):
			t.Errorf("ParseNumeric(%q) = %v, want %v", tc.in, got, *tc.want)
		}
	}
}

func TestComputeFlagBoundaries(t *testing.T) {
	p := &catalog.Parameter{RefLow: f64(3.5), RefHigh: f64(5.2)}

	cases := []struct {
		name  string
		value *float64
		want  Flag
	}{
		{"below low", f64(3.4), FlagLow},
		{"exactly low", f64(3.5), FlagNormal},
		{"mid range", f64(4.5), FlagNormal},
		{"exactly high", f64(5.2), FlagNormal},
		{"above high", f64(5.3), FlagHigh},
		{"nil value", nil, FlagUnknown},
	}
	for _, tc := range cases {
		if got := ComputeFlag(p, tc.value); got != tc.want {
			t.Errorf("%s: ComputeFlag = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestComputeFlagNonFiniteInput(t *testing.T) {
	p := &catalog.Parameter{RefLow: f64(3.5), RefHigh: f64(5.2)}
	for _, in := range []string{"NaN", "Inf", "-Inf"} {
		if got := ComputeFlag(p, ParseNumeric(in)); got != FlagUnknown {
			t.Errorf("ComputeFlag(ParseNumeric(%q)) = %s, want UNKNOWN", in, got)
		}
	}
}

func TestComputeFlagPartialBounds(t *testing.T) {
	lowOnly := &catalog.Parameter{RefLow: f64(10)}
	if got := ComputeFlag(lowOnly, f64(9)); got != FlagLow {
		t.Errorf("low-only below = %s, want LOW", got)
	}
	if got := ComputeFlag(lowOnly, f64(10)); got != FlagNormal {
		t.Errorf("low-only at bound = %s, want NORMAL", got)
	}
	if got := ComputeFlag(lowOnly, f64(1000)); got != FlagNormal {
		t.Errorf("low-only far above = %s, want NORMAL", got)
	}

	highOnly := &catalog.Parameter{RefHigh: f64(100)}
	if got := ComputeFlag(highOnly, f64(101)); got != FlagHigh {
		t.Errorf("high-only above = %s, want HIGH", got)
	}
	if got := ComputeFlag(highOnly, f64(100)); got != FlagNormal {
		t.Errorf("high-only at bound = %s, want NORMAL", got)
	}
}

func TestComputeFlagNoBounds(t *testing.T) {
	p := &catalog.Parameter{}
	if got := ComputeFlag(p, f64(42)); got != FlagUnknown {
		t.Errorf("no bounds = %s, want UNKNOWN", got)
	}
}
