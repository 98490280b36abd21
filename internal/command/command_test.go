package command_test

import (
	"testing"

	"github.com/desertmesh/meshtraffic/internal/command"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		input        string
		wantOK       bool
		wantKind     command.Kind
		wantLocation string
	}{
		{
			name:         "simple accidents command",
			input:        "accidents 101",
			wantOK:       true,
			wantKind:     command.KindAccidents,
			wantLocation: "101",
		},
		{
			name:         "events with interstate shorthand",
			input:        "events I10",
			wantOK:       true,
			wantKind:     command.KindEvents,
			wantLocation: "I-10",
		},
		{
			name:         "mixed case keyword",
			input:        "AcCiDeNtS phoenix",
			wantOK:       true,
			wantKind:     command.KindAccidents,
			wantLocation: "phoenix",
		},
		{
			name:         "surrounding whitespace",
			input:        "   weather flagstaff   ",
			wantOK:       true,
			wantKind:     command.KindWeather,
			wantLocation: "flagstaff",
		},
		{
			name:         "multi word location",
			input:        "alerts loop 202 east",
			wantOK:       true,
			wantKind:     command.KindAlerts,
			wantLocation: "loop 202 east",
		},
		{
			name:   "not a command",
			input:  "hello world",
			wantOK: false,
		},
		{
			name:   "keyword without location",
			input:  "accidents",
			wantOK: false,
		},
		{
			name:   "empty string",
			input:  "",
			wantOK: false,
		},
		{
			name:   "whitespace only",
			input:  "   \t  ",
			wantOK: false,
		},
		{
			name:   "keyword embedded mid-sentence",
			input:  "any accidents on 101?",
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, ok := command.Parse(tc.input)
			if ok != tc.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tc.input, ok, tc.wantOK)
			}
			if !tc.wantOK {
				return
			}
			if got.Kind != tc.wantKind {
				t.Errorf("Parse(%q) kind = %q, want %q", tc.input, got.Kind, tc.wantKind)
			}
			if got.Location != tc.wantLocation {
				t.Errorf("Parse(%q) location = %q, want %q", tc.input, got.Location, tc.wantLocation)
			}
		})
	}
}

func TestNormalizeInterstate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "lowercase no dash", input: "i10", want: "I-10"},
		{name: "uppercase no dash", input: "I10", want: "I-10"},
		{name: "already canonical", input: "I-10", want: "I-10"},
		{name: "lowercase with dash", input: "i-17", want: "I-17"},
		{name: "three digit number", input: "i101", want: "I-101"},
		{name: "embedded in phrase", input: "i10 west of downtown", want: "I-10 west of downtown"},
		{name: "embedded space does not match", input: "i 17", want: "i 17"},
		{name: "non-interstate passes through", input: "phoenix", want: "phoenix"},
		{name: "word starting with i unaffected", input: "indian school rd", want: "indian school rd"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := command.NormalizeInterstate(tc.input)
			if got != tc.want {
				t.Errorf("NormalizeInterstate(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

// Normalization must be idempotent: applying it to its own output is a no-op.
func TestNormalizeInterstateIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"i10", "I-10", "I10", "i-101", "phoenix", "loop 202", "i 17", ""}
	for _, in := range inputs {
		once := command.NormalizeInterstate(in)
		twice := command.NormalizeInterstate(once)
		if once != twice {
			t.Errorf("NormalizeInterstate not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestNormalizeInterstateEquivalence(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"i10", "I-10", "I10", "i-10"} {
		if got := command.NormalizeInterstate(in); got != "I-10" {
			t.Errorf("NormalizeInterstate(%q) = %q, want I-10", in, got)
		}
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	if _, ok := command.ParseKind("ACCIDENTS"); !ok {
		t.Error("ParseKind(ACCIDENTS) should be accepted case-insensitively")
	}
	if _, ok := command.ParseKind("listen"); ok {
		t.Error("ParseKind(listen) should be rejected")
	}
}
