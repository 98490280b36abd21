// Package fragment splits outbound text into radio-sized pieces. Mesh
// packets carry a strict payload limit; anything longer must be sent as an
// ordered sequence of fragments the receiver can read back-to-back.
package fragment

// Marker is appended to every fragment that continues in the next one.
const Marker = "..."

// breakpoint characters, in no order of preference; the scan simply takes
// the nearest one preceding the window edge.
func isBreakpoint(b byte) bool {
	return b == ' ' || b == ',' || b == ')'
}

// Split divides line into ordered fragments of at most limit bytes. Lines
// within the limit are returned unchanged as a single fragment. Longer lines
// are split just after a breakpoint character found by scanning backward
// from the window edge; a split is never placed in the first half of the
// window, and when no breakpoint qualifies the text is hard-cut at the
// window edge so no content is ever dropped.
//
// Split is pure: the same input always yields the same fragments, and
// concatenating all fragments with markers stripped reconstructs line
// exactly.
func Split(line string, limit int) []string {
	if limit <= len(Marker)+1 || len(line) <= limit {
		return []string{line}
	}

	window := limit - len(Marker)
	var frags []string

	rest := line
	for len(rest) > limit {
		cut := findCut(rest, window)
		frags = append(frags, rest[:cut]+Marker)
		rest = rest[cut:]
	}
	return append(frags, rest)
}

// findCut scans backward from the window edge for the nearest breakpoint,
// returning the index just past it. Splits inside the first half of the
// window produce pathologically short fragments, so the scan stops at the
// midpoint and falls back to a hard cut.
func findCut(s string, window int) int {
	min := window / 2
	for i := window - 1; i >= min; i-- {
		if isBreakpoint(s[i]) {
			return i + 1
		}
	}
	return window
}

// Join reverses Split: it strips the continuation marker from every
// non-final fragment and concatenates the payloads. Provided for receivers
// and round-trip verification.
func Join(frags []string) string {
	var out string
	for i, f := range frags {
		if i < len(frags)-1 && len(f) >= len(Marker) {
			f = f[:len(f)-len(Marker)]
		}
		out += f
	}
	return out
}
