// Package progress extracts completion information from ffmpeg's diagnostic
// output. ffmpeg reports capture state as repeated `token=value` pairs on
// stderr; this package turns those chunks into an elapsed duration and a
// completion percentage.
package progress

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var tokenRE = regexp.MustCompile(`(frame|fps|q|size|time|bitrate|speed)\s*=\s*(\S+)`)

// Tokens extracts all recognized `token = value` pairs from a raw stderr
// chunk. The last occurrence wins when a token repeats within one chunk.
// Chunks are treated independently: a token split across a chunk boundary is
// simply not matched, which at worst drops one progress update.
func Tokens(chunk []byte) map[string]string {
	matches := tokenRE.FindAllSubmatch(chunk, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := make(map[string]string, len(matches))
	for _, m := range matches {
		tokens[string(m[1])] = string(m[2])
	}
	return tokens
}

// Clock parses an ffmpeg timestamp of the form HH:MM:SS or HH:MM:SS.frac
// into a duration.
func Clock(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed clock value %q", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed hours in %q: %w", s, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed minutes in %q: %w", s, err)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed seconds in %q: %w", s, err)
	}
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second)), nil
}

// Fraction reports how far a capture has progressed, as a percentage of the
// requested duration. The max() in the denominator keeps the result at or
// below 100 even when the stream runs past the requested window.
func Fraction(elapsed, requested time.Duration) float64 {
	denom := max(elapsed, requested)
	if denom <= 0 {
		return 0
	}
	return elapsed.Seconds() / denom.Seconds() * 100
}

// Update runs one chunk through the parser. It reports ok only when the
// chunk carries a complete progress line (frame, size and time all present)
// with a parseable timestamp; otherwise the caller keeps its previous value.
// Malformed chunks never produce an error: garbled subprocess output is not
// a reason to fail a capture.
func Update(chunk []byte, requested time.Duration) (elapsed time.Duration, pct float64, ok bool) {
	tokens := Tokens(chunk)
	if tokens == nil {
		return 0, 0, false
	}
	if _, found := tokens["frame"]; !found {
		return 0, 0, false
	}
	if _, found := tokens["size"]; !found {
		return 0, 0, false
	}
	clock, found := tokens["time"]
	if !found {
		return 0, 0, false
	}
	elapsed, err := Clock(clock)
	if err != nil {
		return 0, 0, false
	}
	return elapsed, Fraction(elapsed, requested), true
}
