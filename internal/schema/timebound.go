package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	merr "modelmon/internal/errors"
)

// TimeBound is one end of a query time range. It accepts three forms:
//
//   - an absolute RFC 3339 timestamp, e.g. "2024-05-01T12:00:00Z"
//   - a relative expression: "now" or "now-<N><m|h|d>"
//   - the literal "0", the earliest-time sentinel
//
// Resolve normalizes all three to an absolute instant against the supplied
// clock, so compiled queries carry native time literals only.
type TimeBound string

// Earliest is the sentinel for the beginning of time.
const Earliest TimeBound = "0"

// Now is the relative bound for the evaluation instant.
const Now TimeBound = "now"

var relativeBound = regexp.MustCompile(`^now-([0-9]+)([mhd])$`)

// Resolve normalizes the bound to an absolute UTC instant. The clock is the
// evaluation instant for relative forms.
func (b TimeBound) Resolve(clock time.Time) (time.Time, error) {
	switch b {
	case Earliest:
		return time.Unix(0, 0).UTC(), nil
	case Now:
		return clock.UTC(), nil
	}
	if m := relativeBound.FindStringSubmatch(string(b)); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, merr.NewInvalidArgument("time bound", string(b), "now-<N><m|h|d>")
		}
		var unit time.Duration
		switch m[2] {
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		}
		return clock.UTC().Add(-time.Duration(n) * unit), nil
	}
	t, err := time.Parse(time.RFC3339, string(b))
	if err != nil {
		return time.Time{}, merr.NewInvalidArgument("time bound", string(b),
			`RFC 3339, "now", "now-<N><m|h|d>" or "0"`)
	}
	return t.UTC(), nil
}

// Literal renders the bound as a quoted backend time literal.
func (b TimeBound) Literal(clock time.Time) (string, error) {
	t, err := b.Resolve(clock)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("'%s'", t.Format("2006-01-02T15:04:05.000Z")), nil
}
