// Package views reads the list of Analytics views to attribute and expands
// the requested date range into report days.
package views

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/attribution-cli/internal/attribution"
)

// View is one website and the Analytics view that reports on it.
type View struct {
	Website string `json:"website" validate:"required"`
	ViewID  string `json:"view_id" validate:"required,numeric"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a views file. Each line is "website;viewID". Blank lines and
// lines starting with # are ignored.
func Load(path string) ([]View, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "views: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	views, err := Parse(f)
	if err != nil {
		return nil, eris.Wrapf(err, "views: %s", path)
	}
	return views, nil
}

// Parse reads views from r.
func Parse(r io.Reader) ([]View, error) {
	var out []View
	seen := make(map[string]int)

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		website, viewID, ok := strings.Cut(text, ";")
		if !ok {
			return nil, eris.Errorf("line %d: expected website;viewID, got %q", line, text)
		}
		v := View{
			Website: strings.TrimSpace(website),
			ViewID:  strings.TrimPrefix(strings.TrimSpace(viewID), "ga:"),
		}
		if err := validate.Struct(v); err != nil {
			return nil, eris.Wrapf(err, "line %d", line)
		}
		if prev, dup := seen[v.ViewID]; dup {
			return nil, eris.Errorf("line %d: view %s already listed on line %d", line, v.ViewID, prev)
		}
		seen[v.ViewID] = line
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "read views")
	}
	if len(out) == 0 {
		return nil, eris.New("no views listed")
	}
	return out, nil
}

// Yesterday returns the start of the previous day in loc.
func Yesterday(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).AddDate(0, 0, -1).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(attribution.DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

// DateRange returns every day from start to end inclusive.
func DateRange(start, end time.Time) ([]time.Time, error) {
	start = truncateDay(start)
	end = truncateDay(end)
	if start.After(end) {
		return nil, eris.Errorf("start date %s is after end date %s",
			start.Format(attribution.DateLayout), end.Format(attribution.DateLayout))
	}

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

// ResolveRange parses optional start and end arguments. Either one that is
// missing defaults to yesterday.
func ResolveRange(startArg, endArg string, now time.Time) ([]time.Time, error) {
	start := Yesterday(now, time.UTC)
	end := start
	if startArg != "" {
		var err error
		if start, err = ParseDate(startArg); err != nil {
			return nil, err
		}
	}
	if endArg != "" {
		var err error
		if end, err = ParseDate(endArg); err != nil {
			return nil, err
		}
	}
	return DateRange(start, end)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
