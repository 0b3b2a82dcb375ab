// Package sessions resolves holiday-aware, DST-aware trading session
// boundaries for a symbol's exchange.
package sessions

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quantfold/intraday/internal/models"
)

// Boundary is a named half-open session window [Start, End) in absolute UTC.
type Boundary struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether ts falls within the boundary. Start is inclusive,
// End exclusive.
func (b Boundary) Contains(ts time.Time) bool {
	return !ts.Before(b.Start) && ts.Before(b.End)
}

// Duration returns the session length.
func (b Boundary) Duration() time.Duration { return b.End.Sub(b.Start) }

// Spec declares a session window as wall-clock "HH:MM" strings in the
// exchange timezone. An End at or before Start means the session crosses
// midnight and materializes on the next calendar day.
type Spec struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Config holds the session layout and the regular-trading-hours window.
type Config struct {
	Sessions []Spec `yaml:"sessions"`
	RTH      Spec   `yaml:"rth"`
}

// DefaultConfig is the standard index-futures session layout. Its wall-clock
// times are read in each symbol's exchange timezone at resolution.
var DefaultConfig = Config{
	Sessions: []Spec{
		{Name: "asia", Start: "20:00", End: "00:00"},
		{Name: "london", Start: "02:00", End: "05:00"},
		{Name: "newyork", Start: "09:30", End: "16:00"},
	},
	RTH: Spec{Name: "rth", Start: "09:30", End: "16:00"},
}

// exchange timezone by symbol root
var rootTimezones = map[string]string{
	"ES": "America/Chicago", "NQ": "America/Chicago", "YM": "America/Chicago",
	"RTY": "America/Chicago", "GC": "America/Chicago", "SI": "America/Chicago",
	"CL": "America/Chicago", "ZB": "America/Chicago", "ZN": "America/Chicago",
	"SPY": "America/New_York", "QQQ": "America/New_York", "IWM": "America/New_York",
	"DIA": "America/New_York",
	"EURUSD": "Europe/London", "GBPUSD": "Europe/London",
	"BTCUSD": "UTC", "ETHUSD": "UTC",
}

const defaultTimezone = "America/New_York"

// Calendar computes session boundaries for symbols. It is stateless apart
// from the configured session layout and the packaged holiday tables.
type Calendar struct {
	cfg Config
}

// NewCalendar builds a calendar, falling back to DefaultConfig when cfg has
// no sessions.
func NewCalendar(cfg Config) *Calendar {
	if len(cfg.Sessions) == 0 {
		cfg.Sessions = DefaultConfig.Sessions
	}
	if cfg.RTH.Start == "" || cfg.RTH.End == "" {
		cfg.RTH = DefaultConfig.RTH
	}
	return &Calendar{cfg: cfg}
}

// ExchangeLocation resolves the exchange timezone for a symbol. Matching is
// case-insensitive, whitespace-trimmed, and ignores any futures contract
// suffix (ESH25 resolves like ES).
func ExchangeLocation(symbol string) (*time.Location, error) {
	root := strings.ToUpper(strings.TrimSpace(symbol))
	if sym, err := models.NormalizeSymbol(root); err == nil {
		root = sym.Root
	}

	tz, ok := rootTimezones[root]
	if !ok {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading exchange timezone %q for %q: %w", tz, symbol, err)
	}
	return loc, nil
}

// BoundariesFor returns the session boundaries for a YYYY-MM-DD date, sorted
// by ascending start. Session walls are computed in the exchange timezone and
// then resolved to absolute UTC, so runs on either side of a DST transition
// yield identical durations with differing UTC offsets. Full-closure holidays
// yield no sessions.
func (c *Calendar) BoundariesFor(date, symbol string) ([]Boundary, error) {
	loc, err := ExchangeLocation(symbol)
	if err != nil {
		return nil, err
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return nil, models.NewError(models.KindValidation, models.CodeInvalidArgs,
			fmt.Sprintf("bad date %q, want YYYY-MM-DD", date), nil)
	}

	if c.IsHoliday(date, symbol) {
		return nil, nil
	}

	out := make([]Boundary, 0, len(c.cfg.Sessions))
	for _, spec := range c.cfg.Sessions {
		b, err := materialize(spec, day, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// RTHWindow returns the regular-trading-hours boundary for the date,
// shortened on packaged early-close days.
func (c *Calendar) RTHWindow(date, symbol string) (Boundary, error) {
	loc, err := ExchangeLocation(symbol)
	if err != nil {
		return Boundary{}, err
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return Boundary{}, models.NewError(models.KindValidation, models.CodeInvalidArgs,
			fmt.Sprintf("bad date %q, want YYYY-MM-DD", date), nil)
	}
	if c.IsHoliday(date, symbol) {
		return Boundary{}, models.NewError(models.KindValidation, models.CodeMissingData,
			fmt.Sprintf("%s is a full market closure", date), nil)
	}

	spec := c.cfg.RTH
	if early, ok := earlyCloses[date]; ok {
		spec.End = early
	}
	return materialize(spec, day, loc)
}

// IsHoliday reports whether the date is a packaged full market closure.
// Weekend days count as closures for non-crypto symbols.
func (c *Calendar) IsHoliday(date, symbol string) bool {
	if _, ok := fullClosures[date]; ok {
		return true
	}
	loc, err := ExchangeLocation(symbol)
	if err != nil {
		return false
	}
	if loc == time.UTC {
		// 24/7 venues have no weekend closures.
		return false
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return false
	}
	wd := day.Weekday()
	if wd == time.Saturday {
		return true
	}
	// Futures reopen Sunday evening; only equities stay dark through Sunday.
	if wd == time.Sunday {
		sym, err := models.NormalizeSymbol(symbol)
		return err != nil || !sym.IsFuture()
	}
	return false
}

// IsWithin reports whether ts falls inside the boundary.
func IsWithin(b Boundary, ts time.Time) bool { return b.Contains(ts) }

// materialize turns a wall-clock spec into an absolute UTC boundary on the
// given exchange-local day. End at or before start crosses midnight.
func materialize(spec Spec, day time.Time, loc *time.Location) (Boundary, error) {
	startClock, err := time.Parse("15:04", spec.Start)
	if err != nil {
		return Boundary{}, fmt.Errorf("session %q: bad start %q: %w", spec.Name, spec.Start, err)
	}
	endClock, err := time.Parse("15:04", spec.End)
	if err != nil {
		return Boundary{}, fmt.Errorf("session %q: bad end %q: %w", spec.Name, spec.End, err)
	}

	start := time.Date(day.Year(), day.Month(), day.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}

	return Boundary{Name: spec.Name, Start: start.UTC(), End: end.UTC()}, nil
}
