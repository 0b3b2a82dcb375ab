package sessions

// Packaged US market holiday tables. Dates are exchange-local YYYY-MM-DD.
// Full closures suppress all sessions; early closes shorten the RTH end.

var fullClosures = map[string]string{
	"2024-01-01": "New Year's Day",
	"2024-01-15": "Martin Luther King Jr. Day",
	"2024-02-19": "Presidents' Day",
	"2024-03-29": "Good Friday",
	"2024-05-27": "Memorial Day",
	"2024-06-19": "Juneteenth",
	"2024-07-04": "Independence Day",
	"2024-09-02": "Labor Day",
	"2024-11-28": "Thanksgiving",
	"2024-12-25": "Christmas",
	"2025-01-01": "New Year's Day",
	"2025-01-20": "Martin Luther King Jr. Day",
	"2025-02-17": "Presidents' Day",
	"2025-04-18": "Good Friday",
	"2025-05-26": "Memorial Day",
	"2025-06-19": "Juneteenth",
	"2025-07-04": "Independence Day",
	"2025-09-01": "Labor Day",
	"2025-11-27": "Thanksgiving",
	"2025-12-25": "Christmas",
	"2026-01-01": "New Year's Day",
	"2026-01-19": "Martin Luther King Jr. Day",
	"2026-02-16": "Presidents' Day",
	"2026-04-03": "Good Friday",
	"2026-05-25": "Memorial Day",
	"2026-06-19": "Juneteenth",
	"2026-07-03": "Independence Day (observed)",
	"2026-09-07": "Labor Day",
	"2026-11-26": "Thanksgiving",
	"2026-12-25": "Christmas",
}

// earlyCloses maps date to the shortened RTH end wall-clock time.
var earlyCloses = map[string]string{
	"2024-07-03": "13:00",
	"2024-11-29": "13:00",
	"2024-12-24": "13:00",
	"2025-07-03": "13:00",
	"2025-11-28": "13:00",
	"2025-12-24": "13:00",
	"2026-11-27": "13:00",
	"2026-12-24": "13:00",
}

// HolidayName returns the packaged closure name for a date, if any.
func HolidayName(date string) (string, bool) {
	name, ok := fullClosures[date]
	return name, ok
}
