package window

import (
	"errors"
	"time"
)

// Config describes an operable window in a civil timezone whose daylight
// period starts on the last Sunday of March and ends on the last Sunday of
// October, both at TransitionHour expressed in standard time.
type Config struct {
	Start          time.Duration
	End            time.Duration
	StandardOffset time.Duration
	DaylightOffset time.Duration
	StandardName   string
	DaylightName   string
	TransitionHour int
}

// Status is the result of a window check.
type Status struct {
	WithinWindow     bool      `json:"withinWindow"`
	CivilTime        time.Time `json:"civilTime"`
	IsDaylightPeriod bool      `json:"isDaylightPeriod"`
	Zone             string    `json:"zone"`
	Opens            string    `json:"opens"`
	Closes           string    `json:"closes"`
}

// Window evaluates instants against a Config. The zero value is not usable;
// construct with New.
type Window struct {
	cfg       Config
	standard  *time.Location
	daylight  *time.Location
	startSecs int
	endSecs   int
}

// UK returns the carrier's documented window: 04:30–21:30 UK civil time.
func UK() Config {
	return Config{
		Start:          4*time.Hour + 30*time.Minute,
		End:            21*time.Hour + 30*time.Minute,
		StandardOffset: 0,
		DaylightOffset: time.Hour,
		StandardName:   "GMT",
		DaylightName:   "BST",
		TransitionHour: 1,
	}
}

func New(cfg Config) (*Window, error) {
	if cfg.Start < 0 || cfg.End >= 24*time.Hour || cfg.Start > cfg.End {
		return nil, errors.New("window bounds must satisfy 0 <= start <= end < 24h")
	}
	if cfg.TransitionHour < 0 || cfg.TransitionHour > 23 {
		return nil, errors.New("window transition hour must be within 0..23")
	}
	if cfg.StandardName == "" {
		cfg.StandardName = "STD"
	}
	if cfg.DaylightName == "" {
		cfg.DaylightName = "DST"
	}

	return &Window{
		cfg:       cfg,
		standard:  time.FixedZone(cfg.StandardName, int(cfg.StandardOffset/time.Second)),
		daylight:  time.FixedZone(cfg.DaylightName, int(cfg.DaylightOffset/time.Second)),
		startSecs: int(cfg.Start / time.Second),
		endSecs:   int(cfg.End / time.Second),
	}, nil
}

// Check reports whether now falls inside the window. Both bounds are
// inclusive and compared to the second.
func (w *Window) Check(now time.Time) Status {
	daylight := w.IsDaylight(now)
	loc := w.standard
	if daylight {
		loc = w.daylight
	}

	civil := now.In(loc)
	secs := civil.Hour()*3600 + civil.Minute()*60 + civil.Second()

	return Status{
		WithinWindow:     secs >= w.startSecs && secs <= w.endSecs,
		CivilTime:        civil,
		IsDaylightPeriod: daylight,
		Zone:             loc.String(),
		Opens:            clock(w.startSecs),
		Closes:           clock(w.endSecs),
	}
}

// IsDaylight reports whether t falls in [last Sunday of March, last Sunday
// of October) at the transition hour in standard time.
func (w *Window) IsDaylight(t time.Time) bool {
	year := t.In(w.standard).Year()
	begin := lastSunday(year, time.March, w.cfg.TransitionHour, w.standard)
	end := lastSunday(year, time.October, w.cfg.TransitionHour, w.standard)
	return !t.Before(begin) && t.Before(end)
}

func lastSunday(year int, month time.Month, hour int, loc *time.Location) time.Time {
	// day 0 of the following month is the last day of month
	last := time.Date(year, month+1, 0, hour, 0, 0, 0, loc)
	return last.AddDate(0, 0, -int(last.Weekday()))
}

func clock(secs int) string {
	return time.Date(0, 1, 1, 0, 0, secs, 0, time.UTC).Format("15:04:05")
}
