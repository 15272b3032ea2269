// Package schedule validates cron expressions and computes their next
// occurrence.
//
// Expressions use the five-field form (minute hour dom month dow) or the
// six-field form with a leading seconds field. Fields use digits, names,
// '*', '/', ',' and '-'; the day-of-month field also accepts a bare L for
// the last day of the month. Descriptors such as "@daily", inline time
// zones, '?', L offsets, W and # are not accepted; the zone travels
// separately with each job.
package schedule

import (
	"fmt"
	"strings"
	"sync"
	"time"

	cron "github.com/netresearch/go-cron"

	"github.com/xraph/courier"
)

// maxCached bounds the parse cache. Expressions come from tenants, so the
// set of distinct values is not under our control.
const maxCached = 4096

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.DomL,
)

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]cron.Schedule)

	locMu sync.RWMutex
	locs  = map[string]*time.Location{"": time.UTC, "UTC": time.UTC}
)

// checkTokens rejects syntax the parser tolerates but courier does not
// accept: '?' placeholders and any day-of-month L form other than a bare L.
// Field counts are left to the parser.
func checkTokens(expr string) error {
	fields := strings.Fields(expr)
	dom := -1
	switch len(fields) {
	case 5:
		dom = 2
	case 6:
		dom = 3
	}
	for i, f := range fields {
		for _, r := range f {
			if !isFieldRune(r) {
				return fmt.Errorf("unsupported character %q in field %d", r, i+1)
			}
		}
		if i != dom {
			continue
		}
		for _, part := range strings.Split(f, ",") {
			if part != "L" && strings.ContainsAny(part, "Ll") {
				return fmt.Errorf("unsupported day-of-month %q", part)
			}
		}
	}
	return nil
}

func isFieldRune(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		return true
	}
	return r == '*' || r == '/' || r == ',' || r == '-'
}

// IsValidExpression reports whether s is an accepted cron expression. It
// never panics, whatever the input.
func IsValidExpression(s string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	_, err := Parse(s)
	return err == nil
}

// Parse parses a cron expression. Failures wrap
// courier.ErrMalformedSchedule.
func Parse(expr string) (cron.Schedule, error) {
	cacheMu.RLock()
	sched, ok := cache[expr]
	cacheMu.RUnlock()
	if ok {
		return sched, nil
	}

	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty cron expression", courier.ErrMalformedSchedule)
	}
	// The parser understands inline zone prefixes; zones are carried on the
	// job instead so that one expression means the same thing everywhere.
	if strings.HasPrefix(trimmed, "TZ=") || strings.HasPrefix(trimmed, "CRON_TZ=") {
		return nil, fmt.Errorf("%w: inline time zone in %q", courier.ErrMalformedSchedule, expr)
	}

	if err := checkTokens(trimmed); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", courier.ErrMalformedSchedule, expr, err)
	}

	sched, err := parser.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", courier.ErrMalformedSchedule, expr, err)
	}

	cacheMu.Lock()
	if len(cache) >= maxCached {
		cache = make(map[string]cron.Schedule)
	}
	cache[expr] = sched
	cacheMu.Unlock()

	return sched, nil
}

// Location resolves an IANA zone name. The empty name means UTC.
func Location(tz string) (*time.Location, error) {
	locMu.RLock()
	loc, ok := locs[tz]
	locMu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: time zone %q: %w", courier.ErrMalformedSchedule, tz, err)
	}

	locMu.Lock()
	locs[tz] = loc
	locMu.Unlock()

	return loc, nil
}

// Validate checks both the expression and the zone of a cron schedule.
func Validate(expr, tz string) error {
	if _, err := Parse(expr); err != nil {
		return err
	}
	_, err := Location(tz)
	return err
}

// Next returns the first occurrence of expr strictly after after,
// evaluated in the zone tz. The result is in UTC.
//
// Callers re-arming a recurring job pass the occurrence the job was
// intended for, not the time delivery finished, so that slow deliveries do
// not push later occurrences back.
func Next(expr, tz string, after time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := Location(tz)
	if err != nil {
		return time.Time{}, err
	}

	next := sched.Next(after.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires after %s", courier.ErrMalformedSchedule, expr, after.Format(time.RFC3339))
	}
	return next.UTC(), nil
}
