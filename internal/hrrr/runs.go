package hrrr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultSearchDays is how many days back RunFinder looks for a complete run.
const DefaultSearchDays = 5

var ErrNoAvailableRun = errors.New("no complete run available")

// ObjectChecker reports whether an object exists.
type ObjectChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// RunFinder locates the most recent run whose last forecast hour has been
// published.
type RunFinder struct {
	objects ObjectChecker
	layout  Layout
	clock   clockwork.Clock
	days    int
	logger  *slog.Logger
}

func NewRunFinder(objects ObjectChecker, layout Layout, clock clockwork.Clock, days int, logger *slog.Logger) *RunFinder {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if days <= 0 {
		days = DefaultSearchDays
	}
	return &RunFinder{objects: objects, layout: layout, clock: clock, days: days, logger: logger}
}

// LatestCompleteRun walks back one day at a time from today (UTC) and
// returns the first run date whose MaxHour file exists.
func (f *RunFinder) LatestCompleteRun(ctx context.Context) (time.Time, error) {
	now := f.clock.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	for delta := 0; delta < f.days; delta++ {
		date := today.AddDate(0, 0, -delta)
		key := f.layout.Key(date, f.layout.MaxHour)

		ok, err := f.objects.Exists(ctx, key)
		if err != nil {
			return time.Time{}, fmt.Errorf("probe %s: %w", key, err)
		}
		if ok {
			f.logger.DebugContext(ctx, "found complete run", "run_date", date.Format("2006-01-02"), "key", key)
			return date, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: searched %d days back from %s", ErrNoAvailableRun, f.days, today.Format("2006-01-02"))
}
