package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/johnivansn/timelock/internal/period"
	"github.com/johnivansn/timelock/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultDedupSize bounds each de-duplication set
	DefaultDedupSize = 512

	// DefaultLead is how far ahead schedule and date block starts are announced
	DefaultLead = 5 * time.Minute
)

// Tomorrow notices fire when the next start is roughly one day away.
const (
	tomorrowMinMinutes = 1435
	tomorrowMaxMinutes = 1445
)

type threshold uint8

const (
	flag50 threshold = 1 << iota
	flag75
	flagLastMinute
)

// Options configures a Tracker
type Options struct {
	DedupSize int
	Lead      time.Duration
}

// Tracker owns all notification de-duplication state: per-package quota
// threshold flags and the sets of already announced schedule and date block
// events. Flags and sets are cleared by ResetDaily.
type Tracker struct {
	sink   Sink
	lead   time.Duration
	logger zerolog.Logger

	mu    sync.Mutex
	flags map[string]threshold

	scheduleSeen *lru.Cache[string, struct{}]
	upcomingSeen *lru.Cache[string, struct{}]
	endsSeen     *lru.Cache[string, struct{}]
}

// NewTracker creates a new notification tracker
func NewTracker(sink Sink, opts Options, logger zerolog.Logger) (*Tracker, error) {
	if opts.DedupSize <= 0 {
		opts.DedupSize = DefaultDedupSize
	}
	if opts.Lead <= 0 {
		opts.Lead = DefaultLead
	}

	t := &Tracker{
		sink:   sink,
		lead:   opts.Lead,
		logger: logger.With().Str("component", "notify-tracker").Logger(),
		flags:  make(map[string]threshold),
	}

	var err error
	if t.scheduleSeen, err = lru.New[string, struct{}](opts.DedupSize); err != nil {
		return nil, fmt.Errorf("failed to create schedule dedup set: %w", err)
	}
	if t.upcomingSeen, err = lru.New[string, struct{}](opts.DedupSize); err != nil {
		return nil, fmt.Errorf("failed to create date block dedup set: %w", err)
	}
	if t.endsSeen, err = lru.New[string, struct{}](opts.DedupSize); err != nil {
		return nil, fmt.Errorf("failed to create date block end dedup set: %w", err)
	}

	return t, nil
}

// Observe raises at most one quota threshold notification for the package.
// It does nothing unless quotaMinutes > 0 and usedMillis is below the quota.
// The returned kind is empty when nothing was raised.
func (t *Tracker) Observe(ctx context.Context, pkg, appName string, usedMillis int64, quotaMinutes int) Kind {
	if quotaMinutes <= 0 {
		return ""
	}
	quotaMillis := int64(quotaMinutes) * 60000
	if usedMillis >= quotaMillis {
		return ""
	}

	remaining := int((quotaMillis - usedMillis + 59999) / 60000)
	percent := float64(usedMillis) / float64(quotaMillis)

	t.mu.Lock()
	flags := t.flags[pkg]
	var kind Kind
	switch {
	case remaining == 1 && flags&flagLastMinute == 0:
		kind, flags = KindLastMinute, flags|flagLastMinute
	case percent >= 0.75 && remaining > 1 && flags&flag75 == 0:
		kind, flags = KindThreshold75, flags|flag75
	case percent >= 0.50 && percent < 0.75 && flags&flag50 == 0:
		kind, flags = KindThreshold50, flags|flag50
	}
	t.flags[pkg] = flags
	t.mu.Unlock()

	if kind == "" {
		return ""
	}

	t.logger.Debug().
		Str("package", pkg).
		Str("kind", string(kind)).
		Int("remaining_minutes", remaining).
		Msg("Quota threshold crossed")

	t.sink.Raise(ctx, Notification{
		Kind:    kind,
		Package: pkg,
		AppName: appName,
		Payload: map[string]string{KeyRemaining: strconv.Itoa(remaining)},
	})
	return kind
}

// Invalidate clears the threshold flags of one package, e.g. after its
// restriction changed.
func (t *Tracker) Invalidate(pkg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.flags, pkg)
}

// ResetDaily clears every threshold flag and de-duplication set.
func (t *Tracker) ResetDaily() {
	t.mu.Lock()
	t.flags = make(map[string]threshold)
	t.mu.Unlock()

	t.scheduleSeen.Purge()
	t.upcomingSeen.Purge()
	t.endsSeen.Purge()

	t.logger.Debug().Msg("Notification state reset")
}

// CheckSchedules announces, per package, the nearest enabled schedule that
// opens today within the lead time. names maps packages to display names.
// It returns the number of notifications raised.
func (t *Tracker) CheckSchedules(ctx context.Context, schedules []storage.Schedule, names map[string]string, now time.Time) int {
	type candidate struct {
		schedule storage.Schedule
		start    time.Time
	}

	nearest := make(map[string]candidate)
	for _, sc := range schedules {
		if !sc.Enabled || !sc.HasDay(period.Weekday(now)) {
			continue
		}
		start := time.Date(now.Year(), now.Month(), now.Day(), sc.StartHour, sc.StartMinute, 0, 0, now.Location())
		if start.Before(now) {
			continue
		}
		if c, ok := nearest[sc.PackageName]; !ok || start.Before(c.start) {
			nearest[sc.PackageName] = candidate{schedule: sc, start: start}
		}
	}

	raised := 0
	for pkg, c := range nearest {
		minutes := minutesUntil(now, c.start)
		if minutes <= 0 || time.Duration(minutes)*time.Minute > t.lead {
			continue
		}

		key := fmt.Sprintf("%s|%d", c.schedule.ID, c.start.UnixMilli())
		if seen, _ := t.scheduleSeen.ContainsOrAdd(key, struct{}{}); seen {
			continue
		}

		t.sink.Raise(ctx, Notification{
			Kind:    KindScheduleSoon,
			Package: pkg,
			AppName: displayName(names, pkg),
			Payload: map[string]string{
				KeyMinutes: strconv.Itoa(minutes),
				KeyStart:   clockPayload(c.schedule.StartHour, c.schedule.StartMinute),
				KeyEnd:     clockPayload(c.schedule.EndHour, c.schedule.EndMinute),
			},
		})
		raised++
	}
	return raised
}

// CheckDateBlocks announces upcoming and active date blocks. For each
// package it considers the nearest block that has not started yet and, when
// blocks are active, the one ending soonest. It returns the number of
// notifications raised.
func (t *Tracker) CheckDateBlocks(ctx context.Context, blocks []storage.DateBlock, names map[string]string, now time.Time) int {
	byPackage := make(map[string][]storage.DateBlock)
	for _, b := range blocks {
		if b.Enabled {
			byPackage[b.PackageName] = append(byPackage[b.PackageName], b)
		}
	}

	raised := 0
	for pkg, pkgBlocks := range byPackage {
		name := displayName(names, pkg)
		if t.checkBlockEnds(ctx, pkg, name, pkgBlocks, now) {
			raised++
		}
		if t.checkBlockUpcoming(ctx, pkg, name, pkgBlocks, now) {
			raised++
		}
	}
	return raised
}

func (t *Tracker) checkBlockEnds(ctx context.Context, pkg, name string, blocks []storage.DateBlock, now time.Time) bool {
	found := false
	var soonestEnd time.Time
	minDays := 0

	for _, b := range blocks {
		start, end, err := b.Window(now.Location())
		if err != nil || now.Before(start) || now.After(end) {
			continue
		}
		days := int(end.Sub(now) / (24 * time.Hour))
		if days < 0 {
			days = 0
		}
		if !found || days < minDays {
			found, minDays, soonestEnd = true, days, end
		}
	}
	if !found {
		return false
	}

	key := fmt.Sprintf("%s|%s|%d", pkg, period.DayKey(now), soonestEnd.UnixMilli())
	if seen, _ := t.endsSeen.ContainsOrAdd(key, struct{}{}); seen {
		return false
	}

	t.sink.Raise(ctx, Notification{
		Kind:    KindDateBlockEnds,
		Package: pkg,
		AppName: name,
		Payload: map[string]string{KeyDays: strconv.Itoa(minDays)},
	})
	return true
}

func (t *Tracker) checkBlockUpcoming(ctx context.Context, pkg, name string, blocks []storage.DateBlock, now time.Time) bool {
	var next *storage.DateBlock
	var nextStart time.Time

	for i := range blocks {
		start, _, err := blocks[i].Window(now.Location())
		if err != nil || start.Before(now) {
			continue
		}
		if next == nil || start.Before(nextStart) {
			next, nextStart = &blocks[i], start
		}
	}
	if next == nil {
		return false
	}

	minutes := minutesUntil(now, nextStart)
	payload := map[string]string{
		KeyMinutes: strconv.Itoa(minutes),
		KeyStart:   clockPayload(next.StartHour, next.StartMinute),
		KeyEnd:     clockPayload(next.EndHour, next.EndMinute),
	}

	var kind Kind
	key := fmt.Sprintf("%s|%d", next.ID, nextStart.UnixMilli())
	switch {
	case minutes > 0 && time.Duration(minutes)*time.Minute <= t.lead:
		kind = KindDateBlockSoon
	case minutes >= tomorrowMinMinutes && minutes <= tomorrowMaxMinutes && isTomorrow(now, nextStart):
		kind = KindDateBlockTomorrow
		key += "|tomorrow"
	default:
		return false
	}

	if seen, _ := t.upcomingSeen.ContainsOrAdd(key, struct{}{}); seen {
		return false
	}

	t.sink.Raise(ctx, Notification{Kind: kind, Package: pkg, AppName: name, Payload: payload})
	return true
}

// minutesUntil rounds the distance from now to at up to whole minutes.
func minutesUntil(now, at time.Time) int {
	d := at.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}

func isTomorrow(now, t time.Time) bool {
	return period.DayKey(t) == period.DayKey(period.StartOfDay(now).AddDate(0, 0, 1))
}

func displayName(names map[string]string, pkg string) string {
	if name := names[pkg]; name != "" {
		return name
	}
	return pkg
}
