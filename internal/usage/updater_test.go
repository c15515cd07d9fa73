package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/johnivansn/timelock/internal/notify"
	"github.com/johnivansn/timelock/internal/notify/notifytest"
	"github.com/johnivansn/timelock/internal/period"
	"github.com/johnivansn/timelock/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBlocker struct {
	mu       sync.Mutex
	packages []string
}

func (b *recordingBlocker) ForceBlockNow(pkg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packages = append(b.packages, pkg)
}

func (b *recordingBlocker) calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.packages...)
}

type updaterFixture struct {
	store   storage.Store
	journal *Journal
	clock   *period.TestClock
	sink    *notifytest.Recorder
	tracker *notify.Tracker
	blocker *recordingBlocker
	updater *Updater
}

func newUpdaterFixture(t *testing.T, now time.Time) *updaterFixture {
	t.Helper()

	f := &updaterFixture{
		store:   openTestStore(t),
		journal: NewJournal(0),
		clock:   &period.TestClock{CurrentTime: now},
		sink:    &notifytest.Recorder{},
		blocker: &recordingBlocker{},
	}

	tracker, err := notify.NewTracker(f.sink, notify.Options{}, zerolog.Nop())
	require.NoError(t, err)
	f.tracker = tracker

	ledger := NewLedger(f.journal, f.store.Usage(), zerolog.Nop())
	f.updater = NewUpdater(f.store, ledger, tracker, f.sink, f.blocker, f.clock, Config{}, zerolog.Nop())
	return f
}

func (f *updaterFixture) addRestriction(t *testing.T, r storage.Restriction) {
	t.Helper()
	if r.ID == "" {
		r.ID = r.PackageName
	}
	if r.AppName == "" {
		r.AppName = "Game"
	}
	require.NoError(t, f.store.Restrictions().Upsert(context.Background(), r))
}

func TestUpdater_DailyBreachBlocksOnce(t *testing.T) {
	f := newUpdaterFixture(t, at(14, 8, 31))
	ctx := context.Background()

	f.addRestriction(t, storage.Restriction{PackageName: testPkg, DailyQuotaMinutes: 30, Enabled: true, LimitType: storage.LimitDaily, DailyMode: storage.DailySame})
	f.journal.Record(testPkg, at(14, 8, 0))

	require.NoError(t, f.updater.Tick(ctx))

	rec, err := f.store.Usage().Get(ctx, testPkg, "2026-10-14")
	require.NoError(t, err)
	assert.Equal(t, 31, rec.UsedMinutes)
	assert.True(t, rec.Blocked)
	assert.Equal(t, []string{testPkg}, f.blocker.calls())
	assert.Equal(t, []notify.Kind{notify.KindBlocked}, f.sink.Kinds())

	// Still over quota on the next tick, already blocked
	f.clock.Advance(time.Minute)
	require.NoError(t, f.updater.Tick(ctx))
	assert.Len(t, f.blocker.calls(), 1)
	assert.Len(t, f.sink.All(), 1)
}

func TestUpdater_ThresholdNotifications(t *testing.T) {
	f := newUpdaterFixture(t, at(14, 8, 31))
	ctx := context.Background()

	f.addRestriction(t, storage.Restriction{PackageName: testPkg, DailyQuotaMinutes: 60, Enabled: true, LimitType: storage.LimitDaily, DailyMode: storage.DailySame})
	f.journal.Record(testPkg, at(14, 8, 0))

	require.NoError(t, f.updater.Tick(ctx))
	f.clock.Advance(15 * time.Minute) // 46 of 60 minutes
	require.NoError(t, f.updater.Tick(ctx))
	f.clock.Advance(13 * time.Minute) // 59 of 60 minutes
	require.NoError(t, f.updater.Tick(ctx))

	assert.Equal(t, []notify.Kind{notify.KindThreshold50, notify.KindThreshold75, notify.KindLastMinute}, f.sink.Kinds())
	assert.Empty(t, f.blocker.calls())
}

func TestUpdater_PerDayZeroQuotaNeverBlocks(t *testing.T) {
	// Tuesday has no limit, Wednesday allows 30 minutes
	f := newUpdaterFixture(t, at(13, 10, 0))
	ctx := context.Background()

	f.addRestriction(t, storage.Restriction{PackageName: testPkg, Enabled: true, LimitType: storage.LimitDaily, DailyMode: storage.DailyPerDay, DailyQuotas: "3:0,4:30"})
	f.journal.Record(testPkg, at(13, 8, 0))

	require.NoError(t, f.updater.Tick(ctx))
	rec, err := f.store.Usage().Get(ctx, testPkg, "2026-10-13")
	require.NoError(t, err)
	assert.Equal(t, 120, rec.UsedMinutes)
	assert.False(t, rec.Blocked)
	assert.Empty(t, f.blocker.calls())
}

func TestUpdater_WeeklyBreach(t *testing.T) {
	f := newUpdaterFixture(t, at(13, 9, 0))
	ctx := context.Background()

	f.addRestriction(t, storage.Restriction{PackageName: testPkg, Enabled: true, LimitType: storage.LimitWeekly, WeeklyQuotaMinutes: 90, WeeklyResetDay: 2})
	require.NoError(t, f.store.Usage().Upsert(ctx, storage.DailyUsage{PackageName: testPkg, Date: "2026-10-12", UsedMinutes: 80, UsedMillis: 80 * 60000}))
	f.journal.Record(testPkg, at(13, 8, 50))

	require.NoError(t, f.updater.Tick(ctx))

	rec, err := f.store.Usage().Get(ctx, testPkg, "2026-10-13")
	require.NoError(t, err)
	assert.Equal(t, 10, rec.UsedMinutes)
	assert.True(t, rec.Blocked)
	assert.Equal(t, []string{testPkg}, f.blocker.calls())
}

func TestUpdater_UsageNeverDecreases(t *testing.T) {
	f := newUpdaterFixture(t, at(14, 12, 0))
	ctx := context.Background()

	f.addRestriction(t, storage.Restriction{PackageName: testPkg, DailyQuotaMinutes: 120, Enabled: true})
	require.NoError(t, f.store.Usage().Upsert(ctx, storage.DailyUsage{PackageName: testPkg, Date: "2026-10-14", UsedMinutes: 40, UsedMillis: 40*60000 + 500}))

	// Empty journal, as after a restart
	require.NoError(t, f.updater.Tick(ctx))

	rec, err := f.store.Usage().Get(ctx, testPkg, "2026-10-14")
	require.NoError(t, err)
	assert.Equal(t, 40, rec.UsedMinutes)
	assert.Equal(t, int64(40*60000+500), rec.UsedMillis)
}

func TestUpdater_SkipsInactiveRestrictions(t *testing.T) {
	f := newUpdaterFixture(t, at(14, 12, 0))
	ctx := context.Background()

	past := at(14, 11, 0)
	f.addRestriction(t, storage.Restriction{PackageName: "com.example.off", DailyQuotaMinutes: 1, Enabled: false})
	f.addRestriction(t, storage.Restriction{PackageName: "com.example.expired", DailyQuotaMinutes: 1, Enabled: true, ExpiresAt: &past})
	f.journal.Record("com.example.off", at(14, 9, 0))
	f.journal.Record("com.example.expired", at(14, 10, 0))

	// A schedule of the disabled package opening in five minutes stays quiet
	require.NoError(t, f.store.Schedules().Upsert(ctx, storage.Schedule{ID: "s1", PackageName: "com.example.off", StartHour: 12, StartMinute: 5, EndHour: 13, DaysOfWeek: 0x7F, Enabled: true}))

	require.NoError(t, f.updater.Tick(ctx))

	usages, err := f.updater.TodayUsage(ctx)
	require.NoError(t, err)
	assert.Empty(t, usages)
	assert.Empty(t, f.sink.All())
	assert.Empty(t, f.blocker.calls())
}

func TestUpdater_UpcomingScheduleWithoutRestriction(t *testing.T) {
	f := newUpdaterFixture(t, at(14, 12, 0))
	ctx := context.Background()

	require.NoError(t, f.store.Schedules().Upsert(ctx, storage.Schedule{ID: "s1", PackageName: "com.example.chat", StartHour: 12, StartMinute: 5, EndHour: 13, DaysOfWeek: 0x7F, Enabled: true}))

	require.NoError(t, f.updater.Tick(ctx))

	all := f.sink.All()
	require.Len(t, all, 1)
	assert.Equal(t, notify.KindScheduleSoon, all[0].Kind)
	assert.Equal(t, "com.example.chat", all[0].AppName)
}

func TestUpdater_Intervals(t *testing.T) {
	f := newUpdaterFixture(t, at(14, 12, 0))

	assert.Equal(t, DefaultInterval, f.updater.CurrentInterval())
	f.updater.SetPowerSave(true)
	assert.True(t, f.updater.PowerSave())
	assert.Equal(t, DefaultPowerSaveInterval, f.updater.CurrentInterval())

	f.updater.SetIntervals(10*time.Second, 0)
	assert.Equal(t, DefaultPowerSaveInterval, f.updater.CurrentInterval())
	f.updater.SetPowerSave(false)
	assert.Equal(t, 10*time.Second, f.updater.CurrentInterval())
}

func TestUpdater_RunStopsOnCancel(t *testing.T) {
	f := newUpdaterFixture(t, at(14, 12, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.updater.Run(ctx) }()

	f.updater.SetPowerSave(true)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
