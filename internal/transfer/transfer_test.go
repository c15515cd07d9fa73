package transfer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/johnivansn/timelock/internal/period"
	"github.com/johnivansn/timelock/internal/storage"
	"github.com/johnivansn/timelock/internal/storage/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "timelock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewService(store, &period.TestClock{CurrentTime: testNow}, zerolog.Nop()), store
}

func decode(t *testing.T, doc string) *Document {
	t.Helper()
	d, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	return d
}

const versionTwoDoc = `{
	"version": 2,
	"exportedAt": 1791979200000,
	"restrictions": [
		{"packageName": "com.example.game", "appName": "Game", "dailyQuotaMinutes": 45},
		{"packageName": "com.example.video"},
		{"appName": "No package"}
	],
	"schedules": [
		{"id": "s1", "packageName": "com.example.game", "startHour": 22, "endHour": 6, "daysOfWeek": 127},
		{"packageName": "com.example.video", "startHour": 9, "endHour": 17},
		{"id": "s-bad", "packageName": "com.example.game"}
	],
	"dateBlocks": [
		{"id": "b1", "packageName": "com.example.game", "startDate": "2026-12-20", "endDate": "2027-01-06", "label": "Holidays"},
		{"id": "b-bad", "packageName": "com.example.game", "startDate": "2026-12-20"}
	],
	"blockTemplates": [
		{"id": "t1", "name": "Exams", "type": "date", "payloadJson": "{}"}
	]
}`

func TestImport_VersionTwo(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	report, err := svc.Import(ctx, decode(t, versionTwoDoc))
	require.NoError(t, err)
	assert.Equal(t, &Report{
		Imported:           2,
		SchedulesImported:  2,
		DateBlocksImported: 1,
		TemplatesImported:  1,
	}, report)

	game, err := store.Restrictions().GetByPackage(ctx, "com.example.game")
	require.NoError(t, err)
	assert.Equal(t, "Game", game.AppName)
	assert.Equal(t, 45, game.DailyQuotaMinutes)
	assert.NotEmpty(t, game.ID)

	video, err := store.Restrictions().GetByPackage(ctx, "com.example.video")
	require.NoError(t, err)
	assert.Equal(t, "com.example.video", video.AppName)
	assert.Equal(t, 60, video.DailyQuotaMinutes)
	assert.True(t, video.Enabled)
	assert.Equal(t, storage.LimitDaily, video.LimitType)
	assert.Equal(t, storage.DailySame, video.DailyMode)
	assert.Equal(t, period.Monday, video.WeeklyResetDay)
	assert.Nil(t, video.ExpiresAt)

	s1, err := store.Schedules().Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 22, s1.StartHour)
	assert.True(t, s1.Enabled)

	b1, err := store.DateBlocks().Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 23, b1.EndHour)
	assert.Equal(t, 59, b1.EndMinute)
	assert.Equal(t, "Holidays", b1.Label)

	// A second import skips everything that carries an id or package
	report, err = svc.Import(ctx, decode(t, versionTwoDoc))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Imported)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 1, report.SchedulesImported, "schedule without id gets a fresh one")
	assert.Equal(t, 1, report.SchedulesSkipped)
	assert.Equal(t, 0, report.DateBlocksImported)
	assert.Equal(t, 1, report.DateBlocksSkipped, "incomplete items are neither imported nor skipped")
	assert.Equal(t, 1, report.TemplatesSkipped)
}

func TestImport_VersionOneIgnoresRules(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	doc := decode(t, strings.Replace(versionTwoDoc, `"version": 2`, `"version": 1`, 1))
	report, err := svc.Import(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, &Report{Imported: 2}, report)

	schedules, err := store.Schedules().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, schedules)
}

func TestImport_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{"version zero", `{"restrictions": []}`, ErrUnsupportedVersion},
		{"version five", `{"version": 5, "restrictions": [{"packageName": "com.example.game"}]}`, ErrUnsupportedVersion},
		{"missing restrictions", `{"version": 4}`, ErrNoRestrictions},
		{"null restrictions", `{"version": 3, "restrictions": null}`, ErrNoRestrictions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newService(t)
			ctx := context.Background()

			_, err := svc.Import(ctx, decode(t, tt.doc))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Import() error = %v, want %v", err, tt.wantErr)
			}

			restrictions, err := store.Restrictions().List(ctx)
			require.NoError(t, err)
			assert.Empty(t, restrictions)
		})
	}
}

func TestImport_RejectsMalformedValues(t *testing.T) {
	// The valid first restriction must not be written when a later item fails
	const valid = `{"packageName": "com.example.video", "dailyQuotaMinutes": 30}`

	tests := []struct {
		name     string
		items    string
		wantItem string
	}{
		{"unknown limit type", `"restrictions": [` + valid + `, {"packageName": "com.example.game", "limitType": "monthly"}]`, "com.example.game"},
		{"unknown daily mode", `"restrictions": [` + valid + `, {"packageName": "com.example.game", "dailyMode": "sometimes"}]`, "com.example.game"},
		{"reset day out of range", `"restrictions": [` + valid + `, {"packageName": "com.example.game", "limitType": "weekly", "weeklyResetDay": 8}]`, "com.example.game"},
		{"reset hour out of range", `"restrictions": [` + valid + `, {"packageName": "com.example.game", "weeklyResetHour": 24}]`, "com.example.game"},
		{"reset minute out of range", `"restrictions": [` + valid + `, {"packageName": "com.example.game", "weeklyResetMinute": 60}]`, "com.example.game"},
		{"negative quota", `"restrictions": [` + valid + `, {"packageName": "com.example.game", "dailyQuotaMinutes": -5}]`, "com.example.game"},
		{"malformed daily quotas", `"restrictions": [` + valid + `, {"packageName": "com.example.game", "dailyMode": "per_day", "dailyQuotas": "9:30"}]`, "com.example.game"},
		{"schedule start hour", `"restrictions": [` + valid + `], "schedules": [{"id": "s1", "packageName": "com.example.game", "startHour": 27, "endHour": 6}]`, "s1"},
		{"schedule end hour", `"restrictions": [` + valid + `], "schedules": [{"id": "s1", "packageName": "com.example.game", "startHour": 22, "endHour": -3}]`, "s1"},
		{"schedule minute", `"restrictions": [` + valid + `], "schedules": [{"id": "s1", "packageName": "com.example.game", "startHour": 22, "startMinute": 75, "endHour": 6}]`, "s1"},
		{"schedule day mask", `"restrictions": [` + valid + `], "schedules": [{"id": "s1", "packageName": "com.example.game", "startHour": 22, "endHour": 6, "daysOfWeek": 128}]`, "s1"},
		{"date block hour", `"restrictions": [` + valid + `], "dateBlocks": [{"id": "b1", "packageName": "com.example.game", "startDate": "2026-12-20", "endDate": "2026-12-21", "endHour": 24}]`, "b1"},
		{"date block date", `"restrictions": [` + valid + `], "dateBlocks": [{"id": "b1", "packageName": "com.example.game", "startDate": "20-12-2026", "endDate": "2026-12-21"}]`, "b1"},
		{"date block reversed", `"restrictions": [` + valid + `], "dateBlocks": [{"id": "b1", "packageName": "com.example.game", "startDate": "2026-12-21", "endDate": "2026-12-20"}]`, "b1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newService(t)
			ctx := context.Background()

			report, err := svc.Import(ctx, decode(t, `{"version": 4, `+tt.items+`}`))
			require.Error(t, err)
			assert.Nil(t, report)
			assert.ErrorIs(t, err, ErrInvalidItem)
			assert.ErrorIs(t, err, storage.ErrInvalid)
			assert.Contains(t, err.Error(), tt.wantItem)

			restrictions, err := store.Restrictions().List(ctx)
			require.NoError(t, err)
			assert.Empty(t, restrictions)
			schedules, err := store.Schedules().List(ctx)
			require.NoError(t, err)
			assert.Empty(t, schedules)
		})
	}
}

func TestImport_NormalizesEnums(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	_, err := svc.Import(ctx, decode(t, `{"version": 4, "restrictions": [
		{"packageName": "com.example.game", "limitType": "Weekly", "weeklyQuotaMinutes": 300, "dailyMode": ""},
		{"packageName": "com.example.video", "limitType": "", "dailyMode": "PER_DAY", "dailyQuotas": "4:10"}
	]}`))
	require.NoError(t, err)

	game, err := store.Restrictions().GetByPackage(ctx, "com.example.game")
	require.NoError(t, err)
	assert.Equal(t, storage.LimitWeekly, game.LimitType)
	assert.Equal(t, storage.DailySame, game.DailyMode)
	assert.Equal(t, 300, game.QuotaFor(period.Wednesday))

	video, err := store.Restrictions().GetByPackage(ctx, "com.example.video")
	require.NoError(t, err)
	assert.Equal(t, storage.LimitDaily, video.LimitType)
	assert.Equal(t, storage.DailyPerDay, video.DailyMode)
	assert.Equal(t, 10, video.QuotaFor(period.Wednesday))
}

func TestImport_UnsupportedVersionMentionsVersion(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Import(context.Background(), &Document{Version: 9, Restrictions: []RestrictionItem{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "9")
}

func TestExportImportRoundTrip(t *testing.T) {
	src, srcStore := newService(t)
	ctx := context.Background()

	expires := time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC)
	require.NoError(t, srcStore.Restrictions().Upsert(ctx, storage.Restriction{
		ID:                 "r1",
		PackageName:        "com.example.game",
		AppName:            "Game",
		Enabled:            true,
		LimitType:          storage.LimitWeekly,
		DailyMode:          storage.DailySame,
		WeeklyQuotaMinutes: 300,
		WeeklyResetDay:     period.Saturday,
		WeeklyResetHour:    6,
		ExpiresAt:          &expires,
		CreatedAt:          testNow,
	}))
	require.NoError(t, srcStore.Schedules().Upsert(ctx, storage.Schedule{
		ID: "s1", PackageName: "com.example.game", StartHour: 22, EndHour: 6, DaysOfWeek: 0x7F, Enabled: true, CreatedAt: testNow,
	}))
	require.NoError(t, srcStore.DateBlocks().Upsert(ctx, storage.DateBlock{
		ID: "b1", PackageName: "com.example.game", StartDate: "2026-12-20", EndDate: "2027-01-06", EndHour: 23, EndMinute: 59, Enabled: true,
	}))
	require.NoError(t, srcStore.Templates().Upsert(ctx, storage.BlockTemplate{
		ID: "t1", Name: "Exams", Type: "date", PayloadJSON: `{"days":3}`, CreatedAt: testNow,
	}))
	require.NoError(t, srcStore.Settings().SetAdminMode(ctx, true))

	doc, err := src.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, doc.Version)
	assert.Equal(t, testNow.UnixMilli(), doc.ExportedAt)
	require.NotNil(t, doc.AdminMode)
	assert.True(t, doc.AdminMode.Enabled)

	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, WriteFile(path, doc))
	loaded, err := ReadFile(path)
	require.NoError(t, err)

	dst, dstStore := newService(t)
	report, err := dst.Import(ctx, loaded)
	require.NoError(t, err)
	assert.Equal(t, &Report{
		Imported:           1,
		SchedulesImported:  1,
		DateBlocksImported: 1,
		TemplatesImported:  1,
	}, report)

	got, err := dstStore.Restrictions().GetByPackage(ctx, "com.example.game")
	require.NoError(t, err)
	assert.Equal(t, storage.LimitWeekly, got.LimitType)
	assert.Equal(t, 300, got.WeeklyQuotaMinutes)
	assert.Equal(t, period.Saturday, got.WeeklyResetDay)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expires))

	tmpl, err := dstStore.Templates().Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, `{"days":3}`, tmpl.PayloadJSON)
	assert.True(t, tmpl.CreatedAt.Equal(testNow))
}

func TestReadFile_Invalid(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = Decode(strings.NewReader(`{"version": "four"}`))
	assert.Error(t, err)
}
