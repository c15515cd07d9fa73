package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/johnivansn/timelock/internal/period"
	"github.com/johnivansn/timelock/internal/storage"
	"github.com/rs/zerolog"
)

// Import defaults for restriction fields missing from a document
const (
	defaultQuotaMinutes = 60
	defaultResetDay     = period.Monday
)

// Service moves rules between a store and documents
type Service struct {
	store  storage.Store
	clock  period.Clock
	logger zerolog.Logger
}

// NewService creates a new transfer service
func NewService(store storage.Store, clock period.Clock, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = period.RealClock{}
	}
	return &Service{
		store:  store,
		clock:  clock,
		logger: logger.With().Str("component", "transfer").Logger(),
	}
}

// Export builds a current-version document from the store.
func (s *Service) Export(ctx context.Context) (*Document, error) {
	restrictions, err := s.store.Restrictions().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list restrictions: %w", err)
	}
	schedules, err := s.store.Schedules().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	blocks, err := s.store.DateBlocks().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list date blocks: %w", err)
	}
	templates, err := s.store.Templates().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	admin, err := s.store.Settings().AdminMode(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read admin mode: %w", err)
	}

	doc := &Document{
		Version:        CurrentVersion,
		ExportedAt:     s.clock.Now().UnixMilli(),
		Restrictions:   make([]RestrictionItem, 0, len(restrictions)),
		Schedules:      make([]ScheduleItem, 0, len(schedules)),
		DateBlocks:     make([]DateBlockItem, 0, len(blocks)),
		BlockTemplates: make([]TemplateItem, 0, len(templates)),
	}

	for _, r := range restrictions {
		item := RestrictionItem{
			PackageName:        ptr(r.PackageName),
			AppName:            ptr(r.AppName),
			DailyQuotaMinutes:  ptr(r.DailyQuotaMinutes),
			IsEnabled:          ptr(r.Enabled),
			LimitType:          ptr(string(r.LimitType)),
			DailyMode:          ptr(string(r.DailyMode)),
			DailyQuotas:        ptr(r.DailyQuotas),
			WeeklyQuotaMinutes: ptr(r.WeeklyQuotaMinutes),
			WeeklyResetDay:     ptr(r.WeeklyResetDay),
			WeeklyResetHour:    ptr(r.WeeklyResetHour),
			WeeklyResetMinute:  ptr(r.WeeklyResetMinute),
		}
		if r.ExpiresAt != nil {
			item.ExpiresAt = ptr(r.ExpiresAt.UnixMilli())
		}
		doc.Restrictions = append(doc.Restrictions, item)
	}

	for _, sc := range schedules {
		doc.Schedules = append(doc.Schedules, ScheduleItem{
			ID:          ptr(sc.ID),
			PackageName: ptr(sc.PackageName),
			StartHour:   ptr(sc.StartHour),
			StartMinute: ptr(sc.StartMinute),
			EndHour:     ptr(sc.EndHour),
			EndMinute:   ptr(sc.EndMinute),
			DaysOfWeek:  ptr(sc.DaysOfWeek),
			IsEnabled:   ptr(sc.Enabled),
			CreatedAt:   ptr(sc.CreatedAt.UnixMilli()),
		})
	}

	for _, b := range blocks {
		item := DateBlockItem{
			ID:          ptr(b.ID),
			PackageName: ptr(b.PackageName),
			StartDate:   ptr(b.StartDate),
			EndDate:     ptr(b.EndDate),
			StartHour:   ptr(b.StartHour),
			StartMinute: ptr(b.StartMinute),
			EndHour:     ptr(b.EndHour),
			EndMinute:   ptr(b.EndMinute),
			IsEnabled:   ptr(b.Enabled),
		}
		if b.Label != "" {
			item.Label = ptr(b.Label)
		}
		doc.DateBlocks = append(doc.DateBlocks, item)
	}

	for _, t := range templates {
		doc.BlockTemplates = append(doc.BlockTemplates, TemplateItem{
			ID:          ptr(t.ID),
			Name:        ptr(t.Name),
			Type:        ptr(t.Type),
			PayloadJSON: ptr(t.PayloadJSON),
			CreatedAt:   ptr(t.CreatedAt.UnixMilli()),
		})
	}

	if admin {
		doc.AdminMode = &AdminMode{Enabled: true}
	}

	s.logger.Info().
		Int("restrictions", len(doc.Restrictions)).
		Int("schedules", len(doc.Schedules)).
		Int("date_blocks", len(doc.DateBlocks)).
		Int("templates", len(doc.BlockTemplates)).
		Msg("Exported configuration")

	return doc, nil
}

// Import applies doc to the store without overwriting anything: existing
// packages and ids are skipped. Schedules, date blocks and templates are
// read from version 2 on. Every item is validated before the first write,
// so a document with a malformed value changes nothing.
func (s *Service) Import(ctx context.Context, doc *Document) (*Report, error) {
	if doc.Version < 1 || doc.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	if doc.Restrictions == nil {
		return nil, ErrNoRestrictions
	}

	p, err := s.prepare(doc, s.clock.Now())
	if err != nil {
		return nil, err
	}

	report := &Report{}
	for _, r := range p.restrictions {
		_, err := s.store.Restrictions().GetByPackage(ctx, r.PackageName)
		found, err := exists(err)
		if err != nil {
			return report, fmt.Errorf("failed to look up restriction %s: %w", r.PackageName, err)
		}
		if found {
			report.Skipped++
			continue
		}
		if err := s.store.Restrictions().Upsert(ctx, r); err != nil {
			return report, fmt.Errorf("failed to import restriction %s: %w", r.PackageName, err)
		}
		report.Imported++
	}

	for _, item := range p.schedules {
		_, err := s.store.Schedules().Get(ctx, item.id)
		found, err := exists(err)
		if err != nil {
			return report, fmt.Errorf("failed to look up schedule %s: %w", item.id, err)
		}
		switch {
		case found:
			report.SchedulesSkipped++
		case item.complete:
			if err := s.store.Schedules().Upsert(ctx, item.value); err != nil {
				return report, fmt.Errorf("failed to import schedule %s: %w", item.id, err)
			}
			report.SchedulesImported++
		}
	}

	for _, item := range p.dateBlocks {
		_, err := s.store.DateBlocks().Get(ctx, item.id)
		found, err := exists(err)
		if err != nil {
			return report, fmt.Errorf("failed to look up date block %s: %w", item.id, err)
		}
		switch {
		case found:
			report.DateBlocksSkipped++
		case item.complete:
			if err := s.store.DateBlocks().Upsert(ctx, item.value); err != nil {
				return report, fmt.Errorf("failed to import date block %s: %w", item.id, err)
			}
			report.DateBlocksImported++
		}
	}

	for _, item := range p.templates {
		_, err := s.store.Templates().Get(ctx, item.id)
		found, err := exists(err)
		if err != nil {
			return report, fmt.Errorf("failed to look up template %s: %w", item.id, err)
		}
		switch {
		case found:
			report.TemplatesSkipped++
		case item.complete:
			if err := s.store.Templates().Upsert(ctx, item.value); err != nil {
				return report, fmt.Errorf("failed to import template %s: %w", item.id, err)
			}
			report.TemplatesImported++
		}
	}

	s.logger.Info().
		Int("version", doc.Version).
		Int("imported", report.Imported).
		Int("skipped", report.Skipped).
		Int("schedules_imported", report.SchedulesImported).
		Int("schedules_skipped", report.SchedulesSkipped).
		Int("date_blocks_imported", report.DateBlocksImported).
		Int("date_blocks_skipped", report.DateBlocksSkipped).
		Int("templates_imported", report.TemplatesImported).
		Int("templates_skipped", report.TemplatesSkipped).
		Msg("Imported configuration")

	return report, nil
}

// pending is an item keyed by id. Incomplete items are still looked up so
// an existing id counts as skipped, but they are never written.
type pending[T any] struct {
	id       string
	value    T
	complete bool
}

type plan struct {
	restrictions []storage.Restriction
	schedules    []pending[storage.Schedule]
	dateBlocks   []pending[storage.DateBlock]
	templates    []pending[storage.BlockTemplate]
}

// prepare converts and validates every item of doc.
func (s *Service) prepare(doc *Document, now time.Time) (*plan, error) {
	p := &plan{}

	for i, item := range doc.Restrictions {
		if item.PackageName == nil {
			continue
		}
		r, err := restrictionFromItem(item, now)
		if err != nil {
			return nil, fmt.Errorf("%w: restriction %d (%s): %w", ErrInvalidItem, i, *item.PackageName, err)
		}
		p.restrictions = append(p.restrictions, r)
	}

	if doc.Version < 2 {
		return p, nil
	}

	for i, item := range doc.Schedules {
		id := or(item.ID, uuid.NewString())
		entry := pending[storage.Schedule]{id: id}
		if item.PackageName != nil && item.StartHour != nil && item.EndHour != nil {
			entry.complete = true
			entry.value = storage.Schedule{
				ID:          id,
				PackageName: *item.PackageName,
				StartHour:   *item.StartHour,
				StartMinute: or(item.StartMinute, 0),
				EndHour:     *item.EndHour,
				EndMinute:   or(item.EndMinute, 0),
				DaysOfWeek:  or(item.DaysOfWeek, 0),
				Enabled:     or(item.IsEnabled, true),
				CreatedAt:   or(millisTime(item.CreatedAt), now),
			}
			if err := entry.value.Validate(); err != nil {
				return nil, fmt.Errorf("%w: schedule %d (%s): %w", ErrInvalidItem, i, id, err)
			}
		}
		p.schedules = append(p.schedules, entry)
	}

	for i, item := range doc.DateBlocks {
		id := or(item.ID, uuid.NewString())
		entry := pending[storage.DateBlock]{id: id}
		if item.PackageName != nil && item.StartDate != nil && item.EndDate != nil {
			entry.complete = true
			entry.value = storage.DateBlock{
				ID:          id,
				PackageName: *item.PackageName,
				StartDate:   *item.StartDate,
				EndDate:     *item.EndDate,
				StartHour:   or(item.StartHour, 0),
				StartMinute: or(item.StartMinute, 0),
				EndHour:     or(item.EndHour, 23),
				EndMinute:   or(item.EndMinute, 59),
				Enabled:     or(item.IsEnabled, true),
				Label:       or(item.Label, ""),
				CreatedAt:   now,
			}
			if err := entry.value.Validate(); err != nil {
				return nil, fmt.Errorf("%w: date block %d (%s): %w", ErrInvalidItem, i, id, err)
			}
		}
		p.dateBlocks = append(p.dateBlocks, entry)
	}

	for _, item := range doc.BlockTemplates {
		id := or(item.ID, uuid.NewString())
		entry := pending[storage.BlockTemplate]{id: id}
		if item.Name != nil && item.Type != nil && item.PayloadJSON != nil {
			entry.complete = true
			entry.value = storage.BlockTemplate{
				ID:          id,
				Name:        *item.Name,
				Type:        *item.Type,
				PayloadJSON: *item.PayloadJSON,
				CreatedAt:   or(millisTime(item.CreatedAt), now),
			}
		}
		p.templates = append(p.templates, entry)
	}

	return p, nil
}

func restrictionFromItem(item RestrictionItem, now time.Time) (storage.Restriction, error) {
	pkg := *item.PackageName

	// An empty enum is treated like a missing one
	limitType, dailyMode := storage.LimitDaily, storage.DailySame
	if v := or(item.LimitType, ""); v != "" {
		parsed, err := storage.ParseLimitType(v)
		if err != nil {
			return storage.Restriction{}, err
		}
		limitType = parsed
	}
	if v := or(item.DailyMode, ""); v != "" {
		parsed, err := storage.ParseDailyMode(v)
		if err != nil {
			return storage.Restriction{}, err
		}
		dailyMode = parsed
	}

	r := storage.Restriction{
		ID:                 uuid.NewString(),
		PackageName:        pkg,
		AppName:            or(item.AppName, pkg),
		DailyQuotaMinutes:  or(item.DailyQuotaMinutes, defaultQuotaMinutes),
		Enabled:            or(item.IsEnabled, true),
		LimitType:          limitType,
		DailyMode:          dailyMode,
		DailyQuotas:        or(item.DailyQuotas, ""),
		WeeklyQuotaMinutes: or(item.WeeklyQuotaMinutes, 0),
		WeeklyResetDay:     or(item.WeeklyResetDay, defaultResetDay),
		WeeklyResetHour:    or(item.WeeklyResetHour, 0),
		WeeklyResetMinute:  or(item.WeeklyResetMinute, 0),
		CreatedAt:          now,
	}
	if item.ExpiresAt != nil {
		r.ExpiresAt = ptr(time.UnixMilli(*item.ExpiresAt))
	}
	return r, r.Validate()
}

// exists interprets the error of a Get, treating ErrNotFound as absent.
func exists(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func millisTime(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	return ptr(time.UnixMilli(*ms))
}
