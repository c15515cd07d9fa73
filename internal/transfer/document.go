// Package transfer exports and imports rules as a versioned JSON document.
package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/renameio/v2"
)

// CurrentVersion is the document version written by Export.
const CurrentVersion = 4

var (
	// ErrUnsupportedVersion is returned for documents outside versions 1-4.
	ErrUnsupportedVersion = errors.New("unsupported document version")

	// ErrNoRestrictions is returned when the restrictions list is missing.
	ErrNoRestrictions = errors.New("document has no restrictions")

	// ErrInvalidItem is returned when an item carries a malformed value.
	ErrInvalidItem = errors.New("invalid item")
)

// Document is the exported configuration. Optional fields are pointers so
// that an import can tell a missing value from a zero one.
type Document struct {
	Version        int               `json:"version"`
	ExportedAt     int64             `json:"exportedAt"`
	Restrictions   []RestrictionItem `json:"restrictions"`
	Schedules      []ScheduleItem    `json:"schedules,omitempty"`
	DateBlocks     []DateBlockItem   `json:"dateBlocks,omitempty"`
	BlockTemplates []TemplateItem    `json:"blockTemplates,omitempty"`
	AdminMode      *AdminMode        `json:"adminMode,omitempty"`
}

// AdminMode is present only when admin mode was enabled at export time.
type AdminMode struct {
	Enabled bool `json:"enabled"`
}

// RestrictionItem is one exported restriction; it carries no id.
type RestrictionItem struct {
	PackageName        *string `json:"packageName"`
	AppName            *string `json:"appName,omitempty"`
	DailyQuotaMinutes  *int    `json:"dailyQuotaMinutes,omitempty"`
	IsEnabled          *bool   `json:"isEnabled,omitempty"`
	LimitType          *string `json:"limitType,omitempty"`
	DailyMode          *string `json:"dailyMode,omitempty"`
	DailyQuotas        *string `json:"dailyQuotas,omitempty"`
	WeeklyQuotaMinutes *int    `json:"weeklyQuotaMinutes,omitempty"`
	WeeklyResetDay     *int    `json:"weeklyResetDay,omitempty"`
	WeeklyResetHour    *int    `json:"weeklyResetHour,omitempty"`
	WeeklyResetMinute  *int    `json:"weeklyResetMinute,omitempty"`
	ExpiresAt          *int64  `json:"expiresAt,omitempty"`
}

// ScheduleItem is one exported schedule.
type ScheduleItem struct {
	ID          *string `json:"id,omitempty"`
	PackageName *string `json:"packageName"`
	StartHour   *int    `json:"startHour"`
	StartMinute *int    `json:"startMinute,omitempty"`
	EndHour     *int    `json:"endHour"`
	EndMinute   *int    `json:"endMinute,omitempty"`
	DaysOfWeek  *int    `json:"daysOfWeek,omitempty"`
	IsEnabled   *bool   `json:"isEnabled,omitempty"`
	CreatedAt   *int64  `json:"createdAt,omitempty"`
}

// DateBlockItem is one exported date block.
type DateBlockItem struct {
	ID          *string `json:"id,omitempty"`
	PackageName *string `json:"packageName"`
	StartDate   *string `json:"startDate"`
	EndDate     *string `json:"endDate"`
	StartHour   *int    `json:"startHour,omitempty"`
	StartMinute *int    `json:"startMinute,omitempty"`
	EndHour     *int    `json:"endHour,omitempty"`
	EndMinute   *int    `json:"endMinute,omitempty"`
	IsEnabled   *bool   `json:"isEnabled,omitempty"`
	Label       *string `json:"label,omitempty"`
}

// TemplateItem is one exported block template.
type TemplateItem struct {
	ID          *string `json:"id,omitempty"`
	Name        *string `json:"name"`
	Type        *string `json:"type"`
	PayloadJSON *string `json:"payloadJson"`
	CreatedAt   *int64  `json:"createdAt,omitempty"`
}

// Report counts what an import applied.
type Report struct {
	Imported           int `json:"imported"`
	Skipped            int `json:"skipped"`
	SchedulesImported  int `json:"schedulesImported"`
	SchedulesSkipped   int `json:"schedulesSkipped"`
	DateBlocksImported int `json:"dateBlocksImported"`
	DateBlocksSkipped  int `json:"dateBlocksSkipped"`
	TemplatesImported  int `json:"templatesImported"`
	TemplatesSkipped   int `json:"templatesSkipped"`
}

// Decode reads a document from r.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return &doc, nil
}

// Encode writes doc to w as indented JSON.
func Encode(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// ReadFile decodes the document stored at path.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// WriteFile atomically replaces path with doc.
func WriteFile(path string, doc *Document) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if err := Encode(pending, doc); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}

func or[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
