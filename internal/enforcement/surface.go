package enforcement

import (
	"context"
	"sync"
	"time"

	"github.com/johnivansn/timelock/internal/policy"
	"github.com/rs/zerolog"
)

// Surface is the device-side presentation of a block: a full-screen overlay
// and a redirect to a safe screen. Calls arrive from the machine loop only.
type Surface interface {
	Show(ctx context.Context, pkg string, msg policy.OverlayMessage) error
	Hide(ctx context.Context) error
	RedirectToSafeScreen(ctx context.Context) error
	CanDraw() bool
}

// Overlay is the last overlay shown on a LogSurface.
type Overlay struct {
	Package   string                `json:"package"`
	Message   policy.OverlayMessage `json:"message"`
	ShownAt   time.Time             `json:"shown_at"`
	Visible   bool                  `json:"visible"`
	Redirects int                   `json:"redirects"`
}

// LogSurface logs overlay operations and remembers the last overlay so it
// can be served over the API.
type LogSurface struct {
	logger zerolog.Logger

	mu        sync.Mutex
	last      *Overlay
	redirects int
}

// NewLogSurface creates a surface that only logs
func NewLogSurface(logger zerolog.Logger) *LogSurface {
	return &LogSurface{
		logger: logger.With().Str("component", "surface").Logger(),
	}
}

// Show implements Surface
func (s *LogSurface) Show(_ context.Context, pkg string, msg policy.OverlayMessage) error {
	s.mu.Lock()
	s.last = &Overlay{
		Package:   pkg,
		Message:   msg,
		ShownAt:   time.Now(),
		Visible:   true,
		Redirects: s.redirects,
	}
	s.mu.Unlock()

	s.logger.Warn().
		Str("package", pkg).
		Str("title", msg.Title).
		Str("reason", msg.Reason).
		Str("body", msg.Body).
		Str("footer", msg.Footer).
		Msg("Showing overlay")
	return nil
}

// Hide implements Surface
func (s *LogSurface) Hide(_ context.Context) error {
	s.mu.Lock()
	if s.last != nil {
		s.last.Visible = false
	}
	s.mu.Unlock()

	s.logger.Info().Msg("Hiding overlay")
	return nil
}

// RedirectToSafeScreen implements Surface
func (s *LogSurface) RedirectToSafeScreen(_ context.Context) error {
	s.mu.Lock()
	s.redirects++
	if s.last != nil {
		s.last.Redirects = s.redirects
	}
	s.mu.Unlock()

	s.logger.Debug().Msg("Redirecting to safe screen")
	return nil
}

// CanDraw implements Surface
func (s *LogSurface) CanDraw() bool {
	return true
}

// Last returns a copy of the last overlay shown.
func (s *LogSurface) Last() (Overlay, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Overlay{}, false
	}
	return *s.last, true
}
