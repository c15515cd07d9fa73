// Package enforcement reacts to foreground changes and quota breaches by
// showing the blocking overlay and redirecting to a safe screen.
//
// All state lives on a single loop goroutine. Foreground events, evaluation
// results and timer expiries are posted to that loop as events; evaluations
// run on worker goroutines bounded by a semaphore and carry the generation
// they were started for, so a superseded result is dropped.
package enforcement

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johnivansn/timelock/internal/metrics"
	"github.com/johnivansn/timelock/internal/notify"
	"github.com/johnivansn/timelock/internal/period"
	"github.com/johnivansn/timelock/internal/policy"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultDebounce       = 500 * time.Millisecond
	DefaultCooldown       = 2 * time.Second
	DefaultCountdown      = 5 * time.Second
	DefaultReinforceDelay = 80 * time.Millisecond
	DefaultMaxEvaluations = 4

	eventBuffer = 64
)

var ignoredPackages = map[string]bool{
	"com.android.systemui":     true,
	"android":                  true,
	"com.android.launcher":     true,
	"com.android.launcher3":    true,
	"com.transsion.hilauncher": true,
}

// State is the overlay lifecycle state.
type State int

const (
	StateHidden State = iota
	StateShowing
	StateVisible
	StateHiding
)

func (s State) String() string {
	switch s {
	case StateHidden:
		return "hidden"
	case StateShowing:
		return "showing"
	case StateVisible:
		return "visible"
	case StateHiding:
		return "hiding"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Evaluator decides whether a package is blocked. Satisfied by
// *policy.Evaluator.
type Evaluator interface {
	Evaluate(ctx context.Context, pkg string) policy.Result
	DateInfo(ctx context.Context, pkg string) policy.DateInfo
}

// Options configures the machine timings
type Options struct {
	SelfPackage    string
	OverlayEnabled bool
	Debounce       time.Duration
	Cooldown       time.Duration
	Countdown      time.Duration
	ReinforceDelay time.Duration
	MaxEvaluations int64
}

// Snapshot is a point-in-time copy of the machine state.
type Snapshot struct {
	State              State     `json:"state"`
	CurrentWindow      string    `json:"current_window,omitempty"`
	BlockedPackage     string    `json:"blocked_package,omitempty"`
	LastBlockedPackage string    `json:"last_blocked_package,omitempty"`
	ShownAt            time.Time `json:"shown_at,omitempty"`
	OverlayEnabled     bool      `json:"overlay_enabled"`
}

type eventKind int

const (
	eventForeground eventKind = iota
	eventForceBlock
	eventResult
	eventCountdown
	eventReinforce
)

type event struct {
	kind   eventKind
	pkg    string
	at     time.Time
	gen    uint64
	force  bool
	result policy.Result
	info   policy.DateInfo
}

// Machine is the enforcement state machine.
type Machine struct {
	evaluator Evaluator
	surface   Surface
	sink      notify.Sink
	clock     period.Clock
	opts      Options
	logger    zerolog.Logger

	overlayEnabled atomic.Bool
	events         chan event
	sem            *semaphore.Weighted
	workers        sync.WaitGroup

	ctx      context.Context
	cancel   context.CancelFunc
	running  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once

	snapMu sync.RWMutex
	snap   Snapshot

	// Owned by the loop goroutine
	state          State
	currentWindow  string
	currentBlocked string
	lastBlocked    string
	lastEventTime  time.Time
	lastBlockTime  time.Time
	shownAt        time.Time
	generation     uint64
	countdownGen   uint64
	countdown      *time.Timer
	reinforce      *time.Timer
}

// NewMachine creates a new enforcement machine. sink may be nil.
func NewMachine(evaluator Evaluator, surface Surface, sink notify.Sink, clock period.Clock, opts Options, logger zerolog.Logger) *Machine {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Countdown <= 0 {
		opts.Countdown = DefaultCountdown
	}
	if opts.ReinforceDelay <= 0 {
		opts.ReinforceDelay = DefaultReinforceDelay
	}
	if opts.MaxEvaluations <= 0 {
		opts.MaxEvaluations = DefaultMaxEvaluations
	}
	if clock == nil {
		clock = period.RealClock{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		evaluator: evaluator,
		surface:   surface,
		sink:      sink,
		clock:     clock,
		opts:      opts,
		logger:    logger.With().Str("component", "enforcement").Logger(),
		events:    make(chan event, eventBuffer),
		sem:       semaphore.NewWeighted(opts.MaxEvaluations),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.overlayEnabled.Store(opts.OverlayEnabled)
	m.publish()
	return m
}

// SetOverlayEnabled toggles the overlay; when off every block falls back to
// a redirect plus a notification.
func (m *Machine) SetOverlayEnabled(enabled bool) {
	if m.overlayEnabled.Swap(enabled) != enabled {
		m.logger.Info().Bool("overlay_enabled", enabled).Msg("Overlay setting changed")
	}
}

// HandleForeground reports that pkg came to the foreground at t. It never
// blocks; events are dropped when the queue is full.
func (m *Machine) HandleForeground(pkg string, t time.Time) {
	if t.IsZero() {
		t = m.clock.Now()
	}
	m.offer(event{kind: eventForeground, pkg: pkg, at: t})
}

// ForceBlockNow asks the machine to block pkg if it is (or may be) in the
// foreground. It never blocks.
func (m *Machine) ForceBlockNow(pkg string) {
	m.offer(event{kind: eventForceBlock, pkg: pkg})
}

func (m *Machine) offer(ev event) {
	select {
	case m.events <- ev:
	default:
		metrics.EventsTotal.WithLabelValues("dropped").Inc()
		m.logger.Warn().Str("package", ev.pkg).Msg("Event queue full, dropping event")
	}
}

// post delivers internally generated events; it gives up once the machine
// is stopped.
func (m *Machine) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}

// Snapshot returns the current machine state.
func (m *Machine) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	s := m.snap
	s.OverlayEnabled = m.overlayEnabled.Load()
	return s
}

func (m *Machine) publish() {
	m.snapMu.Lock()
	m.snap = Snapshot{
		State:              m.state,
		CurrentWindow:      m.currentWindow,
		BlockedPackage:     m.currentBlocked,
		LastBlockedPackage: m.lastBlocked,
		ShownAt:            m.shownAt,
	}
	m.snapMu.Unlock()
}

// Run processes events until ctx is done or Stop is called.
func (m *Machine) Run(ctx context.Context) error {
	m.running.Store(true)
	defer close(m.done)

	m.logger.Info().
		Bool("overlay_enabled", m.overlayEnabled.Load()).
		Msg("Enforcement machine started")

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case <-m.ctx.Done():
			m.shutdown()
			return nil
		case ev := <-m.events:
			m.dispatch(ev)
			m.publish()
		}
	}
}

// Stop cancels outstanding evaluations and timers and waits for the loop
// to exit. Nothing reaches the surface after Stop returns.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		if m.running.Load() {
			<-m.done
		}
	})
}

func (m *Machine) shutdown() {
	m.cancel()
	m.stopCountdown()
	if m.reinforce != nil {
		m.reinforce.Stop()
	}
	m.workers.Wait()
	m.logger.Info().Msg("Enforcement machine stopped")
}

func (m *Machine) dispatch(ev event) {
	switch ev.kind {
	case eventForeground:
		m.handleForeground(ev.pkg, ev.at)
	case eventForceBlock:
		m.handleForceBlock(ev.pkg)
	case eventResult:
		m.handleResult(ev)
	case eventCountdown:
		if ev.gen == m.countdownGen && m.state == StateVisible {
			m.logger.Debug().Dur("visible", m.clock.Now().Sub(m.shownAt)).Msg("Overlay countdown finished")
			m.hide()
		}
	case eventReinforce:
		if err := m.surface.RedirectToSafeScreen(m.ctx); err != nil {
			m.logger.Warn().Err(err).Msg("Reinforcing redirect failed")
		}
	}
}

func (m *Machine) handleForeground(pkg string, at time.Time) {
	if pkg == m.lastBlocked && at.Sub(m.lastEventTime) < m.opts.Debounce {
		metrics.EventsTotal.WithLabelValues("debounced").Inc()
		return
	}
	m.lastEventTime = at
	m.currentWindow = pkg
	m.generation++

	if m.ignored(pkg) {
		if m.currentBlocked != "" && m.state == StateHidden {
			m.currentBlocked = ""
		}
		metrics.EventsTotal.WithLabelValues("ignored").Inc()
		return
	}

	if pkg == m.currentBlocked && m.state == StateVisible {
		m.logger.Debug().Str("package", pkg).Msg("Blocked package reopened, redirecting")
		m.redirect()
		metrics.EventsTotal.WithLabelValues("redirected").Inc()
		return
	}
	if pkg == m.currentBlocked && m.state != StateHidden {
		metrics.EventsTotal.WithLabelValues("kept").Inc()
		return
	}

	m.evaluate(pkg, false)
	metrics.EventsTotal.WithLabelValues("evaluated").Inc()
}

func (m *Machine) handleForceBlock(pkg string) {
	cur := m.currentWindow
	if cur != pkg && cur != "" && !m.ignored(cur) {
		m.logger.Debug().
			Str("package", pkg).
			Str("current_window", cur).
			Msg("Package not in foreground, ignoring force block")
		metrics.EventsTotal.WithLabelValues("force_skipped").Inc()
		return
	}

	m.logger.Info().Str("package", pkg).Msg("Force blocking package")
	m.generation++
	m.evaluate(pkg, true)
	metrics.EventsTotal.WithLabelValues("forced").Inc()
}

func (m *Machine) evaluate(pkg string, force bool) {
	gen := m.generation
	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		if err := m.sem.Acquire(m.ctx, 1); err != nil {
			return
		}
		defer m.sem.Release(1)

		res := m.evaluator.Evaluate(m.ctx, pkg)
		var info policy.DateInfo
		if res.Date {
			info = m.evaluator.DateInfo(m.ctx, pkg)
		}
		m.post(event{kind: eventResult, pkg: pkg, gen: gen, force: force, result: res, info: info})
	}()
}

func (m *Machine) handleResult(ev event) {
	if ev.gen != m.generation {
		metrics.EventsTotal.WithLabelValues("stale").Inc()
		return
	}

	res := ev.result
	if !res.Blocked() && ev.force {
		// Force blocks only come from quota breaches
		res = policy.Result{Package: ev.pkg, AppName: res.AppName, Reason: policy.ReasonQuota, Quota: true}
	}

	if res.Blocked() {
		m.block(ev.pkg, res, ev.info)
		return
	}

	if m.currentBlocked != "" && m.currentBlocked != ev.pkg {
		m.logger.Info().Str("package", ev.pkg).Msg("Allowed package opened, clearing overlay")
		m.hide()
		m.currentBlocked = ""
	}
}

func (m *Machine) block(pkg string, res policy.Result, info policy.DateInfo) {
	now := m.clock.Now()

	if !m.overlayEnabled.Load() || !m.surface.CanDraw() {
		m.logger.Warn().
			Str("package", pkg).
			Str("reason", string(res.Reason)).
			Bool("overlay_enabled", m.overlayEnabled.Load()).
			Msg("Overlay unavailable, falling back to redirect")
		m.currentBlocked = pkg
		m.lastBlocked = pkg
		m.lastBlockTime = now
		m.redirect()
		if m.sink != nil {
			m.sink.Raise(m.ctx, notify.Notification{
				Kind:    notify.KindBlockFallback,
				Package: pkg,
				AppName: res.DisplayName(),
				Payload: map[string]string{notify.KeyReason: string(res.Reason)},
			})
		}
		return
	}

	if m.state == StateVisible || m.state == StateShowing {
		if m.currentBlocked == pkg && now.Sub(m.lastBlockTime) < m.opts.Cooldown {
			metrics.EventsTotal.WithLabelValues("cooldown").Inc()
			return
		}
	}

	m.logger.Info().
		Str("package", pkg).
		Str("reason", string(res.Reason)).
		Str("previous", m.currentBlocked).
		Str("state", m.state.String()).
		Msg("Blocking package")

	if m.state != StateHidden && m.currentBlocked != pkg {
		m.hide()
	}

	m.currentBlocked = pkg
	m.lastBlocked = pkg
	m.lastBlockTime = now

	if m.state == StateHidden {
		m.show(pkg, res, info, now)
	}
	m.redirect()
}

func (m *Machine) show(pkg string, res policy.Result, info policy.DateInfo, now time.Time) {
	m.state = StateShowing

	msg := policy.Message(res, info)
	if err := m.surface.Show(m.ctx, pkg, msg); err != nil {
		m.logger.Error().Err(err).Str("package", pkg).Msg("Failed to show overlay")
		m.state = StateHidden
		return
	}

	m.state = StateVisible
	m.shownAt = now
	metrics.OverlayShownTotal.WithLabelValues(string(res.Reason)).Inc()

	m.countdownGen++
	gen := m.countdownGen
	m.countdown = time.AfterFunc(m.opts.Countdown, func() {
		m.post(event{kind: eventCountdown, gen: gen})
	})
}

// hide removes the overlay and forgets the blocked package.
func (m *Machine) hide() {
	if m.state == StateHidden || m.state == StateHiding {
		return
	}
	m.state = StateHiding
	m.stopCountdown()

	if err := m.surface.Hide(m.ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to hide overlay")
	}

	m.state = StateHidden
	m.shownAt = time.Time{}
	m.currentBlocked = ""
}

func (m *Machine) stopCountdown() {
	if m.countdown != nil {
		m.countdown.Stop()
		m.countdown = nil
	}
	m.countdownGen++
}

// redirect sends the user to the safe screen now and again after
// ReinforceDelay.
func (m *Machine) redirect() {
	if err := m.surface.RedirectToSafeScreen(m.ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Redirect failed")
	}
	metrics.RedirectsTotal.Inc()

	if m.reinforce != nil {
		m.reinforce.Stop()
	}
	m.reinforce = time.AfterFunc(m.opts.ReinforceDelay, func() {
		m.post(event{kind: eventReinforce})
	})
}

func (m *Machine) ignored(pkg string) bool {
	if pkg == m.opts.SelfPackage || ignoredPackages[pkg] {
		return true
	}
	lower := strings.ToLower(pkg)
	return strings.Contains(lower, "launcher") || strings.Contains(lower, "home")
}
