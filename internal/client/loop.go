package client

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/provely/provely/internal/domain"
	"github.com/provely/provely/internal/pkg/logger"
	"github.com/provely/provely/internal/service"
)

// State of the delivery loop. Transitions:
// Idle → Fetching → (Empty | Cycling) → Showing ⇄ Hidden → Stopped.
type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateEmpty    State = "empty"
	StateCycling  State = "cycling"
	StateShowing  State = "showing"
	StateHidden   State = "hidden"
	StateStopped  State = "stopped"
)

// Renderer abstracts the display surface. The web embed backs it with the
// DOM; native SDKs and tests provide their own.
type Renderer interface {
	Show(n service.NotificationView, s service.DisplaySettings) (Handle, error)
}

// Handle is one visible notification. Hide fades it out and removes it;
// implementations must tolerate being called after the surface is gone
// (a navigated-away page), returning an error instead of panicking.
type Handle interface {
	Hide() error
}

// EventReporter is the analytics side of the loop. Implementations must
// not block; the cycle never waits for a report to land.
type EventReporter interface {
	Impression(notificationID uuid.UUID)
	Click(notificationID uuid.UUID)
}

// Controller owns the cycling state for one embedded widget instance.
// Nothing is package-global, so several widgets can coexist on one page
// without interfering.
type Controller struct {
	renderer Renderer
	reporter EventReporter
	sched    Scheduler
	intn     func(n int) int // shuffle source; injectable for tests

	mu        sync.Mutex
	state     State
	settings  service.DisplaySettings
	items     []service.NotificationView
	index     int
	shown     int
	isShowing bool
	current   Handle
	timer     Timer
	stopped   bool
}

type ControllerOption func(*Controller)

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) ControllerOption {
	return func(c *Controller) { c.sched = s }
}

// WithShuffleSource replaces the shuffle RNG.
func WithShuffleSource(intn func(n int) int) ControllerOption {
	return func(c *Controller) { c.intn = intn }
}

func NewController(renderer Renderer, reporter EventReporter, opts ...ControllerOption) *Controller {
	c := &Controller{
		renderer: renderer,
		reporter: reporter,
		sched:    NewScheduler(),
		intn:     rand.Intn,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run fetches the selection payload and starts the cycle. On total fetch
// failure the controller returns to Idle for good: no popup, no error
// surfaced to the visitor.
func (c *Controller) Run(ctx context.Context, f *Fetcher, rc domain.RequestContext) error {
	c.mu.Lock()
	c.state = StateFetching
	c.mu.Unlock()

	payload, err := f.Fetch(ctx, rc)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		logger.WithCtx(ctx).Debug().Err(err).Msg("delivery loop staying idle")
		return err
	}

	c.Begin(payload)
	return nil
}

// Begin starts cycling an already-fetched payload.
func (c *Controller) Begin(payload service.SelectionPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if len(payload.Notifications) == 0 {
		c.state = StateEmpty
		return
	}

	c.settings = payload.Widget
	c.items = append([]service.NotificationView(nil), payload.Notifications...)
	if c.settings.Shuffle {
		c.shuffle()
	}
	c.index = 0
	c.shown = 0
	c.state = StateCycling
	c.timer = c.sched.AfterFunc(seconds(c.settings.StartDelay), c.showNext)
}

// Click reports a click on the given notification. Non-blocking; link
// navigation is never delayed by tracking.
func (c *Controller) Click(notificationID uuid.UUID) {
	c.reporter.Click(notificationID)
}

// Stop halts the cycle and removes any visible notification.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.current != nil {
		_ = c.current.Hide()
		c.current = nil
	}
	c.isShowing = false
	c.state = StateStopped
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// showNext displays the notification at the current index. The isShowing
// guard keeps the invariant of at most one visible notification per widget
// instance even if timers race.
func (c *Controller) showNext() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.isShowing {
		return
	}
	if !c.settings.Loop && c.shown >= len(c.items) {
		c.state = StateStopped
		return
	}

	item := c.items[c.index%len(c.items)]
	c.index++
	c.shown++

	handle, err := c.renderer.Show(item, c.settings)
	if err != nil {
		// Surface failure (stale DOM, torn-down view): skip this item and
		// try the next one after the usual gap.
		logger.Logger.Debug().Err(err).Str("notification_id", item.ID.String()).Msg("render failed")
		c.state = StateCycling
		c.timer = c.sched.AfterFunc(seconds(c.settings.Gap), c.showNext)
		return
	}

	c.isShowing = true
	c.current = handle
	c.state = StateShowing
	c.reporter.Impression(item.ID)
	c.timer = c.sched.AfterFunc(seconds(c.settings.Duration), c.hideCurrent)
}

func (c *Controller) hideCurrent() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		_ = c.current.Hide()
		c.current = nil
	}
	c.isShowing = false
	if c.stopped {
		return
	}
	c.state = StateHidden
	c.timer = c.sched.AfterFunc(seconds(c.settings.Gap), c.showNext)
}

// shuffle permutes items in place (Fisher-Yates). Caller holds the lock.
func (c *Controller) shuffle() {
	for i := len(c.items) - 1; i > 0; i-- {
		j := c.intn(i + 1)
		c.items[i], c.items[j] = c.items[j], c.items[i]
	}
}

func seconds(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Second
}
