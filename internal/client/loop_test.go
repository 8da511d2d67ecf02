package client

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/provely/provely/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScheduler captures scheduled callbacks so tests drive the cycle
// without wall-clock waits.
type fakeScheduler struct {
	mu      sync.Mutex
	pending []scheduled
}

type scheduled struct {
	d time.Duration
	f func()
}

type fakeTimer struct {
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := t.stopped
	t.stopped = true
	return !was
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, scheduled{d: d, f: f})
	return &fakeTimer{}
}

// fire runs the oldest pending callback.
func (s *fakeScheduler) fire(t *testing.T) time.Duration {
	t.Helper()
	s.mu.Lock()
	require.NotEmpty(t, s.pending, "no timer scheduled")
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()
	next.f()
	return next.d
}

func (s *fakeScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

type fakeRenderer struct {
	mu      sync.Mutex
	visible int
	showed  []uuid.UUID
	failFor map[uuid.UUID]bool
}

type fakeHandle struct {
	r *fakeRenderer
}

func (h *fakeHandle) Hide() error {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	h.r.visible--
	return nil
}

func (r *fakeRenderer) Show(n service.NotificationView, _ service.DisplaySettings) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor[n.ID] {
		return nil, assert.AnError
	}
	r.visible++
	r.showed = append(r.showed, n.ID)
	return &fakeHandle{r: r}, nil
}

func (r *fakeRenderer) visibleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible
}

type fakeReporter struct {
	mu          sync.Mutex
	impressions []uuid.UUID
	clicks      []uuid.UUID
}

func (r *fakeReporter) Impression(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impressions = append(r.impressions, id)
}

func (r *fakeReporter) Click(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clicks = append(r.clicks, id)
}

func payloadWith(settings service.DisplaySettings, ids ...uuid.UUID) service.SelectionPayload {
	notes := make([]service.NotificationView, len(ids))
	for i, id := range ids {
		notes[i] = service.NotificationView{ID: id}
	}
	return service.SelectionPayload{Widget: settings, Notifications: notes}
}

func defaultSettings() service.DisplaySettings {
	return service.DisplaySettings{
		Duration:   service.DefaultDuration,
		Gap:        service.DefaultGap,
		StartDelay: service.DefaultStartDelay,
		Loop:       true,
	}
}

func TestController_CycleTransitions(t *testing.T) {
	sched := &fakeScheduler{}
	renderer := &fakeRenderer{}
	reporter := &fakeReporter{}
	c := NewController(renderer, reporter, WithScheduler(sched))

	a, b := uuid.New(), uuid.New()
	c.Begin(payloadWith(defaultSettings(), a, b))
	assert.Equal(t, StateCycling, c.State())

	// Start delay elapses: first notification shows.
	d := sched.fire(t)
	assert.Equal(t, time.Duration(service.DefaultStartDelay)*time.Second, d)
	assert.Equal(t, StateShowing, c.State())
	assert.Equal(t, 1, renderer.visibleCount())
	assert.Equal(t, []uuid.UUID{a}, reporter.impressions)

	// Duration elapses: it hides, gap timer scheduled.
	d = sched.fire(t)
	assert.Equal(t, time.Duration(service.DefaultDuration)*time.Second, d)
	assert.Equal(t, StateHidden, c.State())
	assert.Equal(t, 0, renderer.visibleCount())

	// Gap elapses: second notification shows.
	sched.fire(t)
	assert.Equal(t, StateShowing, c.State())
	assert.Equal(t, []uuid.UUID{a, b}, renderer.showed)
}

func TestController_SingleFlight(t *testing.T) {
	sched := &fakeScheduler{}
	renderer := &fakeRenderer{}
	c := NewController(renderer, &fakeReporter{}, WithScheduler(sched))

	c.Begin(payloadWith(defaultSettings(), uuid.New(), uuid.New()))
	sched.fire(t)
	require.Equal(t, 1, renderer.visibleCount())

	// A stray second trigger while one is visible must not stack another.
	c.showNext()
	c.showNext()
	assert.Equal(t, 1, renderer.visibleCount())
	assert.Len(t, renderer.showed, 1)
}

func TestController_LoopWrapsAround(t *testing.T) {
	sched := &fakeScheduler{}
	renderer := &fakeRenderer{}
	c := NewController(renderer, &fakeReporter{}, WithScheduler(sched))

	a, b := uuid.New(), uuid.New()
	c.Begin(payloadWith(defaultSettings(), a, b))

	// Three full show/hide rounds: the third show wraps to the first item.
	for i := 0; i < 3; i++ {
		sched.fire(t) // show
		sched.fire(t) // hide
	}
	assert.Equal(t, []uuid.UUID{a, b, a}, renderer.showed)
	assert.Equal(t, StateHidden, c.State())
}

func TestController_NoLoopStopsAfterOnePass(t *testing.T) {
	sched := &fakeScheduler{}
	renderer := &fakeRenderer{}
	settings := defaultSettings()
	settings.Loop = false
	c := NewController(renderer, &fakeReporter{}, WithScheduler(sched))

	c.Begin(payloadWith(settings, uuid.New(), uuid.New()))

	sched.fire(t) // show 1
	sched.fire(t) // hide
	sched.fire(t) // show 2
	sched.fire(t) // hide
	sched.fire(t) // would be show 3, but the pass is done

	assert.Equal(t, StateStopped, c.State())
	assert.Len(t, renderer.showed, 2)
	assert.Zero(t, sched.pendingCount())
}

func TestController_EmptyPayload(t *testing.T) {
	sched := &fakeScheduler{}
	renderer := &fakeRenderer{}
	c := NewController(renderer, &fakeReporter{}, WithScheduler(sched))

	c.Begin(service.SelectionPayload{Widget: defaultSettings()})
	assert.Equal(t, StateEmpty, c.State())
	assert.Zero(t, sched.pendingCount())
	assert.Empty(t, renderer.showed)
}

func TestController_ShuffleUsesInjectedSource(t *testing.T) {
	sched := &fakeScheduler{}
	renderer := &fakeRenderer{}
	settings := defaultSettings()
	settings.Shuffle = true

	// intn always returning 0 reverses a two-element slice.
	c := NewController(renderer, &fakeReporter{}, WithScheduler(sched), WithShuffleSource(func(int) int { return 0 }))

	a, b := uuid.New(), uuid.New()
	c.Begin(payloadWith(settings, a, b))
	sched.fire(t)
	assert.Equal(t, []uuid.UUID{b}, renderer.showed)
}

func TestController_RenderFailureAdvances(t *testing.T) {
	sched := &fakeScheduler{}
	a, b := uuid.New(), uuid.New()
	renderer := &fakeRenderer{failFor: map[uuid.UUID]bool{a: true}}
	c := NewController(renderer, &fakeReporter{}, WithScheduler(sched))

	c.Begin(payloadWith(defaultSettings(), a, b))
	sched.fire(t) // show a fails, reschedules
	assert.Equal(t, StateCycling, c.State())
	assert.Equal(t, 0, renderer.visibleCount())

	sched.fire(t) // next attempt shows b
	assert.Equal(t, StateShowing, c.State())
	assert.Equal(t, []uuid.UUID{b}, renderer.showed)
}

func TestController_StopHidesAndHalts(t *testing.T) {
	sched := &fakeScheduler{}
	renderer := &fakeRenderer{}
	c := NewController(renderer, &fakeReporter{}, WithScheduler(sched))

	c.Begin(payloadWith(defaultSettings(), uuid.New()))
	sched.fire(t)
	require.Equal(t, 1, renderer.visibleCount())

	c.Stop()
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 0, renderer.visibleCount())

	// A timer that fires after Stop is a no-op.
	sched.fire(t)
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, 0, renderer.visibleCount())
}

func TestController_ClickReports(t *testing.T) {
	reporter := &fakeReporter{}
	c := NewController(&fakeRenderer{}, reporter, WithScheduler(&fakeScheduler{}))

	id := uuid.New()
	c.Click(id)
	assert.Equal(t, []uuid.UUID{id}, reporter.clicks)
}
