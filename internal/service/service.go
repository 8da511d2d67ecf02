package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/provely/provely/internal/domain"
	"github.com/provely/provely/internal/metrics"
	"github.com/provely/provely/internal/pkg/logger"
)

// Display defaults filled into every selection payload so the embed client
// never needs its own default table.
const (
	DefaultDuration   = 6
	DefaultGap        = 2
	DefaultStartDelay = 2
	DefaultRadius     = 14
	DefaultShadow     = "medium"
	DefaultAnimation  = "standard"
	DefaultBGColor    = "#FFFFFF"
	DefaultBGOpacity  = 100
)

// DisplaySettings is the widget half of the selection payload, with every
// optional styling/timing field resolved to a concrete value.
type DisplaySettings struct {
	Position   string `json:"position,omitempty"`
	Color      string `json:"color,omitempty"`
	Radius     int    `json:"radius"`
	Shadow     string `json:"shadow"`
	Animation  string `json:"animation"`
	BGColor    string `json:"bg_color"`
	BGOpacity  int    `json:"bg_opacity"`
	Duration   int    `json:"duration"`
	Gap        int    `json:"gap"`
	StartDelay int    `json:"start_delay"`
	Loop       bool   `json:"loop"`
	Shuffle    bool   `json:"shuffle"`
}

// NotificationView carries only what rendering needs. Raw device/UTM/time
// rules stay server-side; target_url_patterns is passed through because the
// client re-evaluates it for behavior triggers.
type NotificationView struct {
	ID            uuid.UUID               `json:"id"`
	Type          domain.NotificationType `json:"type"`
	Name          string                  `json:"name,omitempty"`
	Location      string                  `json:"location,omitempty"`
	Message       string                  `json:"message,omitempty"`
	ProductName   string                  `json:"product_name,omitempty"`
	Rating        int                     `json:"rating,omitempty"`
	VisitorCount  int                     `json:"visitor_count,omitempty"`
	StockCount    int                     `json:"stock_count,omitempty"`
	MilestoneText string                  `json:"milestone_text,omitempty"`
	Timestamp     time.Time               `json:"timestamp"`
	ClickURL      string                  `json:"click_url,omitempty"`
	RewardCode    string                  `json:"reward_code,omitempty"`
	RewardText    string                  `json:"reward_text,omitempty"`

	TargetURLPatterns string `json:"target_url_patterns,omitempty"`
}

// Diagnostics reports what the filters did, for observability and for the
// scenario tests the dashboard runs against staging.
type Diagnostics struct {
	DedupRemoved       int                      `json:"dedup_removed"`
	FilteredRemoved    int                      `json:"filtered_removed"`
	RemovedByDimension map[domain.Dimension]int `json:"removed_by_dimension,omitempty"`
	TargetingApplied   bool                     `json:"targeting_applied"`
	DomainAllowed      bool                     `json:"domain_allowed"`
	RequestID          string                   `json:"request_id,omitempty"`
}

type SelectionPayload struct {
	Widget        DisplaySettings    `json:"widget"`
	Notifications []NotificationView `json:"notifications"`
	Meta          Diagnostics        `json:"meta"`
}

type SelectionService struct {
	repo         domain.WidgetRepository
	counter      domain.RateCounter
	defaultLimit int
	maxLimit     int
	rlEnabled    bool
	rlLimit      int
	rlWindow     time.Duration
	now          func() time.Time
}

type Options struct {
	DefaultLimit int
	MaxLimit     int
	RLEnabled    bool
	RLLimit      int
	RLWindow     time.Duration
	Now          func() time.Time // test hook; defaults to time.Now
}

func New(repo domain.WidgetRepository, counter domain.RateCounter, opt Options) *SelectionService {
	if opt.DefaultLimit <= 0 {
		opt.DefaultLimit = 15
	}
	if opt.MaxLimit <= 0 {
		opt.MaxLimit = 50
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &SelectionService{
		repo:         repo,
		counter:      counter,
		defaultLimit: opt.DefaultLimit,
		maxLimit:     opt.MaxLimit,
		rlEnabled:    opt.RLEnabled,
		rlLimit:      opt.RLLimit,
		rlWindow:     opt.RLWindow,
		now:          opt.Now,
	}
}

// Select loads a widget and its active notifications, applies dedup and
// targeting, and assembles the response payload. Stateless per request.
func (s *SelectionService) Select(ctx context.Context, widgetID uuid.UUID, rc domain.RequestContext, limit int) (SelectionPayload, error) {
	w, err := s.repo.GetWidget(ctx, widgetID)
	if err != nil {
		return SelectionPayload{}, err
	}

	limit = s.clampLimit(limit)
	notes, err := s.repo.ListActiveNotifications(ctx, widgetID, limit)
	if err != nil {
		return SelectionPayload{}, err
	}

	deduped, dedupRemoved := domain.Dedupe(notes)
	fr := domain.ApplyTargeting(rc, s.now(), deduped)

	metrics.DedupRemoved(dedupRemoved)
	for dim, n := range fr.RemovedByDimension {
		metrics.TargetingRemoved(string(dim), n)
	}
	metrics.NotificationsServed(len(fr.Kept))

	if dedupRemoved > 0 || fr.Removed > 0 {
		logger.WithCtx(ctx).Debug().
			Str("widget_id", widgetID.String()).
			Int("dedup_removed", dedupRemoved).
			Int("targeting_removed", fr.Removed).
			Msg("selection filtered")
	}

	views := make([]NotificationView, 0, len(fr.Kept))
	for _, n := range fr.Kept {
		views = append(views, viewOf(n))
	}

	return SelectionPayload{
		Widget:        displaySettings(w),
		Notifications: views,
		Meta: Diagnostics{
			DedupRemoved:       dedupRemoved,
			FilteredRemoved:    fr.Removed,
			RemovedByDimension: fr.RemovedByDimension,
			TargetingApplied:   fr.Applied,
			DomainAllowed:      domainAllowed(w.Domain, rc.Referrer),
		},
	}, nil
}

// RecordEvent validates and persists one analytics event. Rate limiting is
// per source IP, fixed window, and fails open when the counter backend is
// unavailable.
func (s *SelectionService) RecordEvent(ctx context.Context, e domain.AnalyticsEvent) error {
	if !domain.ValidEventType(e.EventType) {
		metrics.AnalyticsEvent(string(e.EventType), "invalid")
		return domain.ErrInvalidEvent
	}
	if e.WidgetID == uuid.Nil {
		metrics.AnalyticsEvent(string(e.EventType), "invalid")
		return domain.ErrInvalidEvent
	}

	if s.rlEnabled && s.counter != nil && e.IPAddress != "" {
		allowed, err := s.counter.Allow(ctx, "analytics:"+e.IPAddress, s.rlLimit, s.rlWindow)
		if err == nil && !allowed {
			metrics.AnalyticsEvent(string(e.EventType), "rate_limited")
			return domain.ErrRateLimited
		}
	}

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}

	if err := s.repo.InsertAnalyticsEvent(ctx, e); err != nil {
		metrics.AnalyticsEvent(string(e.EventType), "error")
		return err
	}
	metrics.AnalyticsEvent(string(e.EventType), "stored")
	return nil
}

func (s *SelectionService) clampLimit(n int) int {
	if n <= 0 {
		return s.defaultLimit
	}
	if n > s.maxLimit {
		return s.maxLimit
	}
	return n
}

func displaySettings(w domain.Widget) DisplaySettings {
	d := DisplaySettings{
		Position:   w.Position,
		Color:      w.Color,
		Radius:     DefaultRadius,
		Shadow:     DefaultShadow,
		Animation:  DefaultAnimation,
		BGColor:    DefaultBGColor,
		BGOpacity:  DefaultBGOpacity,
		Duration:   DefaultDuration,
		Gap:        DefaultGap,
		StartDelay: DefaultStartDelay,
		Loop:       true,
		Shuffle:    false,
	}
	if w.Radius != nil {
		d.Radius = *w.Radius
	}
	if w.Shadow != "" {
		d.Shadow = w.Shadow
	}
	if w.Animation != "" {
		d.Animation = w.Animation
	}
	if w.BGColor != "" {
		d.BGColor = w.BGColor
	}
	if w.BGOpacity != nil {
		d.BGOpacity = *w.BGOpacity
	}
	if w.Duration != nil && *w.Duration > 0 {
		d.Duration = *w.Duration
	}
	if w.Gap != nil && *w.Gap > 0 {
		d.Gap = *w.Gap
	}
	if w.StartDelay != nil && *w.StartDelay > 0 {
		d.StartDelay = *w.StartDelay
	}
	if w.Loop != nil {
		d.Loop = *w.Loop
	}
	if w.Shuffle != nil {
		d.Shuffle = *w.Shuffle
	}
	return d
}

func viewOf(n domain.Notification) NotificationView {
	return NotificationView{
		ID:                n.ID,
		Type:              n.Type,
		Name:              n.Name,
		Location:          n.Location,
		Message:           n.Message,
		ProductName:       n.ProductName,
		Rating:            n.Rating,
		VisitorCount:      n.VisitorCount,
		StockCount:        n.StockCount,
		MilestoneText:     n.MilestoneText,
		Timestamp:         n.Timestamp,
		ClickURL:          n.ClickURL,
		RewardCode:        n.RewardCode,
		RewardText:        n.RewardText,
		TargetURLPatterns: n.TargetURLPatterns,
	}
}

// domainAllowed compares the widget's declared domain against the request
// referrer. Advisory only: any parse trouble or missing data counts as
// allowed, so the diagnostic can never block a caller.
func domainAllowed(widgetDomain, referrer string) bool {
	wd := normalizeHost(widgetDomain)
	if wd == "" || strings.TrimSpace(referrer) == "" {
		return true
	}
	ref := normalizeHost(referrer)
	if ref == "" {
		return true
	}
	return ref == wd || strings.HasSuffix(ref, "."+wd)
}

func normalizeHost(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" {
			return ""
		}
		s = u.Host
	}
	// Bare "example.com/path" or "example.com:443" forms.
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if h, _, ok := strings.Cut(s, ":"); ok {
		s = h
	}
	return strings.TrimPrefix(s, "www.")
}
