package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	TypePurchase     NotificationType = "purchase"
	TypeReview       NotificationType = "review"
	TypeLiveActivity NotificationType = "live_activity"
	TypeLowStock     NotificationType = "low_stock"
	TypeMilestone    NotificationType = "milestone"

	// Legacy types still present in stored rows.
	TypeActivity    NotificationType = "activity"
	TypeTestimonial NotificationType = "testimonial"
)

type EventType string

const (
	EventImpression      EventType = "impression"
	EventClick           EventType = "click"
	EventScratchComplete EventType = "scratch_complete"
	EventCodeCopied      EventType = "code_copied"
)

// EventTypes lists the accepted analytics event types, in a stable order
// suitable for error messages.
func EventTypes() []EventType {
	return []EventType{EventImpression, EventClick, EventScratchComplete, EventCodeCopied}
}

func ValidEventType(t EventType) bool {
	switch t {
	case EventImpression, EventClick, EventScratchComplete, EventCodeCopied:
		return true
	default:
		return false
	}
}

var (
	ErrWidgetNotFound  = errors.New("widget not found")
	ErrInvalidWidgetID = errors.New("invalid widget id format")
	ErrInvalidEvent    = errors.New("invalid analytics event")
	ErrRateLimited     = errors.New("rate limited")
)

// TimeWindow is one recurring weekly display window. Days uses time.Weekday
// numbering (0 = Sunday). Start/End are local "HH:MM" strings compared
// lexically, bounds inclusive.
type TimeWindow struct {
	Days     []int  `json:"days"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// Widget holds display and timing configuration for one installation.
// Optional styling/timing fields are pointers; nil means "use the default",
// which the selection response fills in so clients carry no default table.
type Widget struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Domain    string

	Position  string
	Color     string
	Radius    *int
	Shadow    string
	Animation string
	BGColor   string
	BGOpacity *int

	Duration   *int
	Gap        *int
	StartDelay *int
	Loop       *bool
	Shuffle    *bool

	TargetDevices  []string
	TargetURLRules []string
}

// Notification is one candidate popup. Absent targeting fields mean
// "unrestricted on that dimension": targeting only ever narrows.
type Notification struct {
	ID       uuid.UUID
	WidgetID uuid.UUID
	Type     NotificationType

	Name          string
	Location      string
	Message       string
	ProductName   string
	Rating        int
	VisitorCount  int
	StockCount    int
	MilestoneText string

	IsActive  bool
	Timestamp time.Time

	ClickURL   string
	RewardCode string
	RewardText string

	TargetURLPatterns string             // comma-separated glob list, "!" prefix excludes
	TargetDevices     []string           // device tags, case-insensitive
	TargetUTMs        map[string]*string // utm key -> expected value; nil value = any
	ActiveTimeWindows []TimeWindow
}

// RequestContext is the per-request visitor context. All fields are
// optional; an absent field never blocks a notification.
type RequestContext struct {
	Path     string
	Device   string
	UTM      map[string]string // utm_source, utm_medium, utm_campaign, utm_term, utm_content
	Referrer string
}

// AnalyticsEvent is append-only; the engine never reads events back.
type AnalyticsEvent struct {
	ID             uuid.UUID
	WidgetID       uuid.UUID
	EventType      EventType
	NotificationID *uuid.UUID
	Timestamp      time.Time
	URL            string
	UserAgent      string
	IPAddress      string
}

// WidgetRepository is the external record store. Widgets and notifications
// are written by the dashboard, never by this service.
type WidgetRepository interface {
	GetWidget(ctx context.Context, id uuid.UUID) (Widget, error)
	ListActiveNotifications(ctx context.Context, widgetID uuid.UUID, limit int) ([]Notification, error)
	InsertAnalyticsEvent(ctx context.Context, e AnalyticsEvent) error
}

// RateCounter counts hits per source key in a fixed window. Implementations
// should fail open: a counting backend outage must not take the analytics
// endpoint down with it.
type RateCounter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
