package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/provely/provely/internal/domain"
	"github.com/provely/provely/internal/metrics"
	appCtx "github.com/provely/provely/internal/pkg/context"
	"github.com/provely/provely/internal/service"
	"github.com/provely/provely/internal/transport/rest/response"
)

var utmKeys = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

type Handler struct {
	svc    *service.SelectionService
	maxAge time.Duration
}

func NewHandler(svc *service.SelectionService, maxAge time.Duration) *Handler {
	return &Handler{svc: svc, maxAge: maxAge}
}

// Selection handles GET /widget/{widgetID}: the per-page-view request from
// the embed script.
func (h *Handler) Selection(w http.ResponseWriter, r *http.Request) {
	widgetID, err := uuid.Parse(chi.URLParam(r, "widgetID"))
	if err != nil {
		metrics.SelectionRequest("invalid_id")
		fail(w, r, http.StatusBadRequest, "widget.invalid_id", "Invalid widget ID format", map[string]string{
			"widget_id": "must be a valid uuid",
		})
		return
	}

	rc := requestContext(r)
	limit := 0
	if s := strings.TrimSpace(r.URL.Query().Get("limit")); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			limit = n
		}
	}

	payload, err := h.svc.Select(r.Context(), widgetID, rc, limit)
	if err != nil {
		if errors.Is(err, domain.ErrWidgetNotFound) {
			metrics.SelectionRequest("not_found")
		} else {
			metrics.SelectionRequest("error")
		}
		handleErr(w, r, err)
		return
	}
	payload.Meta.RequestID = appCtx.GetRequestID(r.Context())

	metrics.SelectionRequest("ok")
	if h.maxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.maxAge.Seconds())))
	}
	response.Data(w, http.StatusOK, payload)
}

// Analytics handles POST /analytics from the delivery loop.
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WidgetID       string     `json:"widget_id"`
		EventType      string     `json:"event_type"`
		NotificationID string     `json:"notification_id,omitempty"`
		Timestamp      *time.Time `json:"timestamp,omitempty"`
		URL            string     `json:"url,omitempty"`
		UserAgent      string     `json:"user_agent,omitempty"`
	}
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}

	widgetID, err := uuid.Parse(req.WidgetID)
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid widget_id", map[string]string{
			"widget_id": "must be a valid uuid",
		})
		return
	}

	var notificationID *uuid.UUID
	if strings.TrimSpace(req.NotificationID) != "" {
		id, err := uuid.Parse(req.NotificationID)
		if err != nil {
			fail(w, r, http.StatusBadRequest, "request.invalid", "invalid notification_id", nil)
			return
		}
		notificationID = &id
	}

	e := domain.AnalyticsEvent{
		WidgetID:       widgetID,
		EventType:      domain.EventType(req.EventType),
		NotificationID: notificationID,
		URL:            req.URL,
		UserAgent:      req.UserAgent,
		IPAddress:      clientIP(r),
	}
	if req.Timestamp != nil {
		e.Timestamp = req.Timestamp.UTC()
	}
	if e.UserAgent == "" {
		e.UserAgent = r.UserAgent()
	}

	if err := h.svc.RecordEvent(r.Context(), e); err != nil {
		handleErr(w, r, err)
		return
	}

	response.Data(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.Data(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestContext builds the ephemeral visitor context from query
// parameters and headers. Every field is optional.
func requestContext(r *http.Request) domain.RequestContext {
	q := r.URL.Query()

	utm := make(map[string]string)
	for _, k := range utmKeys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			utm[k] = v
		}
	}

	referrer := strings.TrimSpace(r.Header.Get("Referer"))
	if referrer == "" {
		referrer = strings.TrimSpace(r.Header.Get("Origin"))
	}

	return domain.RequestContext{
		Path:     strings.TrimSpace(q.Get("ctx_path")),
		Device:   strings.ToLower(strings.TrimSpace(q.Get("ctx_device"))),
		UTM:      utm,
		Referrer: referrer,
	}
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrWidgetNotFound):
		fail(w, r, http.StatusNotFound, "widget.not_found", "widget not found", nil)

	case errors.Is(err, domain.ErrInvalidEvent):
		fail(w, r, http.StatusBadRequest, "event.invalid_type", invalidEventMessage(), nil)

	case errors.Is(err, domain.ErrRateLimited):
		fail(w, r, http.StatusTooManyRequests, "rate.limited", "too many events from this source", nil)

	default:
		// Do not leak internal details.
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func invalidEventMessage() string {
	types := domain.EventTypes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return "event_type must be one of: " + strings.Join(names, ", ")
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}
