package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/provely/provely/internal/domain"
	"github.com/provely/provely/internal/pkg/logger"
	"github.com/provely/provely/internal/service"
	"github.com/provely/provely/internal/transport/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.InitWithWriter(io.Discard)
}

// fakeRepo serves one widget with a fixed notification set and records
// inserted events.
type fakeRepo struct {
	widget   domain.Widget
	notes    []domain.Notification
	inserted []domain.AnalyticsEvent
}

func (f *fakeRepo) GetWidget(_ context.Context, id uuid.UUID) (domain.Widget, error) {
	if id != f.widget.ID {
		return domain.Widget{}, domain.ErrWidgetNotFound
	}
	return f.widget, nil
}

func (f *fakeRepo) ListActiveNotifications(_ context.Context, _ uuid.UUID, limit int) ([]domain.Notification, error) {
	if limit < len(f.notes) {
		return f.notes[:limit], nil
	}
	return f.notes, nil
}

func (f *fakeRepo) InsertAnalyticsEvent(_ context.Context, e domain.AnalyticsEvent) error {
	f.inserted = append(f.inserted, e)
	return nil
}

type stubCounter struct {
	allowed bool
	err     error
}

func (s *stubCounter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return s.allowed, s.err
}

func newTestServer(repo *fakeRepo, counter domain.RateCounter) *httptest.Server {
	svc := service.New(repo, counter, service.Options{
		DefaultLimit: 15,
		MaxLimit:     50,
		RLEnabled:    counter != nil,
		RLLimit:      60,
		RLWindow:     time.Minute,
	})
	h := rest.NewHandler(svc, 30*time.Second)
	return httptest.NewServer(rest.NewRouter(rest.RouterDeps{Handler: h}))
}

func decodeError(t *testing.T, body io.Reader) (code, message string) {
	t.Helper()
	var resp struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	assert.NotEmpty(t, resp.Error.RequestID)
	return resp.Error.Code, resp.Error.Message
}

func TestSelection_OK(t *testing.T) {
	wID := uuid.New()
	repo := &fakeRepo{
		widget: domain.Widget{ID: wID, Domain: "shop.example.com"},
		notes: []domain.Notification{
			{ID: uuid.New(), Type: domain.TypePurchase, Name: "Ana", Message: "bought Pro"},
			{ID: uuid.New(), Type: domain.TypeReview, Name: "Ben", Rating: 5},
		},
	}
	srv := newTestServer(repo, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/widget/" + wID.String() + "?ctx_path=/pricing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public, max-age=30", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var body struct {
		Data service.SelectionPayload `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Data.Notifications, 2)
	assert.Equal(t, service.DefaultDuration, body.Data.Widget.Duration)
	assert.True(t, body.Data.Widget.Loop)
	assert.NotEmpty(t, body.Data.Meta.RequestID)
}

func TestSelection_InvalidWidgetID(t *testing.T) {
	srv := newTestServer(&fakeRepo{widget: domain.Widget{ID: uuid.New()}}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/widget/not-a-uuid")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	code, message := decodeError(t, resp.Body)
	assert.Equal(t, "widget.invalid_id", code)
	assert.Equal(t, "Invalid widget ID format", message)
}

func TestSelection_UnknownWidget(t *testing.T) {
	srv := newTestServer(&fakeRepo{widget: domain.Widget{ID: uuid.New()}}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/widget/" + uuid.NewString())
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	code, _ := decodeError(t, resp.Body)
	assert.Equal(t, "widget.not_found", code)
}

func postAnalytics(t *testing.T, srv *httptest.Server, payload map[string]string) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/analytics", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestAnalytics_Stored(t *testing.T) {
	wID := uuid.New()
	repo := &fakeRepo{widget: domain.Widget{ID: wID}}
	srv := newTestServer(repo, &stubCounter{allowed: true})
	defer srv.Close()

	resp := postAnalytics(t, srv, map[string]string{
		"widget_id":  wID.String(),
		"event_type": "click",
		"url":        "https://shop.example.com/pricing",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, repo.inserted, 1)
	e := repo.inserted[0]
	assert.Equal(t, domain.EventClick, e.EventType)
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.NotEmpty(t, e.IPAddress)
}

func TestAnalytics_UnknownEventType(t *testing.T) {
	srv := newTestServer(&fakeRepo{widget: domain.Widget{ID: uuid.New()}}, nil)
	defer srv.Close()

	resp := postAnalytics(t, srv, map[string]string{
		"widget_id":  uuid.NewString(),
		"event_type": "hover",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	code, message := decodeError(t, resp.Body)
	assert.Equal(t, "event.invalid_type", code)
	// The message names the accepted enum so integrators can self-serve.
	assert.Contains(t, message, "impression")
	assert.Contains(t, message, "click")
	assert.Contains(t, message, "scratch_complete")
	assert.Contains(t, message, "code_copied")
}

func TestAnalytics_RateLimited(t *testing.T) {
	repo := &fakeRepo{widget: domain.Widget{ID: uuid.New()}}
	srv := newTestServer(repo, &stubCounter{allowed: false})
	defer srv.Close()

	resp := postAnalytics(t, srv, map[string]string{
		"widget_id":  uuid.NewString(),
		"event_type": "impression",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	code, _ := decodeError(t, resp.Body)
	assert.Equal(t, "rate.limited", code)
	assert.Empty(t, repo.inserted)
}

func TestAnalytics_CounterErrorFailsOpen(t *testing.T) {
	repo := &fakeRepo{widget: domain.Widget{ID: uuid.New()}}
	srv := newTestServer(repo, &stubCounter{allowed: false, err: fmt.Errorf("backend down")})
	defer srv.Close()

	resp := postAnalytics(t, srv, map[string]string{
		"widget_id":  uuid.NewString(),
		"event_type": "impression",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, repo.inserted, 1)
}

func TestAnalytics_InvalidBody(t *testing.T) {
	srv := newTestServer(&fakeRepo{widget: domain.Widget{ID: uuid.New()}}, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/analytics", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORS_Preflight(t *testing.T) {
	srv := newTestServer(&fakeRepo{widget: domain.Widget{ID: uuid.New()}}, nil)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/analytics", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestEmbedScript(t *testing.T) {
	srv := newTestServer(&fakeRepo{widget: domain.Widget{ID: uuid.New()}}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/embed.js")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/javascript; charset=utf-8", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "data-widget-id")
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeRepo{widget: domain.Widget{ID: uuid.New()}}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
