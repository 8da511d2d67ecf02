package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/provely/provely/internal/domain"
	"github.com/provely/provely/internal/pkg/logger"
	"github.com/provely/provely/internal/service"
)

const (
	fetchAttempts    = 3
	fetchBackoff     = 2 * time.Second
	fetchTimeout     = 5 * time.Second
	reportTimeout    = 3 * time.Second
	defaultUserAgent = "provely-client/1"
)

// Fetcher loads the selection payload with bounded retry and a fixed
// backoff between attempts. After the last attempt fails it gives up for
// good; the delivery loop then stays idle and shows nothing.
type Fetcher struct {
	baseURL  string
	widgetID uuid.UUID
	client   *http.Client
	backoff  time.Duration
	attempts int
}

func NewFetcher(baseURL string, widgetID uuid.UUID) *Fetcher {
	return &Fetcher{
		baseURL:  baseURL,
		widgetID: widgetID,
		client:   &http.Client{},
		backoff:  fetchBackoff,
		attempts: fetchAttempts,
	}
}

// Fetch requests the selection payload for the given visitor context.
func (f *Fetcher) Fetch(ctx context.Context, rc domain.RequestContext) (service.SelectionPayload, error) {
	u, err := f.selectionURL(rc)
	if err != nil {
		return service.SelectionPayload{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		payload, err := f.fetchOnce(ctx, u, rc.Referrer)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		logger.WithCtx(ctx).Debug().
			Err(err).
			Int("attempt", attempt).
			Msg("selection fetch failed")

		if attempt == f.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return service.SelectionPayload{}, ctx.Err()
		case <-time.After(f.backoff):
		}
	}
	return service.SelectionPayload{}, fmt.Errorf("selection fetch: giving up after %d attempts: %w", f.attempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, u, referrer string) (service.SelectionPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return service.SelectionPayload{}, err
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return service.SelectionPayload{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return service.SelectionPayload{}, fmt.Errorf("selection fetch: status %d", resp.StatusCode)
	}

	var body struct {
		Data service.SelectionPayload `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return service.SelectionPayload{}, fmt.Errorf("selection fetch: decode: %w", err)
	}
	return body.Data, nil
}

func (f *Fetcher) selectionURL(rc domain.RequestContext) (string, error) {
	u, err := url.Parse(f.baseURL + "/widget/" + f.widgetID.String())
	if err != nil {
		return "", err
	}
	q := u.Query()
	if rc.Path != "" {
		q.Set("ctx_path", rc.Path)
	}
	if rc.Device != "" {
		q.Set("ctx_device", rc.Device)
	}
	for k, v := range rc.UTM {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Reporter sends analytics events fire-and-forget: a single attempt, no
// retry (retrying would inflate duplicate events), failures logged to the
// debug channel only. The display cycle never waits on it.
type Reporter struct {
	baseURL  string
	widgetID uuid.UUID
	client   *http.Client
	pageURL  string
}

func NewReporter(baseURL string, widgetID uuid.UUID, pageURL string) *Reporter {
	return &Reporter{
		baseURL:  baseURL,
		widgetID: widgetID,
		client:   &http.Client{Timeout: reportTimeout},
		pageURL:  pageURL,
	}
}

func (r *Reporter) Impression(notificationID uuid.UUID) { r.send(domain.EventImpression, notificationID) }
func (r *Reporter) Click(notificationID uuid.UUID)      { r.send(domain.EventClick, notificationID) }

func (r *Reporter) send(eventType domain.EventType, notificationID uuid.UUID) {
	body, err := json.Marshal(map[string]string{
		"widget_id":       r.widgetID.String(),
		"event_type":      string(eventType),
		"notification_id": notificationID.String(),
		"url":             r.pageURL,
		"user_agent":      defaultUserAgent,
	})
	if err != nil {
		return
	}

	go func() {
		resp, err := r.client.Post(r.baseURL+"/analytics", "application/json", bytes.NewReader(body))
		if err != nil {
			logger.Logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("analytics send failed")
			return
		}
		_ = resp.Body.Close()
	}()
}
