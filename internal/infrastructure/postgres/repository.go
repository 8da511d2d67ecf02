package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/provely/provely/internal/domain"
)

// Repository reads widget configuration written by the dashboard and
// appends analytics events. It never mutates widgets or notifications.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetWidget(ctx context.Context, id uuid.UUID) (domain.Widget, error) {
	const q = `
		SELECT id, account_id,
		       COALESCE(domain, ''), COALESCE(position, ''), COALESCE(color, ''),
		       radius, COALESCE(shadow, ''), COALESCE(animation, ''),
		       COALESCE(bg_color, ''), bg_opacity,
		       duration, gap, start_delay, loop, shuffle,
		       target_devices, target_url_rules
		FROM widgets
		WHERE id = $1`

	var w domain.Widget
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&w.ID, &w.AccountID,
		&w.Domain, &w.Position, &w.Color,
		&w.Radius, &w.Shadow, &w.Animation,
		&w.BGColor, &w.BGOpacity,
		&w.Duration, &w.Gap, &w.StartDelay, &w.Loop, &w.Shuffle,
		&w.TargetDevices, &w.TargetURLRules,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Widget{}, domain.ErrWidgetNotFound
		}
		return domain.Widget{}, fmt.Errorf("get widget: %w", err)
	}
	return w, nil
}

func (r *Repository) ListActiveNotifications(ctx context.Context, widgetID uuid.UUID, limit int) ([]domain.Notification, error) {
	const q = `
		SELECT id, widget_id, type,
		       COALESCE(name, ''), COALESCE(location, ''), COALESCE(message, ''),
		       COALESCE(product_name, ''), COALESCE(rating, 0),
		       COALESCE(visitor_count, 0), COALESCE(stock_count, 0),
		       COALESCE(milestone_text, ''),
		       ts,
		       COALESCE(click_url, ''), COALESCE(reward_code, ''), COALESCE(reward_text, ''),
		       COALESCE(target_url_patterns, ''), target_devices, target_utms, active_time_windows
		FROM notifications
		WHERE widget_id = $1 AND is_active
		ORDER BY ts DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, q, widgetID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(
			&n.ID, &n.WidgetID, &n.Type,
			&n.Name, &n.Location, &n.Message,
			&n.ProductName, &n.Rating,
			&n.VisitorCount, &n.StockCount,
			&n.MilestoneText,
			&n.Timestamp,
			&n.ClickURL, &n.RewardCode, &n.RewardText,
			&n.TargetURLPatterns, &n.TargetDevices, &n.TargetUTMs, &n.ActiveTimeWindows,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.IsActive = true
		out = append(out, n)
	}
	return out, rows.Err()
}

// InsertAnalyticsEvent appends one event. Events are write-once; nothing in
// this service reads them back.
func (r *Repository) InsertAnalyticsEvent(ctx context.Context, e domain.AnalyticsEvent) error {
	const q = `
		INSERT INTO analytics (id, widget_id, event_type, notification_id, ts, url, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, q,
		e.ID, e.WidgetID, string(e.EventType), e.NotificationID,
		e.Timestamp, e.URL, e.UserAgent, e.IPAddress,
	)
	if err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}
