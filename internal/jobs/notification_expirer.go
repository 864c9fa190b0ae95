// notification_expirer.go implements the NotificationExpirer background job,
// which periodically sweeps notifications past their expires_at into the
// expired status so stale items drop out of users' lists. The sweep is a
// single UPDATE, so it is safe to run from every instance concurrently.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/partnerhub/partnerhub/internal/config"
)

// NotificationExpirerStore is the persistence surface the expirer needs.
type NotificationExpirerStore interface {
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// NotificationExpirer periodically expires due notifications.
type NotificationExpirer struct {
	store    NotificationExpirerStore
	interval time.Duration
	logger   *slog.Logger
	stopChan chan struct{}
}

// NewNotificationExpirer creates a new NotificationExpirer. interval defaults
// to one hour when unset.
func NewNotificationExpirer(store NotificationExpirerStore, cfg *config.NotificationsConfig, logger *slog.Logger) *NotificationExpirer {
	interval := cfg.ExpiryCheckInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &NotificationExpirer{
		store:    store,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background sweep loop. It runs once immediately, then
// repeats on the configured interval. The loop exits when ctx is cancelled or
// Stop() is called.
func (e *NotificationExpirer) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("notification expirer started", "check_interval", e.interval)

	e.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			e.sweep(ctx)
		case <-e.stopChan:
			e.logger.Info("notification expirer stopped")
			return
		case <-ctx.Done():
			e.logger.Info("notification expirer context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (e *NotificationExpirer) Stop() {
	close(e.stopChan)
}

func (e *NotificationExpirer) sweep(ctx context.Context) {
	n, err := e.store.ExpireDue(ctx, time.Now())
	if err != nil {
		e.logger.Error("notification expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		e.logger.Info("expired notifications", "count", n)
	}
}
