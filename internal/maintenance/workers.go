// Package maintenance holds the periodic River jobs that keep license and
// session state current between validations.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/eavault/backend/internal/metrics"
	"github.com/eavault/backend/internal/models"
)

// --- expire_licenses ---

type ExpireLicensesArgs struct{}

func (ExpireLicensesArgs) Kind() string { return "expire_licenses" }

// LicenseExpirer moves overdue active licenses to expired.
type LicenseExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

type ExpireLicensesWorker struct {
	river.WorkerDefaults[ExpireLicensesArgs]
	licenses LicenseExpirer
	log      *slog.Logger
	now      func() time.Time
}

func NewExpireLicensesWorker(licenses LicenseExpirer, log *slog.Logger) *ExpireLicensesWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ExpireLicensesWorker{licenses: licenses, log: log, now: time.Now}
}

func (w *ExpireLicensesWorker) Work(ctx context.Context, job *river.Job[ExpireLicensesArgs]) error {
	n, err := w.licenses.ExpireOverdue(ctx, w.now())
	if err != nil {
		return fmt.Errorf("expire overdue licenses: %w", err)
	}
	metrics.MaintenanceRows.WithLabelValues(ExpireLicensesArgs{}.Kind()).Add(float64(n))
	if n > 0 {
		w.log.Info("expired overdue licenses", "count", n)
	}
	return nil
}

// --- mark_stale_sessions ---

type MarkStaleSessionsArgs struct{}

func (MarkStaleSessionsArgs) Kind() string { return "mark_stale_sessions" }

// SessionSweeper flags sessions without a recent heartbeat as offline.
type SessionSweeper interface {
	MarkStale(ctx context.Context, before time.Time) (int64, error)
}

type MarkStaleSessionsWorker struct {
	river.WorkerDefaults[MarkStaleSessionsArgs]
	sessions   SessionSweeper
	staleAfter time.Duration
	log        *slog.Logger
	now        func() time.Time
}

func NewMarkStaleSessionsWorker(sessions SessionSweeper, staleAfter time.Duration, log *slog.Logger) *MarkStaleSessionsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &MarkStaleSessionsWorker{sessions: sessions, staleAfter: staleAfter, log: log, now: time.Now}
}

func (w *MarkStaleSessionsWorker) Work(ctx context.Context, job *river.Job[MarkStaleSessionsArgs]) error {
	n, err := w.sessions.MarkStale(ctx, w.now().Add(-w.staleAfter))
	if err != nil {
		return fmt.Errorf("mark stale sessions: %w", err)
	}
	metrics.MaintenanceRows.WithLabelValues(MarkStaleSessionsArgs{}.Kind()).Add(float64(n))
	if n > 0 {
		w.log.Info("sessions marked offline", "count", n)
	}
	return nil
}

// --- expiry_notices ---

type ExpiryNoticesArgs struct{}

func (ExpiryNoticesArgs) Kind() string { return "expiry_notices" }

// ExpiringLister finds active licenses expiring inside a window.
type ExpiringLister interface {
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]*models.License, error)
}

// NoticeWriter records a notice unless the same one exists.
type NoticeWriter interface {
	CreateIfAbsent(ctx context.Context, n *models.LicenseNotice) (bool, error)
}

// ExpiryNoticesWorker queues one expiring_soon notice per license and expiry
// date. Delivery reads license_notices separately.
type ExpiryNoticesWorker struct {
	river.WorkerDefaults[ExpiryNoticesArgs]
	licenses ExpiringLister
	notices  NoticeWriter
	days     int
	log      *slog.Logger
	now      func() time.Time
}

func NewExpiryNoticesWorker(licenses ExpiringLister, notices NoticeWriter, days int, log *slog.Logger) *ExpiryNoticesWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ExpiryNoticesWorker{licenses: licenses, notices: notices, days: days, log: log, now: time.Now}
}

func (w *ExpiryNoticesWorker) Work(ctx context.Context, job *river.Job[ExpiryNoticesArgs]) error {
	if w.days <= 0 {
		return nil
	}
	now := w.now()
	list, err := w.licenses.ListExpiringBetween(ctx, now, now.AddDate(0, 0, w.days))
	if err != nil {
		return fmt.Errorf("list expiring licenses: %w", err)
	}

	created := 0
	for _, lic := range list {
		if lic.ExpiresAt == nil {
			continue
		}
		ok, err := w.notices.CreateIfAbsent(ctx, &models.LicenseNotice{
			LicenseID: lic.ID,
			Kind:      models.NoticeExpiringSoon,
			ExpiresAt: *lic.ExpiresAt,
		})
		if err != nil {
			return fmt.Errorf("record notice for %s: %w", lic.ID, err)
		}
		if ok {
			created++
		}
	}
	metrics.MaintenanceRows.WithLabelValues(ExpiryNoticesArgs{}.Kind()).Add(float64(created))
	if created > 0 {
		w.log.Info("expiry notices queued", "count", created, "window_days", w.days)
	}
	return nil
}
