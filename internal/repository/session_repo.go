package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eavault/backend/internal/models"
)

// SessionRepo stores the per-seat heartbeat rows (active_sessions).
type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `id, license_id, bound_account_id, last_heartbeat, is_online, ip_address, terminal_info`

func collectSessions(rows pgx.Rows) ([]*models.ActiveSession, error) {
	defer rows.Close()
	list := []*models.ActiveSession{}
	for rows.Next() {
		var s models.ActiveSession
		if err := rows.Scan(&s.ID, &s.LicenseID, &s.BoundAccountID, &s.LastHeartbeat, &s.IsOnline, &s.IPAddress, &s.TerminalInfo); err != nil {
			return nil, err
		}
		list = append(list, &s)
	}
	return list, rows.Err()
}

// Upsert writes the heartbeat for (license_id, bound_account_id), overwriting
// the existing row for that pair instead of adding a second one.
func (r *SessionRepo) Upsert(ctx context.Context, s *models.ActiveSession) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO active_sessions (id, license_id, bound_account_id, last_heartbeat, is_online, ip_address, terminal_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (license_id, bound_account_id) DO UPDATE SET
			last_heartbeat = EXCLUDED.last_heartbeat,
			is_online      = EXCLUDED.is_online,
			ip_address     = EXCLUDED.ip_address,
			terminal_info  = EXCLUDED.terminal_info
		RETURNING id
	`, s.ID, s.LicenseID, s.BoundAccountID, s.LastHeartbeat, s.IsOnline, s.IPAddress, s.TerminalInfo).Scan(&s.ID)
}

func (r *SessionRepo) ListByLicense(ctx context.Context, licenseID uuid.UUID) ([]*models.ActiveSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM active_sessions WHERE license_id = $1 ORDER BY last_heartbeat DESC
	`, licenseID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ListOnline returns sessions flagged online with a heartbeat at or after since.
func (r *SessionRepo) ListOnline(ctx context.Context, since time.Time) ([]*models.ActiveSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM active_sessions
		WHERE is_online = TRUE AND last_heartbeat >= $1
		ORDER BY last_heartbeat DESC
	`, since)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (r *SessionRepo) MarkOfflineByAccount(ctx context.Context, boundAccountID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE active_sessions SET is_online = FALSE WHERE bound_account_id = $1`, boundAccountID)
	return err
}

// MarkStale flags sessions offline when their last heartbeat is older than before.
func (r *SessionRepo) MarkStale(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE active_sessions SET is_online = FALSE
		WHERE is_online = TRUE AND last_heartbeat < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
