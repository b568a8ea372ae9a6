package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eavault/backend/internal/models"
	"github.com/eavault/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// In-memory store for the activation repositories.
// GetByKeyForUpdate takes a per-license mutex that is released when the
// transaction commits or rolls back, the same way a Postgres row lock is.
// Tx-scoped writes record an undo step that Rollback replays.
// ---------------------------------------------------------------------------

type memTx struct {
	store   *memStore
	once    sync.Once
	undo    []func()
	release func()
}

func (t *memTx) done(commit bool) {
	t.once.Do(func() {
		if !commit {
			t.store.mu.Lock()
			for i := len(t.undo) - 1; i >= 0; i-- {
				t.undo[i]()
			}
			t.store.mu.Unlock()
		}
		if t.release != nil {
			t.release()
		}
	})
}

// onRollback registers f to run, under the store mutex, if tx rolls back.
func onRollback(tx pgx.Tx, f func()) {
	t := tx.(*memTx)
	t.undo = append(t.undo, f)
}

func (t *memTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *memTx) Commit(context.Context) error          { t.done(true); return nil }
func (t *memTx) Rollback(context.Context) error        { t.done(false); return nil }
func (t *memTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (t *memTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *memTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (t *memTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *memTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *memTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *memTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *memTx) Conn() *pgx.Conn { return nil }

type memStore struct {
	mu       sync.Mutex
	licenses map[string]*models.LicenseWithProduct
	rowLocks map[uuid.UUID]*sync.Mutex
	accounts []*models.BoundAccount
	logs     []*models.UsageLog
	sessions []*models.ActiveSession

	begins       int
	expiryWrites int
	failUsage    error
	failSession  error
}

func newMemStore() *memStore {
	return &memStore{
		licenses: make(map[string]*models.LicenseWithProduct),
		rowLocks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (m *memStore) Begin(context.Context) (pgx.Tx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begins++
	return &memTx{store: m}, nil
}

func (m *memStore) addLicense(key, status string, expiresAt *time.Time, maxAccounts *int) *models.LicenseWithProduct {
	m.mu.Lock()
	defer m.mu.Unlock()
	lp := &models.LicenseWithProduct{
		License: models.License{
			ID:         uuid.New(),
			LicenseKey: key,
			UserID:     uuid.New(),
			ProductID:  uuid.New(),
			Status:     status,
			ExpiresAt:  expiresAt,
		},
	}
	lp.Product = models.Product{ID: lp.License.ProductID, Name: "Gold Scalper EA", MaxAccounts: maxAccounts}
	m.licenses[key] = lp
	m.rowLocks[lp.License.ID] = &sync.Mutex{}
	return lp
}

func (m *memStore) addAccount(licenseID uuid.UUID, number string, active bool) *models.BoundAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := &models.BoundAccount{ID: uuid.New(), LicenseID: licenseID, AccountNumber: number, IsActive: active}
	m.accounts = append(m.accounts, a)
	return a
}

func (m *memStore) license(key string) models.License {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.licenses[key].License
}

func (m *memStore) accountsFor(licenseID uuid.UUID) []models.BoundAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.BoundAccount
	for _, a := range m.accounts {
		if a.LicenseID == licenseID {
			out = append(out, *a)
		}
	}
	return out
}

func (m *memStore) counts() (accounts, logs, sessions int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts), len(m.logs), len(m.sessions)
}

// --- repository views ---

type memLicenses struct{ s *memStore }

func (r memLicenses) GetByKeyForUpdate(_ context.Context, tx pgx.Tx, key string) (*models.LicenseWithProduct, error) {
	r.s.mu.Lock()
	lp, ok := r.s.licenses[key]
	if !ok {
		r.s.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	lock := r.s.rowLocks[lp.License.ID]
	r.s.mu.Unlock()

	lock.Lock()
	tx.(*memTx).release = lock.Unlock

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *lp
	return &cp, nil
}

func (r memLicenses) MarkExpiredTx(_ context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, lp := range r.s.licenses {
		if lp.License.ID == id && lp.License.Status == models.LicenseStatusActive {
			lp.License.Status = models.LicenseStatusExpired
			r.s.expiryWrites++
			onRollback(tx, func() {
				lp.License.Status = models.LicenseStatusActive
				r.s.expiryWrites--
			})
			return true, nil
		}
	}
	return false, nil
}

func (r memLicenses) TouchValidatedTx(_ context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, lp := range r.s.licenses {
		if lp.License.ID == id {
			lp, prev := lp, lp.License.LastValidatedAt
			t := at
			lp.License.LastValidatedAt = &t
			onRollback(tx, func() { lp.License.LastValidatedAt = prev })
		}
	}
	return nil
}

type memAccounts struct{ s *memStore }

func (r memAccounts) ListByLicenseTx(_ context.Context, _ pgx.Tx, licenseID uuid.UUID) ([]*models.BoundAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.BoundAccount
	for _, a := range r.s.accounts {
		if a.LicenseID == licenseID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r memAccounts) CreateTx(_ context.Context, tx pgx.Tx, a *models.BoundAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.accounts {
		if existing.LicenseID == a.LicenseID && existing.AccountNumber == a.AccountNumber {
			return fmt.Errorf("duplicate account %s", a.AccountNumber)
		}
	}
	cp := *a
	r.s.accounts = append(r.s.accounts, &cp)
	onRollback(tx, func() { r.s.accounts = removeAccount(r.s.accounts, cp.ID) })
	return nil
}

func removeAccount(list []*models.BoundAccount, id uuid.UUID) []*models.BoundAccount {
	out := list[:0]
	for _, a := range list {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

func (r memAccounts) RefreshTx(_ context.Context, tx pgx.Tx, id uuid.UUID, ip, terminalBuild string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.accounts {
		if a.ID == id {
			a, prev := a, *a
			onRollback(tx, func() { *a = prev })
			a.LastUsedAt = at
			a.IPAddress = ip
			a.TerminalBuild = terminalBuild
			a.IsActive = true
			return nil
		}
	}
	return repository.ErrNotFound
}

type memUsage struct{ s *memStore }

func (r memUsage) CreateTx(_ context.Context, tx pgx.Tx, e *models.UsageLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failUsage != nil {
		return r.s.failUsage
	}
	cp := *e
	r.s.logs = append(r.s.logs, &cp)
	n := len(r.s.logs) - 1
	onRollback(tx, func() { r.s.logs = r.s.logs[:n] })
	return nil
}

type memSessions struct{ s *memStore }

func (r memSessions) Upsert(_ context.Context, sess *models.ActiveSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failSession != nil {
		return r.s.failSession
	}
	for i, existing := range r.s.sessions {
		if existing.LicenseID == sess.LicenseID && existing.BoundAccountID == sess.BoundAccountID {
			cp := *sess
			cp.ID = existing.ID
			r.s.sessions[i] = &cp
			return nil
		}
	}
	cp := *sess
	r.s.sessions = append(r.s.sessions, &cp)
	return nil
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testKey = "AAAA1111-BBBB2222-CCCC3333-DDDD4444"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestActivation(store *memStore) *ActivationService {
	svc := NewActivationService(store, memLicenses{store}, memAccounts{store}, memUsage{store}, memSessions{store}, nil)
	svc.Now = func() time.Time { return testNow }
	return svc
}

func timeP(t time.Time) *time.Time { return &t }

func intP(n int) *int { return &n }

func activationKind(t *testing.T, err error) *ActivationError {
	t.Helper()
	var ae *ActivationError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *ActivationError, got %v", err)
	}
	return ae
}

// ---------------------------------------------------------------------------
// Scenario A: first activation on an empty license.
// ---------------------------------------------------------------------------

func TestValidateAndActivate_FirstAccount(t *testing.T) {
	store := newMemStore()
	lp := store.addLicense(testKey, models.LicenseStatusActive, timeP(testNow.Add(10*24*time.Hour)), intP(3))
	svc := newTestActivation(store)

	res, err := svc.ValidateAndActivate(context.Background(), ValidateRequest{
		LicenseKey:    testKey,
		AccountNumber: "12345",
		IPAddress:     "203.0.113.7",
		BrokerServer:  "ICMarkets-Live05",
		TerminalBuild: "4410",
	})
	if err != nil {
		t.Fatalf("ValidateAndActivate: %v", err)
	}

	if res.AccountsUsed != 1 || res.MaxAccounts != 3 {
		t.Errorf("seats: got %d/%d, want 1/3", res.AccountsUsed, res.MaxAccounts)
	}
	if res.DaysRemaining == nil || *res.DaysRemaining != 10 {
		t.Errorf("days_remaining: got %v, want 10", res.DaysRemaining)
	}
	if !res.NewAccount {
		t.Error("expected NewAccount for a first activation")
	}
	if res.ProductName != "Gold Scalper EA" {
		t.Errorf("product name: got %q", res.ProductName)
	}

	accounts, logs, sessions := store.counts()
	if accounts != 1 || logs != 1 || sessions != 1 {
		t.Fatalf("rows: accounts=%d logs=%d sessions=%d, want 1/1/1", accounts, logs, sessions)
	}

	bound := store.accountsFor(lp.License.ID)[0]
	if bound.AccountNumber != "12345" || !bound.IsActive || bound.BrokerServer != "ICMarkets-Live05" {
		t.Errorf("unexpected bound account: %+v", bound)
	}
	if !bound.FirstSeenAt.Equal(testNow) || !bound.LastUsedAt.Equal(testNow) {
		t.Error("first_seen_at and last_used_at should both be now")
	}

	entry := store.logs[0]
	if entry.EventType != models.UsageEventValidation {
		t.Errorf("event type: got %q", entry.EventType)
	}
	if entry.BoundAccountID == nil || *entry.BoundAccountID != bound.ID {
		t.Error("usage log should reference the new bound account")
	}
	var meta map[string]any
	if err := json.Unmarshal(entry.Metadata, &meta); err != nil {
		t.Fatalf("metadata is not JSON: %v", err)
	}
	if meta["account_number"] != "12345" || meta["timestamp"] == nil {
		t.Errorf("metadata missing payload fields: %v", meta)
	}

	sess := store.sessions[0]
	if !sess.IsOnline || sess.BoundAccountID != bound.ID || sess.IPAddress != "203.0.113.7" {
		t.Errorf("unexpected session: %+v", sess)
	}

	lic := store.license(testKey)
	if lic.LastValidatedAt == nil || !lic.LastValidatedAt.Equal(testNow) {
		t.Error("license last_validated_at should be set")
	}
}

// ---------------------------------------------------------------------------
// Scenario B: new account on a full license.
// ---------------------------------------------------------------------------

func TestValidateAndActivate_SeatLimitExceeded(t *testing.T) {
	store := newMemStore()
	lp := store.addLicense(testKey, models.LicenseStatusActive, timeP(testNow.Add(10*24*time.Hour)), intP(3))
	for _, n := range []string{"12345", "23456", "34567"} {
		store.addAccount(lp.License.ID, n, true)
	}
	svc := newTestActivation(store)

	_, err := svc.ValidateAndActivate(context.Background(), ValidateRequest{LicenseKey: testKey, AccountNumber: "45678"})
	ae := activationKind(t, err)
	if ae.Kind != KindSeatLimitExceeded {
		t.Fatalf("kind: got %s, want %s", ae.Kind, KindSeatLimitExceeded)
	}
	if ae.CurrentAccounts != 3 || ae.MaxAccounts != 3 {
		t.Errorf("seats: got %d/%d, want 3/3", ae.CurrentAccounts, ae.MaxAccounts)
	}

	accounts, logs, sessions := store.counts()
	if accounts != 3 || logs != 0 || sessions != 0 {
		t.Errorf("refusal must not write: accounts=%d logs=%d sessions=%d", accounts, logs, sessions)
	}
	if store.license(testKey).LastValidatedAt != nil {
		t.Error("refusal must not touch last_validated_at")
	}
}

func TestValidateAndActivate_InactiveSeatsDoNotCount(t *testing.T) {
	store := newMemStore()
	lp := store.addLicense(testKey, models.LicenseStatusActive, nil, intP(2))
	store.addAccount(lp.License.ID, "11111", true)
	store.addAccount(lp.License.ID, "22222", false)
	svc := newTestActivation(store)

	res, err := svc.ValidateAndActivate(context.Background(), ValidateRequest{LicenseKey: testKey, AccountNumber: "33333"})
	if err != nil {
		t.Fatalf("ValidateAndActivate: %v", err)
	}
	if res.AccountsUsed != 2 {
		t.Errorf("accounts_used: got %d, want 2", res.AccountsUsed)
	}
}

// ---------------------------------------------------------------------------
// Re-validation never counts against the limit.
// ---------------------------------------------------------------------------

func TestValidateAndActivate_RevalidationAtLimit(t *testing.T) {
	store := newMemStore()
	lp := store.addLicense(testKey, models.LicenseStatusActive, timeP(testNow.Add(48*time.Hour)), intP(3))
	for _, n := range []string{"12345", "23456", "34567"} {
		store.addAccount(lp.License.ID, n, true)
	}
	svc := newTestActivation(store)

	res, err := svc.ValidateAndActivate(context.Background(), ValidateRequest{LicenseKey: testKey, AccountNumber: "23456", IPAddress: "198.51.100.4", TerminalBuild: "4500"})
	if err != nil {
		t.Fatalf("re-validation at the limit should succeed: %v", err)
	}
	if res.NewAccount {
		t.Error("re-validation should not report a new account")
	}
	if res.AccountsUsed != 3 {
		t.Errorf("accounts_used: got %d, want 3", res.AccountsUsed)
	}
	for _, a := range store.accountsFor(lp.License.ID) {
		if a.AccountNumber == "23456" {
			if a.IPAddress != "198.51.100.4" || a.TerminalBuild != "4500" || !a.LastUsedAt.Equal(testNow) {
				t.Errorf("re-validation should refresh ip, build and last_used_at: %+v", a)
			}
		}
	}
	if accounts, _, _ := store.counts(); accounts != 3 {
		t.Errorf("no account should be inserted, got %d", accounts)
	}
}

// ---------------------------------------------------------------------------
// Scenario C: a seat deactivated by an admin comes back on re-validation.
// ---------------------------------------------------------------------------

func TestValidateAndActivate_ReactivatesDeactivatedAccount(t *testing.T) {
	store := newMemStore()
	lp := store.addLicense(testKey, models.LicenseStatusActive, timeP(testNow.Add(10*24*time.Hour)), intP(3))
	store.addAccount(lp.License.ID, "12345", false)
	store.addAccount(lp.License.ID, "23456", true)
	svc := newTestActivation(store)

	res, err := svc.ValidateAndActivate(context.Background(), ValidateRequest{LicenseKey: testKey, AccountNumber: "12345"})
	if err != nil {
		t.Fatalf("ValidateAndActivate: %v", err)
	}
	if res.AccountsUsed != 2 {
		t.Errorf("accounts_used: got %d, want 2", res.AccountsUsed)
	}
	for _, a := range store.accountsFor(lp.License.ID) {
		if a.AccountNumber == "12345" && !a.IsActive {
			t.Error("account 12345 should be active again")
		}
	}
}

// ---------------------------------------------------------------------------
// Scenario D: expiry is persisted exactly once.
// ---------------------------------------------------------------------------

func TestValidateAndActivate_ExpiresOverdueLicense(t *testing.T) {
	store := newMemStore()
	store.addLicense(testKey, models.LicenseStatusActive, timeP(testNow.Add(-24*time.Hour)), intP(3))
	svc := newTestActivation(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.ValidateAndActivate(ctx, ValidateRequest{LicenseKey: testKey, AccountNumber: "12345"})
		if ae := activationKind(t, err); ae.Kind != KindLicenseExpired {
			t.Fatalf("call %d: kind %s, want %s", i, ae.Kind, KindLicenseExpired)
		}
	}

	if got := store.license(testKey).Status; got != models.LicenseStatusExpired {
		t.Errorf("status: got %q, want expired", got)
	}
	if store.expiryWrites != 1 {
		t.Errorf("expiry transitions: got %d, want 1", store.expiryWrites)
	}
	if accounts, logs, sessions := store.counts(); accounts+logs+sessions != 0 {
		t.Error("expired license must not bind accounts or log usage")
	}
}

// ---------------------------------------------------------------------------
// Statuses other than active are refused without mutation.
// ---------------------------------------------------------------------------

func TestValidateAndActivate_NotActive(t *testing.T) {
	for _, status := range []string{models.LicenseStatusPaused, models.LicenseStatusSuspended, models.LicenseStatusRevoked} {
		t.Run(status, func(t *testing.T) {
			store := newMemStore()
			lp := store.addLicense(testKey, status, timeP(testNow.Add(-time.Hour)), intP(3))
			store.addAccount(lp.License.ID, "12345", true)
			svc := newTestActivation(store)

			_, err := svc.ValidateAndActivate(context.Background(), ValidateRequest{LicenseKey: testKey, AccountNumber: "12345"})
			ae := activationKind(t, err)
			if ae.Kind != KindLicenseNotActive || ae.Status != status {
				t.Fatalf("got kind=%s status=%q, want %s/%q", ae.Kind, ae.Status, KindLicenseNotActive, status)
			}
			if got := store.license(testKey).Status; got != status {
				t.Errorf("status changed to %q", got)
			}
			if _, logs, sessions := store.counts(); logs+sessions != 0 {
				t.Error("refusal must not log or heartbeat")
			}
		})
	}
}

func TestValidateAndActivate_InvalidKey(t *testing.T) {
	store := newMemStore()
	svc := newTestActivation(store)

	_, err := svc.ValidateAndActivate(context.Background(), ValidateRequest{LicenseKey: "ZZZZ0000-ZZZZ0000-ZZZZ0000-ZZZZ0000", AccountNumber: "1"})
	if ae := activationKind(t, err); ae.Kind != KindInvalidKey {
		t.Fatalf("kind: got %s, want %s", ae.Kind, KindInvalidKey)
	}
}

// ---------------------------------------------------------------------------
// Scenario E: missing input never reaches the store.
// ---------------------------------------------------------------------------

func TestValidateAndActivate_BadRequest(t *testing.T) {
	cases := []struct {
		name string
		req  ValidateRequest
	}{
		{"empty key", ValidateRequest{AccountNumber: "12345"}},
		{"blank key", ValidateRequest{LicenseKey: "   ", AccountNumber: "12345"}},
		{"empty account", ValidateRequest{LicenseKey: testKey}},
		{"blank account", ValidateRequest{LicenseKey: testKey, AccountNumber: "   "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			svc := newTestActivation(store)

			_, err := svc.ValidateAndActivate(context.Background(), tc.req)
			if ae := activationKind(t, err); ae.Kind != KindBadRequest {
				t.Fatalf("kind: got %s, want %s", ae.Kind, KindBadRequest)
			}
			if store.begins != 0 {
				t.Errorf("store was touched %d times", store.begins)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Heartbeat upsert keeps one row per pair.
// ---------------------------------------------------------------------------

func TestValidateAndActivate_SessionUpsertIsIdempotent(t *testing.T) {
	store := newMemStore()
	store.addLicense(testKey, models.LicenseStatusActive, nil, intP(3))
	svc := newTestActivation(store)
	ctx := context.Background()

	first := testNow
	second := testNow.Add(5 * time.Minute)

	svc.Now = func() time.Time { return first }
	if _, err := svc.ValidateAndActivate(ctx, ValidateRequest{LicenseKey: testKey, AccountNumber: "12345"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	svc.Now = func() time.Time { return second }
	res, err := svc.ValidateAndActivate(ctx, ValidateRequest{LicenseKey: testKey, AccountNumber: "12345"})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	accounts, logs, sessions := store.counts()
	if accounts != 1 || sessions != 1 {
		t.Fatalf("accounts=%d sessions=%d, want 1/1", accounts, sessions)
	}
	if logs != 2 {
		t.Errorf("every validation is audited: got %d logs, want 2", logs)
	}
	if !store.sessions[0].LastHeartbeat.Equal(second) {
		t.Errorf("heartbeat not advanced: %v", store.sessions[0].LastHeartbeat)
	}
	if res.DaysRemaining != nil {
		t.Error("never-expiring license should report nil days_remaining")
	}
}

func TestValidateAndActivate_HeartbeatFailureIsBestEffort(t *testing.T) {
	store := newMemStore()
	store.addLicense(testKey, models.LicenseStatusActive, nil, nil)
	store.failSession = errors.New("connection reset")
	svc := newTestActivation(store)

	res, err := svc.ValidateAndActivate(context.Background(), ValidateRequest{LicenseKey: testKey, AccountNumber: "12345"})
	if err != nil {
		t.Fatalf("heartbeat failure should not fail validation: %v", err)
	}
	if res.MaxAccounts != models.DefaultMaxAccounts {
		t.Errorf("max_accounts default: got %d, want %d", res.MaxAccounts, models.DefaultMaxAccounts)
	}
}

func TestValidateAndActivate_AuditFailureIsServerError(t *testing.T) {
	store := newMemStore()
	store.addLicense(testKey, models.LicenseStatusActive, nil, intP(3))
	store.failUsage = errors.New("disk full")
	svc := newTestActivation(store)

	_, err := svc.ValidateAndActivate(context.Background(), ValidateRequest{LicenseKey: testKey, AccountNumber: "12345"})
	ae := activationKind(t, err)
	if ae.Kind != KindServerError {
		t.Fatalf("kind: got %s, want %s", ae.Kind, KindServerError)
	}
	if !errors.Is(err, store.failUsage) {
		t.Error("server error should wrap the store failure")
	}
	if accounts, logs, sessions := store.counts(); accounts != 0 || logs != 0 || sessions != 0 {
		t.Errorf("seat insert must roll back with the audit entry: accounts=%d logs=%d sessions=%d", accounts, logs, sessions)
	}
	if lic := store.license(testKey); lic.LastValidatedAt != nil {
		t.Error("last_validated_at must roll back with the audit entry")
	}
}

func TestValidateAndActivate_AuditFailureKeepsExistingSeatUntouched(t *testing.T) {
	store := newMemStore()
	lp := store.addLicense(testKey, models.LicenseStatusActive, nil, intP(3))
	store.addAccount(lp.License.ID, "12345", false)
	store.failUsage = errors.New("disk full")
	svc := newTestActivation(store)

	_, err := svc.ValidateAndActivate(context.Background(), ValidateRequest{LicenseKey: testKey, AccountNumber: "12345", IPAddress: "203.0.113.7"})
	if ae := activationKind(t, err); ae.Kind != KindServerError {
		t.Fatalf("kind: got %s, want %s", ae.Kind, KindServerError)
	}
	got := store.accountsFor(lp.License.ID)
	if len(got) != 1 || got[0].IsActive || got[0].IPAddress != "" {
		t.Errorf("re-validation refresh must roll back, got %+v", got)
	}
}

// ---------------------------------------------------------------------------
// N concurrent first-time activations never exceed M seats.
// ---------------------------------------------------------------------------

func TestValidateAndActivate_ConcurrentActivationsRespectSeatLimit(t *testing.T) {
	const attempts = 25
	const seats = 3

	store := newMemStore()
	lp := store.addLicense(testKey, models.LicenseStatusActive, nil, intP(seats))
	svc := newTestActivation(store)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		granted    int
		refused    int
		unexpected []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			_, err := svc.ValidateAndActivate(context.Background(), ValidateRequest{
				LicenseKey:    testKey,
				AccountNumber: AccountNumber(fmt.Sprintf("%d", 50000+n)),
			})
			mu.Lock()
			defer mu.Unlock()
			var ae *ActivationError
			switch {
			case err == nil:
				granted++
			case errors.As(err, &ae) && ae.Kind == KindSeatLimitExceeded:
				refused++
			default:
				unexpected = append(unexpected, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected errors: %v", unexpected)
	}
	if granted != seats || refused != attempts-seats {
		t.Errorf("granted=%d refused=%d, want %d/%d", granted, refused, seats, attempts-seats)
	}
	if active := models.CountActive(toPtrs(store.accountsFor(lp.License.ID))); active != seats {
		t.Errorf("active seats: got %d, want %d", active, seats)
	}
}

func toPtrs(in []models.BoundAccount) []*models.BoundAccount {
	out := make([]*models.BoundAccount, len(in))
	for i := range in {
		out[i] = &in[i]
	}
	return out
}

// ---------------------------------------------------------------------------
// Small helpers
// ---------------------------------------------------------------------------

func TestDaysRemaining(t *testing.T) {
	cases := []struct {
		name string
		in   time.Duration
		want int
	}{
		{"exact days", 10 * 24 * time.Hour, 10},
		{"partial day rounds up", 9*24*time.Hour + time.Hour, 10},
		{"one hour left", time.Hour, 1},
		{"already past", -36 * time.Hour, -1},
	}
	for _, tc := range cases {
		got := DaysRemaining(timeP(testNow.Add(tc.in)), testNow)
		if got == nil || *got != tc.want {
			t.Errorf("%s: got %v, want %d", tc.name, got, tc.want)
		}
	}
	if DaysRemaining(nil, testNow) != nil {
		t.Error("nil expiry should give nil")
	}
}

func TestAccountNumber_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    AccountNumber
		wantErr bool
	}{
		{"integer", `12345`, "12345", false},
		{"integral decimal", `12345.0`, "12345", false},
		{"exponent", `1.2345e4`, "12345", false},
		{"large login", `5012345678`, "5012345678", false},
		{"string kept as sent", `"0098765"`, "0098765", false},
		{"string with spaces kept", `" 12345 "`, " 12345 ", false},
		{"null", `null`, "", false},
		{"fraction", `12345.5`, "", true},
		{"beyond exact range", `1e30`, "", true},
		{"bool", `true`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ValidateRequest
			err := json.Unmarshal([]byte(`{"license_key":"k","account_number":`+tt.raw+`}`), &req)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", req.AccountNumber)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.AccountNumber != tt.want {
				t.Errorf("got %q, want %q", req.AccountNumber, tt.want)
			}
		})
	}
}

func TestValidateAndActivate_NumericSpellingsShareOneSeat(t *testing.T) {
	store := newMemStore()
	lp := store.addLicense(testKey, models.LicenseStatusActive, nil, intP(3))
	svc := newTestActivation(store)

	for i, raw := range []string{`12345`, `12345.0`, `1.2345e4`} {
		var req ValidateRequest
		if err := json.Unmarshal([]byte(`{"license_key":"`+testKey+`","account_number":`+raw+`}`), &req); err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		res, err := svc.ValidateAndActivate(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if res.NewAccount != (i == 0) {
			t.Errorf("%s: new account = %v", raw, res.NewAccount)
		}
	}
	if got := store.accountsFor(lp.License.ID); len(got) != 1 {
		t.Errorf("one MT5 login should hold one seat, got %d", len(got))
	}
}

func TestKeyPrefix(t *testing.T) {
	if got := KeyPrefix(testKey); got != "AAAA1111" {
		t.Errorf("got %q", got)
	}
	if got := KeyPrefix("short"); got != "short" {
		t.Errorf("got %q", got)
	}
}
