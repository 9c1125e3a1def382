package safety_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"failsafe/internal/db"
	"failsafe/internal/domain"
	"failsafe/internal/migrate"
	"failsafe/internal/repo"
	"failsafe/internal/safety"
)

func newBreakerTestVendor(t *testing.T) (repo.Repo, string, string, *sql.DB) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	tenantID := "tenant-1"
	if err := r.InsertTenant(context.Background(), domain.Tenant{ID: tenantID, Name: "t", Active: true, CreatedAt: "2024-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("insert tenant: %v", err)
	}
	vendorID := "vendor-1"
	if err := r.InsertVendor(context.Background(), domain.Vendor{
		ID: vendorID, TenantID: tenantID, Name: "stripe", BreakerState: domain.BreakerClosed, CreatedAt: "2024-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("insert vendor: %v", err)
	}
	return r, tenantID, vendorID, conn
}

func withTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Commit()
	fn(tx)
}

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	r, tenantID, vendorID, conn := newBreakerTestVendor(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := safety.NewBreaker(r, func() time.Time { return now }, safety.VendorDefaults{FailureThreshold: 3, CooldownSeconds: 60, ProbeCap: 1})

	for i := 0; i < 2; i++ {
		withTx(t, conn, func(tx *sql.Tx) {
			state, err := b.RecordFailureTx(context.Background(), tx, tenantID, vendorID)
			if err != nil {
				t.Fatalf("record failure: %v", err)
			}
			if state != domain.BreakerClosed {
				t.Fatalf("expected closed after %d failures, got %s", i+1, state)
			}
		})
	}
	withTx(t, conn, func(tx *sql.Tx) {
		state, err := b.RecordFailureTx(context.Background(), tx, tenantID, vendorID)
		if err != nil {
			t.Fatalf("record failure: %v", err)
		}
		if state != domain.BreakerOpen {
			t.Fatalf("expected open at threshold, got %s", state)
		}
	})
	withTx(t, conn, func(tx *sql.Tx) {
		allowed, err := b.ShouldAllowTx(context.Background(), tx, tenantID, vendorID)
		if err != nil {
			t.Fatalf("should allow: %v", err)
		}
		if allowed {
			t.Fatalf("expected open breaker to block")
		}
	})
}

func TestBreakerHalfOpensExactlyAtCooldown(t *testing.T) {
	r, tenantID, vendorID, conn := newBreakerTestVendor(t)
	openedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	current := openedAt
	b := safety.NewBreaker(r, func() time.Time { return current }, safety.VendorDefaults{FailureThreshold: 1, CooldownSeconds: 60, ProbeCap: 1})

	withTx(t, conn, func(tx *sql.Tx) {
		if _, err := b.RecordFailureTx(context.Background(), tx, tenantID, vendorID); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	})

	current = openedAt.Add(59 * time.Second)
	withTx(t, conn, func(tx *sql.Tx) {
		v, err := b.CheckStateTx(context.Background(), tx, tenantID, vendorID)
		if err != nil {
			t.Fatalf("check state: %v", err)
		}
		if v.BreakerState != domain.BreakerOpen {
			t.Fatalf("expected still open one second before cooldown, got %s", v.BreakerState)
		}
	})

	current = openedAt.Add(60 * time.Second)
	withTx(t, conn, func(tx *sql.Tx) {
		v, err := b.CheckStateTx(context.Background(), tx, tenantID, vendorID)
		if err != nil {
			t.Fatalf("check state: %v", err)
		}
		if v.BreakerState != domain.BreakerHalfOpen {
			t.Fatalf("expected half-open exactly at cooldown, got %s", v.BreakerState)
		}
	})
}

func TestBreakerHalfOpenProbeCapAndFailureReopens(t *testing.T) {
	r, tenantID, vendorID, conn := newBreakerTestVendor(t)
	openedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	current := openedAt
	b := safety.NewBreaker(r, func() time.Time { return current }, safety.VendorDefaults{FailureThreshold: 1, CooldownSeconds: 60, ProbeCap: 1})

	withTx(t, conn, func(tx *sql.Tx) {
		if _, err := b.RecordFailureTx(context.Background(), tx, tenantID, vendorID); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	})
	current = openedAt.Add(time.Minute)

	withTx(t, conn, func(tx *sql.Tx) {
		allowed, err := b.ShouldAllowTx(context.Background(), tx, tenantID, vendorID)
		if err != nil || !allowed {
			t.Fatalf("expected first probe admitted: allowed=%v err=%v", allowed, err)
		}
	})
	withTx(t, conn, func(tx *sql.Tx) {
		allowed, err := b.ShouldAllowTx(context.Background(), tx, tenantID, vendorID)
		if err != nil {
			t.Fatalf("should allow: %v", err)
		}
		if allowed {
			t.Fatalf("expected second concurrent probe blocked by probe cap")
		}
	})
	withTx(t, conn, func(tx *sql.Tx) {
		state, err := b.RecordFailureTx(context.Background(), tx, tenantID, vendorID)
		if err != nil {
			t.Fatalf("record failure: %v", err)
		}
		if state != domain.BreakerOpen {
			t.Fatalf("expected half-open failure to reopen immediately, got %s", state)
		}
	})
}

func TestBreakerSuccessClosesFromHalfOpen(t *testing.T) {
	r, tenantID, vendorID, conn := newBreakerTestVendor(t)
	openedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	current := openedAt
	b := safety.NewBreaker(r, func() time.Time { return current }, safety.VendorDefaults{FailureThreshold: 1, CooldownSeconds: 60, ProbeCap: 1})

	withTx(t, conn, func(tx *sql.Tx) {
		if _, err := b.RecordFailureTx(context.Background(), tx, tenantID, vendorID); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	})
	current = openedAt.Add(time.Minute)
	withTx(t, conn, func(tx *sql.Tx) {
		if _, err := b.ShouldAllowTx(context.Background(), tx, tenantID, vendorID); err != nil {
			t.Fatalf("should allow: %v", err)
		}
	})
	withTx(t, conn, func(tx *sql.Tx) {
		state, err := b.RecordSuccessTx(context.Background(), tx, tenantID, vendorID)
		if err != nil {
			t.Fatalf("record success: %v", err)
		}
		if state != domain.BreakerClosed {
			t.Fatalf("expected successful probe to close breaker, got %s", state)
		}
	})
}
