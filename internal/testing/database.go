// Package testing provides database fixtures for aurum tests.
//
// Fixtures write raw SQL so that any package, including store itself, can
// use them without an import cycle.
package testing

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/aurum/db"
)

// FixtureTime is the creation timestamp fixtures stamp on rows
const FixtureTime = "2024-01-01T00:00:00Z"

// CreateTestDB creates a migrated, file-backed SQLite test database.
// A file is used rather than :memory: because database/sql pools
// connections and each in-memory connection is a separate database.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "aurum_test.db")
	conn, err := db.OpenWithMigrations(db.DriverSQLite, path, nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %+v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

func exec(t *testing.T, conn *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("fixture failed: %v\nquery: %s", err, query)
	}
}

// PercentLevels builds a plan levels table of percentage rules. Values past
// the ones given are null slots.
func PercentLevels(values ...string) string {
	slots := make([]string, 10)
	for i := range slots {
		slots[i] = "null"
		if i < len(values) && values[i] != "" {
			slots[i] = fmt.Sprintf(`{"type":"percentage","value":%s}`, values[i])
		}
	}
	return "[" + strings.Join(slots, ",") + "]"
}

// SeedPlan inserts a plan. levels is the raw JSON table.
func SeedPlan(t *testing.T, conn *sql.DB, id string, totalMonths int, monthlyDueMinor int64, levels string) {
	t.Helper()
	exec(t, conn, `INSERT INTO plans (id, name, monthly_due_minor, total_months, levels, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, "Plan "+id, monthlyDueMinor, totalMonths, levels, FixtureTime)
}

// SeedReferral inserts one referral edge. An empty referredBy stores NULL.
func SeedReferral(t *testing.T, conn *sql.DB, userID, referredBy string) {
	t.Helper()
	var ref interface{}
	if referredBy != "" {
		ref = referredBy
	}
	exec(t, conn, `INSERT INTO referrals (user_id, referred_by, created_at) VALUES ($1, $2, $3)`,
		userID, ref, FixtureTime)
}

// SeedReferralChain links users so that each was referred by the next one:
// SeedReferralChain(t, db, "u0", "u1", "u2") gives u0 <- u1 <- u2 (root).
func SeedReferralChain(t *testing.T, conn *sql.DB, userIDs ...string) {
	t.Helper()
	for i, u := range userIDs {
		referredBy := ""
		if i+1 < len(userIDs) {
			referredBy = userIDs[i+1]
		}
		SeedReferral(t, conn, u, referredBy)
	}
}

// SeedSubscription inserts an active subscription
func SeedSubscription(t *testing.T, conn *sql.DB, id, userID, planID, startDate string, bonusMinor int64) {
	t.Helper()
	exec(t, conn, `INSERT INTO subscriptions
		(id, user_id, plan_id, start_date, status, total_paid_minor, bonus_amount_minor, created_at)
		VALUES ($1, $2, $3, $4, 'active', 0, $5, $6)`,
		id, userID, planID, startDate, bonusMinor, FixtureTime)
}

// SeedPayment inserts a payment with the given status and type
func SeedPayment(t *testing.T, conn *sql.DB, id, subscriptionID string, month int, amountMinor int64, status, paymentType string) {
	t.Helper()
	exec(t, conn, `INSERT INTO payments
		(id, subscription_id, month_number, amount_minor, status, payment_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, subscriptionID, month, amountMinor, status, paymentType, FixtureTime)
}

// SeedMonthlyPayments inserts completed monthly payments for months 1..n
func SeedMonthlyPayments(t *testing.T, conn *sql.DB, subscriptionID string, n int, amountMinor int64) {
	t.Helper()
	for m := 1; m <= n; m++ {
		SeedPayment(t, conn, fmt.Sprintf("%s-m%02d", subscriptionID, m), subscriptionID, m, amountMinor, "completed", "monthly")
	}
}

// SeedJob inserts a commission job triggered by paymentID
func SeedJob(t *testing.T, conn *sql.DB, id, status, scheduledFor, paymentID string) {
	t.Helper()
	SeedJobAt(t, conn, id, status, scheduledFor, paymentID, FixtureTime)
}

// SeedJobAt inserts a commission job with an explicit creation timestamp
func SeedJobAt(t *testing.T, conn *sql.DB, id, status, scheduledFor, paymentID, createdAt string) {
	t.Helper()
	var lockedBy interface{}
	if status == "processing" {
		lockedBy = "fixture-worker"
	}
	exec(t, conn, `INSERT INTO commission_jobs
		(id, status, scheduled_for, payload, locked_by, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)`,
		id, status, scheduledFor, fmt.Sprintf(`{"payment_id":%q}`, paymentID), lockedBy, createdAt, createdAt)
}

// SeedGoldRate inserts a gold rate
func SeedGoldRate(t *testing.T, conn *sql.DB, id string, perGramMinor int64, effectiveAt string) {
	t.Helper()
	exec(t, conn, `INSERT INTO gold_rates (id, per_gram_minor, effective_at) VALUES ($1, $2, $3)`,
		id, perGramMinor, effectiveAt)
}

// CountRows returns the number of rows in table matching where (may be empty)
func CountRows(t *testing.T, conn *sql.DB, table, where string, args ...interface{}) int {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := conn.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
