package integration_test

import (
	"database/sql"
	"slices"
	"testing"

	_ "modernc.org/sqlite"
)

// auditCounts returns how many events of each type the workspace audit log holds.
func auditCounts(t *testing.T, dbPath string) map[string]int {
	t.Helper()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open audit db %s: %v", dbPath, err)
	}
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT type, COUNT(*) FROM events GROUP BY type`)
	if err != nil {
		t.Fatalf("query audit events: %v", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			eventType string
			n         int
		)
		if err := rows.Scan(&eventType, &n); err != nil {
			t.Fatalf("scan audit event: %v", err)
		}
		counts[eventType] = n
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate audit events: %v", err)
	}
	return counts
}

// requireAuditEvents fails unless every event type in want was logged at least once.
func requireAuditEvents(t *testing.T, dbPath string, want []string) {
	t.Helper()
	counts := auditCounts(t, dbPath)
	var missing []string
	for _, eventType := range want {
		if counts[eventType] == 0 {
			missing = append(missing, eventType)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		t.Fatalf("audit log %s is missing %v (have %v)", dbPath, missing, counts)
	}
}
