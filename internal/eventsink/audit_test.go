package eventsink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/audit"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/database"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/infrastructure/logging"
	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/session"
)

func TestAudit_RecordsEvents(t *testing.T) {
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "audit.db"), WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	repo, err := audit.NewSQLiteRepository(context.Background(), db)
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	sink := NewAudit(repo, "frontdesk-01", logging.Discard())

	login := testEvent(session.EventLogin)
	renewed := testEvent(session.EventRenewed)
	renewed.ID = "evt-2"
	renewed.Time = login.Time.Add(time.Minute)
	renewed.Reactive, renewed.Waiters, renewed.Duration = true, 5, 40*time.Millisecond
	sink.HandleSessionEvent(login)
	sink.HandleSessionEvent(renewed)

	// A cancelled Run records the backlog before returning.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	res, err := repo.List(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("Total = %d, want 2", res.Total)
	}
	got := res.Entries[0]
	if got.ID != "evt-2" || got.EventType != "renewed" || got.ClientID != "frontdesk-01" || got.UserID != "1" {
		t.Errorf("entry = %+v", got)
	}
	if got.Details["reactive"] != true || got.Details["waiters"] != float64(5) || got.Details["duration_ms"] != float64(40) {
		t.Errorf("details = %v", got.Details)
	}
	if len(res.Entries[1].Details) != 0 {
		t.Errorf("login details = %v, want none", res.Entries[1].Details)
	}
}

func TestAuditEntry_FailureDetails(t *testing.T) {
	e := testEvent(session.EventForcedLogout)
	e.Class, e.Error = "auth_invalid", "refresh rejected"

	got := auditEntry("c", e)
	if got.Details["class"] != "auth_invalid" || got.Details["error"] != "refresh rejected" {
		t.Errorf("details = %v", got.Details)
	}
	if _, ok := got.Details["waiters"]; ok {
		t.Error("non-renewal event carries renewal details")
	}
	if got.TenantID != "3" || got.Role != "tenant-owner" || !got.CreatedAt.Equal(e.Time) {
		t.Errorf("entry = %+v", got)
	}
}
