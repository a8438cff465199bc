package audit

import (
	"errors"
	"strings"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	auditRepo "github.com/mrlokans/circulation/internal/database/audit"
	"github.com/mrlokans/circulation/internal/entities"
	"github.com/mrlokans/circulation/internal/logging"
)

func setupTestService(t *testing.T) (*Service, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&entities.AuditEvent{})
	require.NoError(t, err)

	repo := auditRepo.NewRepository(db)
	svc := NewService(repo, logging.Discard())

	return svc, db
}

func TestService_Log(t *testing.T) {
	svc, db := setupTestService(t)

	event := &entities.AuditEvent{
		EventType:   entities.AuditEventLoan,
		Action:      "loan_borrow",
		Description: "Test event",
		Status:      entities.AuditStatusSuccess,
	}

	err := svc.Log(event)
	require.NoError(t, err)

	var saved entities.AuditEvent
	err = db.First(&saved, event.ID).Error
	require.NoError(t, err)
	assert.Equal(t, "loan_borrow", saved.Action)
}

func TestService_LogOverdue(t *testing.T) {
	svc, db := setupTestService(t)
	checkedAt := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

	err := svc.LogOverdue(OverdueAlert{RunID: "run-1", Count: 2, LoanIDs: []uint{4, 9}, CheckedAt: checkedAt})
	require.NoError(t, err)

	var event entities.AuditEvent
	require.NoError(t, db.Where("action = ?", "overdue_detected").First(&event).Error)
	assert.Equal(t, entities.AuditEventOverdue, event.EventType)
	assert.Equal(t, "Warning: 2 item(s) overdue.", event.Description)
	assert.Nil(t, event.EntityID)

	var md OverdueAlert
	require.NoError(t, jsoniter.UnmarshalFromString(event.Metadata, &md))
	assert.Equal(t, "run-1", md.RunID)
	assert.Equal(t, []uint{4, 9}, md.LoanIDs)
	assert.True(t, checkedAt.Equal(md.CheckedAt))

	t.Run("single loan is linked", func(t *testing.T) {
		require.NoError(t, svc.LogOverdue(OverdueAlert{Count: 1, LoanIDs: []uint{4}}))

		var event entities.AuditEvent
		require.NoError(t, db.Where("action = ?", "overdue_detected").Order("id DESC").First(&event).Error)
		require.NotNil(t, event.EntityID)
		assert.Equal(t, uint(4), *event.EntityID)
	})
}

func TestService_LogMonitor(t *testing.T) {
	svc, db := setupTestService(t)

	svc.LogMonitor("monitor_start", "Overdue monitor started", nil)
	svc.LogMonitor("monitor_start", "Overdue monitor failed to start", errors.New(strings.Repeat("x", 600)))
	svc.Wait()

	var events []entities.AuditEvent
	require.NoError(t, db.Where("event_type = ?", entities.AuditEventMonitor).Order("id").Find(&events).Error)
	require.Len(t, events, 2)

	statuses := []entities.AuditStatus{events[0].Status, events[1].Status}
	assert.ElementsMatch(t, []entities.AuditStatus{entities.AuditStatusSuccess, entities.AuditStatusFailed}, statuses)
	for _, e := range events {
		if e.Status == entities.AuditStatusFailed {
			assert.Len(t, e.ErrorMsg, 500)
			assert.True(t, strings.HasSuffix(e.ErrorMsg, "..."))
		}
	}
}

func TestService_LogLoan(t *testing.T) {
	svc, db := setupTestService(t)

	svc.LogLoan("loan_return", 12, "Returned loan 12")
	svc.Wait()

	var event entities.AuditEvent
	require.NoError(t, db.Where("action = ?", "loan_return").First(&event).Error)
	require.NotNil(t, event.EntityID)
	assert.Equal(t, uint(12), *event.EntityID)
}

func TestService_DeleteOldEvents(t *testing.T) {
	svc, db := setupTestService(t)
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	old := &entities.AuditEvent{EventType: entities.AuditEventOverdue, Action: "overdue_detected", CreatedAt: now.AddDate(0, 0, -40)}
	recent := &entities.AuditEvent{EventType: entities.AuditEventOverdue, Action: "overdue_detected", CreatedAt: now.AddDate(0, 0, -1)}
	require.NoError(t, svc.Log(old))
	require.NoError(t, svc.Log(recent))

	deleted, err := svc.DeleteOldEvents(30 * 24 * time.Hour)
	require.NoError(t, err)
	svc.Wait()
	assert.Equal(t, int64(1), deleted)

	events, total, err := svc.GetEvents(entities.AuditEventOverdue, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, recent.ID, events[0].ID)

	var sweep entities.AuditEvent
	require.NoError(t, db.Where("event_type = ?", entities.AuditEventRetention).First(&sweep).Error)
	assert.Contains(t, sweep.Description, "Deleted 1 audit events")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
