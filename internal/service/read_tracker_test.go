package service

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silvercare/internal/models"
	"silvercare/pkg/errors"
	"silvercare/pkg/push"
)

func seedRecipientRow(t *testing.T, st *stack, userID uint, severity models.AlertSeverity, read bool) *models.Alert {
	t.Helper()
	alert := &models.Alert{
		SeniorID: 1, Severity: severity, Category: models.CategoryHealth,
		Title: "unread test", Status: models.StatusPending,
	}
	require.NoError(t, st.db.Create(alert).Error)
	rcpt := &models.AlertRecipient{
		AlertID: alert.ID, ReceiverID: userID, Role: models.RoleGuardian,
		SmsStatus: models.SmsPending, IsRead: read,
	}
	if read {
		now := time.Now()
		rcpt.ReadAt = &now
	}
	require.NoError(t, st.db.Create(rcpt).Error)
	return alert
}

func expectUnreadCount(t *testing.T, conn *push.Conn, want int64) {
	t.Helper()
	msg := nextEvent(t, conn, time.Second)
	require.Equal(t, push.EventUnreadCount, msg.Event)
	var payload struct {
		Count int64 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, want, payload.Count)
}

func TestMarkReadIdempotent(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	user := seedUser(t, st.db, "보호자", "01088880001", models.RoleGuardian, "")
	alert := seedRecipientRow(t, st, user.ID, models.SeverityCritical, false)
	seedRecipientRow(t, st, user.ID, models.SeverityWarning, false)

	conn := st.hub.Register(user.ID)
	defer st.hub.Remove(conn)
	drainConnected(t, conn)

	require.NoError(t, st.tracker.MarkRead(alert.ID, user.ID))
	expectUnreadCount(t, conn, 1)

	rcpt, err := models.GetRecipient(st.db, alert.ID, user.ID)
	require.NoError(t, err)
	require.True(t, rcpt.IsRead)
	require.NotNil(t, rcpt.ReadAt)
	firstReadAt := *rcpt.ReadAt

	// second call: no state change, no second push
	require.NoError(t, st.tracker.MarkRead(alert.ID, user.ID))
	rcpt, err = models.GetRecipient(st.db, alert.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, firstReadAt.Unix(), rcpt.ReadAt.Unix())

	select {
	case msg := <-conn.C():
		t.Fatalf("unexpected push event %q after idempotent re-read", msg.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMarkReadConcurrentCallsPushOnce(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	user := seedUser(t, st.db, "보호자", "01088880006", models.RoleGuardian, "")
	alert := seedRecipientRow(t, st, user.ID, models.SeverityCritical, false)

	conn := st.hub.Register(user.ID)
	defer st.hub.Remove(conn)
	drainConnected(t, conn)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = st.tracker.MarkRead(alert.ID, user.ID)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	// the guarded stamp lets exactly one caller win and push
	expectUnreadCount(t, conn, 0)
	select {
	case msg := <-conn.C():
		t.Fatalf("unexpected second push event %q", msg.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMarkReadUnknownRecipient(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	user := seedUser(t, st.db, "보호자", "01088880002", models.RoleGuardian, "")
	err := st.tracker.MarkRead(404, user.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestMarkAllRead(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	user := seedUser(t, st.db, "보호자", "01088880003", models.RoleGuardian, "")
	for i := 0; i < 5; i++ {
		seedRecipientRow(t, st, user.ID, models.SeverityCritical, false)
	}
	for i := 0; i < 2; i++ {
		seedRecipientRow(t, st, user.ID, models.SeverityWarning, true)
	}

	count, err := st.tracker.UnreadCount(user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)

	conn := st.hub.Register(user.ID)
	defer st.hub.Remove(conn)
	drainConnected(t, conn)

	require.NoError(t, st.tracker.MarkAllRead(user.ID))
	expectUnreadCount(t, conn, 0)

	count, err = st.tracker.UnreadCount(user.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	var unstamped int64
	require.NoError(t, st.db.Model(&models.AlertRecipient{}).
		Where("receiver_id = ? AND read_at IS NULL", user.ID).
		Count(&unstamped).Error)
	assert.Zero(t, unstamped)

	// zeroed event arrives exactly once
	select {
	case msg := <-conn.C():
		t.Fatalf("unexpected push event %q after mark-all", msg.Event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnreadListOrdering(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	user := seedUser(t, st.db, "보호자", "01088880004", models.RoleGuardian, "")
	seedRecipientRow(t, st, user.ID, models.SeverityWarning, false)
	critical := seedRecipientRow(t, st, user.ID, models.SeverityCritical, false)
	seedRecipientRow(t, st, user.ID, models.SeverityWarning, true)

	items, err := st.tracker.UnreadList(user.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, critical.ID, items[0].Alert.ID, "critical sorts first")
	assert.Equal(t, models.SeverityWarning, items[1].Alert.Severity)
	assert.Equal(t, user.ID, items[0].Recipient.ReceiverID)
}

func TestUnreadListEmpty(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	user := seedUser(t, st.db, "보호자", "01088880005", models.RoleGuardian, "")
	items, err := st.tracker.UnreadList(user.ID)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}
