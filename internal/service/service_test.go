package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"silvercare/internal/models"
	"silvercare/pkg/cache"
	"silvercare/pkg/push"
	"silvercare/pkg/sms"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	// one pooled connection, or each new connection sees its own
	// empty in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

type sentMsg struct {
	Phone string
	Body  string
}

// fakeProvider records sends and can be flipped to fail.
type fakeProvider struct {
	mu   sync.Mutex
	sent []sentMsg
	fail bool
}

func (f *fakeProvider) Send(_ context.Context, phone, body string) (sms.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return sms.SendResult{}, fmt.Errorf("gateway unavailable")
	}
	f.sent = append(f.sent, sentMsg{Phone: phone, Body: body})
	return sms.SendResult{MessageID: fmt.Sprintf("msg-%d", len(f.sent))}, nil
}

func (f *fakeProvider) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeProvider) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type stack struct {
	db       *gorm.DB
	hub      *push.Hub
	provider *fakeProvider
	sms      *SmsDispatcher
	tracker  *ReadTracker
	alerts   *AlertService
}

func newStack(t *testing.T, warningSMS bool, window time.Duration) *stack {
	t.Helper()
	db := newTestDB(t)
	hub := push.NewHub(time.Minute)
	t.Cleanup(hub.Close)

	provider := &fakeProvider{}
	dedup := cache.NewLocalCache(cache.LocalConfig{})
	t.Cleanup(func() { dedup.Close() })

	dispatcher := NewSmsDispatcher(db, provider, dedup, window, "https://app.test")
	resolver := NewResolver(db, 5, warningSMS)
	tracker := NewReadTracker(db, hub)
	alerts := NewAlertService(db, hub, resolver, dispatcher, tracker)
	return &stack{db: db, hub: hub, provider: provider, sms: dispatcher, tracker: tracker, alerts: alerts}
}

func seedUser(t *testing.T, db *gorm.DB, name, phone string, role models.ReceiverRole, region string) *models.User {
	t.Helper()
	user := &models.User{Name: name, Phone: phone, Role: role, RegionCode: region}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedSenior(t *testing.T, db *gorm.DB, name, region string, guardianID *uint) *models.Senior {
	t.Helper()
	birth := time.Date(1945, 3, 1, 0, 0, 0, 0, time.UTC)
	senior := &models.Senior{Name: name, RegionCode: region, GuardianID: guardianID, BirthDate: &birth}
	require.NoError(t, db.Create(senior).Error)
	return senior
}

func assignCounselor(t *testing.T, db *gorm.DB, seniorID, counselorID uint) {
	t.Helper()
	require.NoError(t, db.Create(&models.CounselorAssignment{
		SeniorID: seniorID, CounselorID: counselorID, Active: true,
	}).Error)
}

// nextEvent waits for the next envelope on a live connection.
func nextEvent(t *testing.T, conn *push.Conn, timeout time.Duration) push.Envelope {
	t.Helper()
	select {
	case msg := <-conn.C():
		return msg
	case <-time.After(timeout):
		t.Fatalf("no push event within %v", timeout)
		return push.Envelope{}
	}
}

// drainConnected consumes the registration greeting so tests can
// assert on the events that follow it.
func drainConnected(t *testing.T, conn *push.Conn) {
	t.Helper()
	msg := nextEvent(t, conn, time.Second)
	require.Equal(t, push.EventConnected, msg.Event)
}

func smsLogCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.SmsLog{}).Count(&count).Error)
	return count
}
