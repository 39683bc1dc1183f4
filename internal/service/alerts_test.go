package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silvercare/internal/models"
	"silvercare/pkg/errors"
	"silvercare/pkg/push"
)

// fullScene wires a senior with a counselor, a guardian and two
// district admins, the widest fanout the resolver produces.
type fullScene struct {
	senior    *models.Senior
	counselor *models.User
	guardian  *models.User
	admins    []*models.User
}

func seedFullScene(t *testing.T, st *stack) fullScene {
	t.Helper()
	counselor := seedUser(t, st.db, "정상담", "01055550001", models.RoleCounselor, "")
	guardian := seedUser(t, st.db, "김보호", "01055550002", models.RoleGuardian, "")
	admin1 := seedUser(t, st.db, "강남구청", "01055550003", models.RoleAdmin, "11680")
	admin2 := seedUser(t, st.db, "복지과", "01055550004", models.RoleAdmin, "11680")
	senior := seedSenior(t, st.db, "김영희", "11680510", &guardian.ID)
	assignCounselor(t, st.db, senior.ID, counselor.ID)
	return fullScene{senior: senior, counselor: counselor, guardian: guardian, admins: []*models.User{admin1, admin2}}
}

func TestCreateAlertPersistsRecipients(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	scene := seedFullScene(t, st)

	alert, err := st.alerts.CreateAlert(context.Background(), CreateAlertInput{
		SeniorID:       scene.senior.ID,
		Severity:       models.SeverityCritical,
		Category:       models.CategoryHealth,
		Title:          "호흡 곤란 호소",
		DangerKeywords: []string{"숨이", "가슴"},
	})
	require.NoError(t, err)
	require.NotZero(t, alert.ID)
	assert.Equal(t, models.StatusPending, alert.Status)
	require.NotNil(t, alert.CounselorID)
	assert.Equal(t, scene.counselor.ID, *alert.CounselorID)

	recipients, err := models.GetRecipients(st.db, alert.ID)
	require.NoError(t, err)
	require.Len(t, recipients, 4)
	for _, r := range recipients {
		assert.True(t, r.SmsRequired)
		assert.False(t, r.IsRead)
		assert.Equal(t, models.SmsPending, r.SmsStatus)
	}

	// all four SMS attempts land in the ledger once dispatch settles
	require.Eventually(t, func() bool {
		return smsLogCount(t, st.db) == 4
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 4, st.provider.count())
}

func TestCreateAlertUnknownSenior(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	_, err := st.alerts.CreateAlert(context.Background(), CreateAlertInput{
		SeniorID: 404,
		Severity: models.SeverityCritical,
		Category: models.CategoryHealth,
		Title:    "x",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestCreateAlertSnapshotsCounselor(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	scene := seedFullScene(t, st)

	alert, err := st.alerts.CreateAlert(context.Background(), CreateAlertInput{
		SeniorID: scene.senior.ID,
		Severity: models.SeverityWarning,
		Category: models.CategoryNoResponse,
		Title:    "연속 무응답",
	})
	require.NoError(t, err)

	// reassignment after creation must not touch the stored snapshot
	replacement := seedUser(t, st.db, "후임상담", "01055559999", models.RoleCounselor, "")
	require.NoError(t, st.db.Model(&models.CounselorAssignment{}).
		Where("senior_id = ?", scene.senior.ID).
		Update("counselor_id", replacement.ID).Error)

	stored, err := models.GetAlertByID(st.db, alert.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CounselorID)
	assert.Equal(t, scene.counselor.ID, *stored.CounselorID)
}

func TestCreateAlertPushesToLiveConnections(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	scene := seedFullScene(t, st)

	conn := st.hub.Register(scene.guardian.ID)
	defer st.hub.Remove(conn)
	drainConnected(t, conn)

	alert, err := st.alerts.CreateAlert(context.Background(), CreateAlertInput{
		SeniorID: scene.senior.ID,
		Severity: models.SeverityCritical,
		Category: models.CategoryMental,
		Title:    "자해 위험 발언",
	})
	require.NoError(t, err)

	msg := nextEvent(t, conn, 2*time.Second)
	require.Equal(t, push.EventEmergencyAlert, msg.Event)

	var payload struct {
		AlertID    uint   `json:"alertId"`
		SeniorName string `json:"seniorName"`
		Severity   string `json:"severity"`
		Title      string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, alert.ID, payload.AlertID)
	assert.Equal(t, "김영희", payload.SeniorName)
	assert.Equal(t, "CRITICAL", payload.Severity)
	assert.Equal(t, "자해 위험 발언", payload.Title)
}

func TestProcessAlertLifecycle(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	scene := seedFullScene(t, st)

	alert, err := st.alerts.CreateAlert(context.Background(), CreateAlertInput{
		SeniorID: scene.senior.ID,
		Severity: models.SeverityCritical,
		Category: models.CategoryHealth,
		Title:    "낙상 의심",
	})
	require.NoError(t, err)

	got, err := st.alerts.ProcessAlert(context.Background(), alert.ID, scene.counselor.ID, models.StatusInProgress, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)
	assert.Nil(t, got.ProcessedBy)

	// a second claim of the same alert loses
	_, err = st.alerts.ProcessAlert(context.Background(), alert.ID, scene.admins[0].ID, models.StatusInProgress, "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidTransition))

	got, err = st.alerts.ProcessAlert(context.Background(), alert.ID, scene.counselor.ID, models.StatusResolved, "현장 확인 완료, 이상 없음")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, got.Status)
	require.NotNil(t, got.ProcessedBy)
	assert.Equal(t, scene.counselor.ID, *got.ProcessedBy)
	assert.NotNil(t, got.ProcessedAt)
	assert.Equal(t, "현장 확인 완료, 이상 없음", got.ResolutionNote)

	// terminal states accept nothing further
	for _, target := range []models.AlertStatus{models.StatusInProgress, models.StatusResolved, models.StatusEscalated} {
		_, err = st.alerts.ProcessAlert(context.Background(), alert.ID, scene.counselor.ID, target, "")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidTransition))
	}
}

func TestProcessAlertDirectTerminal(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	scene := seedFullScene(t, st)

	alert, err := st.alerts.CreateAlert(context.Background(), CreateAlertInput{
		SeniorID: scene.senior.ID,
		Severity: models.SeverityWarning,
		Category: models.CategoryMental,
		Title:    "우울감 호소",
	})
	require.NoError(t, err)

	got, err := st.alerts.ProcessAlert(context.Background(), alert.ID, scene.admins[0].ID, models.StatusEscalated, "119 인계")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEscalated, got.Status)
}

func TestProcessAlertValidation(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	scene := seedFullScene(t, st)

	alert, err := st.alerts.CreateAlert(context.Background(), CreateAlertInput{
		SeniorID: scene.senior.ID,
		Severity: models.SeverityCritical,
		Category: models.CategoryHealth,
		Title:    "x",
	})
	require.NoError(t, err)

	_, err = st.alerts.ProcessAlert(context.Background(), alert.ID, scene.counselor.ID, models.StatusPending, "")
	assert.True(t, errors.IsCode(err, errors.CodeBadRequest))

	_, err = st.alerts.ProcessAlert(context.Background(), 404, scene.counselor.ID, models.StatusResolved, "")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))

	_, err = st.alerts.ProcessAlert(context.Background(), alert.ID, 404, models.StatusResolved, "")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestProcessAlertPushesStatusUpdate(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	scene := seedFullScene(t, st)

	alert, err := st.alerts.CreateAlert(context.Background(), CreateAlertInput{
		SeniorID: scene.senior.ID,
		Severity: models.SeverityCritical,
		Category: models.CategoryHealth,
		Title:    "호흡 곤란 호소",
	})
	require.NoError(t, err)

	conn := st.hub.Register(scene.guardian.ID)
	defer st.hub.Remove(conn)
	drainConnected(t, conn)

	_, err = st.alerts.ProcessAlert(context.Background(), alert.ID, scene.counselor.ID, models.StatusResolved, "통화로 안정 확인")
	require.NoError(t, err)

	// the guardian may still receive the creation-time event first
	deadline := time.After(2 * time.Second)
	for {
		var msg push.Envelope
		select {
		case msg = <-conn.C():
		case <-deadline:
			t.Fatal("no alert-status-update event")
		}
		if msg.Event != push.EventAlertStatusUpdate {
			continue
		}
		var payload struct {
			AlertID uint   `json:"alertId"`
			Status  string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		assert.Equal(t, alert.ID, payload.AlertID)
		assert.Equal(t, "RESOLVED", payload.Status)
		return
	}
}

func TestGetDetailMarksRecipientRead(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	scene := seedFullScene(t, st)

	alert, err := st.alerts.CreateAlert(context.Background(), CreateAlertInput{
		SeniorID: scene.senior.ID,
		Severity: models.SeverityCritical,
		Category: models.CategoryHealth,
		Title:    "x",
	})
	require.NoError(t, err)

	detail, err := st.alerts.GetDetail(alert.ID, scene.guardian.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.ID, detail.Alert.ID)
	assert.Len(t, detail.Recipients, 4)

	rcpt, err := models.GetRecipient(st.db, alert.ID, scene.guardian.ID)
	require.NoError(t, err)
	assert.True(t, rcpt.IsRead)
	assert.NotNil(t, rcpt.ReadAt)

	// the returned roster reflects the viewer's fresh read stamp
	for _, r := range detail.Recipients {
		if r.ReceiverID == scene.guardian.ID {
			assert.True(t, r.IsRead)
		}
	}
}

func TestGetDetailScopedToRecipients(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	scene := seedFullScene(t, st)

	alert, err := st.alerts.CreateAlert(context.Background(), CreateAlertInput{
		SeniorID:          scene.senior.ID,
		Severity:          models.SeverityCritical,
		Category:          models.CategoryMental,
		Title:             "자해 위험 발언",
		TranscriptExcerpt: "민감한 통화 내용",
	})
	require.NoError(t, err)

	// users outside the fanout set never see the detail, regardless of
	// role or region
	outsiders := []*models.User{
		seedUser(t, st.db, "타지역구청", "01066660001", models.RoleAdmin, "26440"),
		seedUser(t, st.db, "무관보호자", "01066660002", models.RoleGuardian, ""),
		seedUser(t, st.db, "무관상담사", "01066660003", models.RoleCounselor, ""),
	}
	for _, u := range outsiders {
		_, err := st.alerts.GetDetail(alert.ID, u.ID)
		require.Error(t, err, u.Name)
		assert.True(t, errors.IsCode(err, errors.CodeNotFound), u.Name)
	}

	// no read state was created for any outsider
	var rows int64
	require.NoError(t, st.db.Model(&models.AlertRecipient{}).
		Where("alert_id = ?", alert.ID).Count(&rows).Error)
	assert.EqualValues(t, 4, rows)

	// every actual recipient still sees the full detail
	for _, id := range []uint{scene.counselor.ID, scene.guardian.ID, scene.admins[0].ID} {
		detail, err := st.alerts.GetDetail(alert.ID, id)
		require.NoError(t, err)
		assert.Equal(t, "민감한 통화 내용", detail.Alert.TranscriptExcerpt)
	}
}

func TestListForCounselorAndReceiver(t *testing.T) {
	st := newStack(t, false, 5*time.Minute)
	scene := seedFullScene(t, st)

	for i, sev := range []models.AlertSeverity{models.SeverityCritical, models.SeverityWarning, models.SeverityCritical} {
		_, err := st.alerts.CreateAlert(context.Background(), CreateAlertInput{
			SeniorID: scene.senior.ID,
			Severity: sev,
			Category: models.CategoryHealth,
			Title:    "alert",
		})
		require.NoError(t, err, "alert %d", i)
	}

	alerts, total, err := st.alerts.ListForCounselor(scene.counselor.ID, ListFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, alerts, 3)

	alerts, total, err = st.alerts.ListForCounselor(scene.counselor.ID, ListFilter{Severity: models.SeverityCritical})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, alerts, 2)

	alerts, total, err = st.alerts.ListForReceiver(scene.guardian.ID, ListFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, alerts, 3)

	alerts, total, err = st.alerts.ListForReceiver(scene.guardian.ID, ListFilter{PageSize: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, alerts, 2)

	pending, err := st.alerts.ListPendingForCounselor(scene.counselor.ID)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, models.SeverityCritical, pending[0].Severity)
	assert.Equal(t, models.SeverityCritical, pending[1].Severity)
	assert.Equal(t, models.SeverityWarning, pending[2].Severity)
}
