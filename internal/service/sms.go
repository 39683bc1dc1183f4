package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"silvercare/internal/models"
	"silvercare/pkg/cache"
	"silvercare/pkg/logger"
	"silvercare/pkg/metrics"
	"silvercare/pkg/sms"
	"silvercare/pkg/util"
)

const maxTitleLen = 30

// SmsDispatcher performs out-of-band delivery for recipients flagged
// SMS-required. It runs off the critical path: every entry point logs
// failures and returns, nothing propagates to the triggering request.
type SmsDispatcher struct {
	db       *gorm.DB
	provider sms.Provider
	cache    cache.Cache
	window   time.Duration
	linkBase string
}

func NewSmsDispatcher(db *gorm.DB, provider sms.Provider, c cache.Cache, window time.Duration, linkBase string) *SmsDispatcher {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &SmsDispatcher{db: db, provider: provider, cache: c, window: window, linkBase: linkBase}
}

// DispatchAlert attempts one SMS for one recipient of one alert.
// The dedup window is checked first: an unexpired pending/successful
// send for the same (phone, type, reference) key skips everything,
// including the ledger row.
func (d *SmsDispatcher) DispatchAlert(ctx context.Context, alert *models.Alert, senior *models.Senior, rcpt ResolvedRecipient) {
	phone := util.NormalizePhone(rcpt.Phone)
	if phone == "" {
		logger.Warn("sms recipient has no usable phone",
			zap.Uint("alert", alert.ID), zap.Uint("receiver", rcpt.UserID))
		d.markRecipient(alert.ID, rcpt.UserID, models.SmsFailed, nil)
		return
	}

	msgType := models.SmsTypeForSeverity(alert.Severity)
	dedupKey := fmt.Sprintf("sms:dedup:%s:%s:%d", phone, msgType, alert.ID)

	if d.suppressed(ctx, dedupKey, phone, msgType, alert.ID) {
		metrics.SmsSuppressed.Inc()
		logger.Debug("sms suppressed by dedup window",
			zap.String("phone", phone), zap.String("type", msgType), zap.Uint("ref", alert.ID))
		return
	}
	// Claim the key before the provider call so a burst of duplicate
	// triggers collapses to one send. The race between two
	// near-simultaneous checks is benign under the at-least-once
	// contract.
	_ = d.cache.Set(ctx, dedupKey, time.Now().Unix(), d.window)

	body, link := renderAlertSMS(rcpt.Role, senior, alert, d.linkBase)
	receiverID := rcpt.UserID
	entry := models.SmsLog{
		ReceiverID:  &receiverID,
		Phone:       phone,
		MessageType: msgType,
		RefType:     models.RefTypeAlert,
		RefID:       alert.ID,
		Body:        body,
		ShortLink:   link,
		Status:      models.SmsPending,
	}
	if err := d.db.Create(&entry).Error; err != nil {
		logger.Error("sms ledger write failed", zap.Error(err), zap.Uint("alert", alert.ID))
		_ = d.cache.Delete(ctx, dedupKey)
		return
	}

	d.attempt(ctx, &entry, dedupKey)
}

// attempt performs the provider call for a PENDING ledger row and
// settles both the row and its recipient.
func (d *SmsDispatcher) attempt(ctx context.Context, entry *models.SmsLog, dedupKey string) {
	result, err := d.provider.Send(ctx, entry.Phone, entry.Body)
	now := time.Now()
	if err != nil {
		metrics.SmsFailed.Inc()
		logger.Error("sms provider send failed",
			zap.Error(err), zap.String("phone", entry.Phone), zap.Uint("log", entry.ID))
		if uerr := d.db.Model(entry).Updates(map[string]interface{}{
			"status":     models.SmsFailed,
			"error_text": err.Error(),
		}).Error; uerr != nil {
			logger.Error("sms ledger status update failed", zap.Error(uerr), zap.Uint("log", entry.ID))
		}
		if entry.ReceiverID != nil {
			d.markRecipient(entry.RefID, *entry.ReceiverID, models.SmsFailed, nil)
		}
		if dedupKey != "" {
			// a failed attempt must not suppress the resend sweep
			_ = d.cache.Delete(ctx, dedupKey)
		}
		return
	}

	metrics.SmsSent.Inc()
	if uerr := d.db.Model(entry).Updates(map[string]interface{}{
		"status":              models.SmsSent,
		"provider_message_id": result.MessageID,
		"sent_at":             now,
	}).Error; uerr != nil {
		logger.Error("sms ledger status update failed", zap.Error(uerr), zap.Uint("log", entry.ID))
	}
	if entry.ReceiverID != nil {
		d.markRecipient(entry.RefID, *entry.ReceiverID, models.SmsSent, &now)
	}
}

// ResendFailed re-attempts FAILED ledger rows created after cutoff and
// returns how many retries it actually made. Each retry is a fresh
// ledger row; the failed row stays as the audit record of its attempt.
// Rows that already have a later attempt for the same key are skipped.
func (d *SmsDispatcher) ResendFailed(ctx context.Context, cutoff time.Time, limit int) int {
	failed, err := models.FailedSmsLogs(d.db, cutoff, limit)
	if err != nil {
		logger.Error("failed-sms sweep query failed", zap.Error(err))
		return 0
	}
	retried := 0
	for i := range failed {
		old := failed[i]
		newer, err := models.HasNewerAttempt(d.db, &old)
		if err != nil || newer {
			continue
		}
		retry := models.SmsLog{
			ReceiverID:  old.ReceiverID,
			Phone:       old.Phone,
			MessageType: old.MessageType,
			RefType:     old.RefType,
			RefID:       old.RefID,
			Body:        old.Body,
			ShortLink:   old.ShortLink,
			Status:      models.SmsPending,
		}
		if err := d.db.Create(&retry).Error; err != nil {
			logger.Error("sms retry ledger write failed", zap.Error(err), zap.Uint("log", old.ID))
			continue
		}
		d.attempt(ctx, &retry, "")
		retried++
	}
	if len(failed) > 0 {
		logger.Info("failed-sms resend sweep completed",
			zap.Int("retried", retried), zap.Int("scanned", len(failed)))
	}
	return retried
}

func (d *SmsDispatcher) suppressed(ctx context.Context, key, phone, msgType string, refID uint) bool {
	if d.cache != nil && d.cache.Exists(ctx, key) {
		return true
	}
	// A cache miss can still be a duplicate after a restart or across
	// processes sharing one database.
	exists, err := models.RecentSmsExists(d.db, phone, msgType, refID, time.Now().Add(-d.window))
	if err != nil {
		logger.Warn("sms dedup ledger check failed", zap.Error(err))
		return false
	}
	return exists
}

func (d *SmsDispatcher) markRecipient(alertID, receiverID uint, status models.SmsStatus, sentAt *time.Time) {
	updates := map[string]interface{}{"sms_status": status}
	if status == models.SmsSent {
		updates["sms_sent"] = true
		updates["sms_sent_at"] = sentAt
	}
	err := d.db.Model(&models.AlertRecipient{}).
		Where("alert_id = ? AND receiver_id = ?", alertID, receiverID).
		Updates(updates).Error
	if err != nil {
		logger.Error("recipient sms state update failed",
			zap.Error(err), zap.Uint("alert", alertID), zap.Uint("receiver", receiverID))
	}
}

// renderAlertSMS builds the role-specific message text and deep link.
// Every template is bounded: the title is truncated and the body stays
// within a single concatenated-SMS budget.
func renderAlertSMS(role models.ReceiverRole, senior *models.Senior, alert *models.Alert, linkBase string) (body, link string) {
	title := truncate(alert.Title, maxTitleLen)
	age := senior.Age(time.Now())

	switch role {
	case models.RoleGuardian:
		link = fmt.Sprintf("%s/guardian/alerts/%d", linkBase, alert.ID)
		body = fmt.Sprintf("[실버케어] %s님(%d세) 안부확인 중 위험 신호가 감지되었습니다: %s. 확인: %s",
			senior.Name, age, title, link)
	case models.RoleCounselor:
		link = fmt.Sprintf("%s/counselor/alerts/%d", linkBase, alert.ID)
		body = fmt.Sprintf("[실버케어] 담당 어르신 %s님(%d세) 긴급알림(%s): %s. 처리: %s",
			senior.Name, age, alert.Severity, title, link)
	default:
		link = fmt.Sprintf("%s/admin/alerts/%d", linkBase, alert.ID)
		body = fmt.Sprintf("[실버케어] 관할지역 %s님(%d세) 긴급알림(%s): %s. 조치: %s",
			senior.Name, age, alert.Severity, title, link)
	}
	return body, link
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
