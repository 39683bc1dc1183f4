package service

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"silvercare/internal/models"
	"silvercare/pkg/errors"
	"silvercare/pkg/logger"
	"silvercare/pkg/push"
)

// ReadTracker maintains per-recipient read state, independent of the
// alert's processing status.
type ReadTracker struct {
	db  *gorm.DB
	hub *push.Hub
}

func NewReadTracker(db *gorm.DB, hub *push.Hub) *ReadTracker {
	return &ReadTracker{db: db, hub: hub}
}

// UnreadItem is one unread recipient row joined with its alert.
type UnreadItem struct {
	Recipient models.AlertRecipient `json:"recipient"`
	Alert     models.Alert          `json:"alert"`
}

// MarkRead stamps the recipient row read. Idempotent: a second call for
// an already-read row changes nothing and pushes nothing.
func (t *ReadTracker) MarkRead(alertID, userID uint) error {
	rcpt, err := models.GetRecipient(t.db, alertID, userID)
	if err == gorm.ErrRecordNotFound {
		return errors.NotFound("alert recipient")
	}
	if err != nil {
		return errors.Wrap(err, "recipient lookup failed")
	}
	if rcpt.IsRead {
		return nil
	}

	// Guard the stamp at the database so two concurrent calls cannot
	// both write and both push.
	now := time.Now()
	res := t.db.Model(&models.AlertRecipient{}).
		Where("alert_id = ? AND receiver_id = ? AND is_read = ?", alertID, userID, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": now,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "read mark failed")
	}
	if res.RowsAffected == 0 {
		// the other call won and already pushed
		return nil
	}

	t.pushUnreadCount(userID)
	return nil
}

// MarkAllRead bulk-marks every unread row for the user and pushes a
// single zeroed unread-count event.
func (t *ReadTracker) MarkAllRead(userID uint) error {
	now := time.Now()
	err := t.db.Model(&models.AlertRecipient{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error
	if err != nil {
		return errors.Wrap(err, "bulk read mark failed")
	}

	t.hub.Send(userID, push.EventUnreadCount, map[string]interface{}{"count": 0})
	return nil
}

// UnreadCount is a pure count query.
func (t *ReadTracker) UnreadCount(userID uint) (int64, error) {
	var count int64
	err := t.db.Model(&models.AlertRecipient{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "unread count failed")
	}
	return count, nil
}

// UnreadList returns the user's unread recipient rows joined with
// their alerts, critical first, newest first within severity.
func (t *ReadTracker) UnreadList(userID uint) ([]UnreadItem, error) {
	var recipients []models.AlertRecipient
	err := t.db.Where("receiver_id = ? AND is_read = ?", userID, false).
		Find(&recipients).Error
	if err != nil {
		return nil, errors.Wrap(err, "unread list failed")
	}
	if len(recipients) == 0 {
		return []UnreadItem{}, nil
	}

	ids := make([]uint, 0, len(recipients))
	for _, r := range recipients {
		ids = append(ids, r.AlertID)
	}
	var alerts []models.Alert
	err = t.db.Where("id IN ?", ids).
		Order("CASE severity WHEN 'CRITICAL' THEN 0 ELSE 1 END, created_at DESC").
		Find(&alerts).Error
	if err != nil {
		return nil, errors.Wrap(err, "unread alert join failed")
	}

	byAlert := make(map[uint]models.AlertRecipient, len(recipients))
	for _, r := range recipients {
		byAlert[r.AlertID] = r
	}
	items := make([]UnreadItem, 0, len(alerts))
	for _, a := range alerts {
		items = append(items, UnreadItem{Recipient: byAlert[a.ID], Alert: a})
	}
	return items, nil
}

func (t *ReadTracker) pushUnreadCount(userID uint) {
	count, err := t.UnreadCount(userID)
	if err != nil {
		logger.Warn("unread count push skipped", zap.Error(err), zap.Uint("user", userID))
		return
	}
	t.hub.Send(userID, push.EventUnreadCount, map[string]interface{}{"count": count})
}
