package models

import (
	"time"

	"gorm.io/gorm"
)

// AlertSeverity classifies how urgent an alert is.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "CRITICAL"
	SeverityWarning  AlertSeverity = "WARNING"
)

// AlertCategory names the detected risk signal.
type AlertCategory string

const (
	CategoryHealth     AlertCategory = "HEALTH"
	CategoryMental     AlertCategory = "MENTAL"
	CategoryNoResponse AlertCategory = "NO_RESPONSE"
)

// AlertStatus is the processing state of an alert.
type AlertStatus string

const (
	StatusPending    AlertStatus = "PENDING"
	StatusInProgress AlertStatus = "IN_PROGRESS"
	StatusResolved   AlertStatus = "RESOLVED"
	StatusEscalated  AlertStatus = "ESCALATED"
)

// CanTransitionTo encodes the state machine: PENDING may move to any
// later state, IN_PROGRESS only to a terminal one, terminal states
// accept nothing.
func (s AlertStatus) CanTransitionTo(target AlertStatus) bool {
	switch s {
	case StatusPending:
		return target == StatusInProgress || target == StatusResolved || target == StatusEscalated
	case StatusInProgress:
		return target == StatusResolved || target == StatusEscalated
	default:
		return false
	}
}

// Terminal reports whether no further transitions are accepted.
func (s AlertStatus) Terminal() bool {
	return s == StatusResolved || s == StatusEscalated
}

// Alert is the durable record of one detected risk signal. Outside the
// processing fields and timestamps it is immutable, and rows are never
// deleted.
type Alert struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	SeniorID      uint          `gorm:"not null;index:idx_alerts_senior_created,priority:1" json:"seniorId"`
	CallSessionID *uint         `json:"callSessionId,omitempty"`
	Severity      AlertSeverity `gorm:"type:varchar(20);not null;index:idx_alerts_status_severity,priority:2" json:"severity"`
	Category      AlertCategory `gorm:"type:varchar(20);not null" json:"category"`
	Title         string        `gorm:"size:255;not null" json:"title"`
	Description   string        `gorm:"type:text" json:"description"`

	// DangerKeywords holds the detected keywords, if the agent
	// extracted any.
	DangerKeywords []string `gorm:"serializer:json" json:"dangerKeywords,omitempty"`

	// TranscriptExcerpt is the verbatim source passage that triggered
	// the signal.
	TranscriptExcerpt string `gorm:"type:text" json:"transcriptExcerpt,omitempty"`

	Status AlertStatus `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_alerts_status_severity,priority:1" json:"status"`

	// CounselorID is the counselor assigned to the subject when the
	// alert was created. Later reassignment does not change it.
	CounselorID *uint `gorm:"index" json:"counselorId,omitempty"`

	ProcessedBy    *uint      `json:"processedBy,omitempty"`
	ProcessedAt    *time.Time `json:"processedAt,omitempty"`
	ResolutionNote string     `gorm:"type:text" json:"resolutionNote,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_alerts_senior_created,priority:2" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// ReceiverRole is the capacity in which a human receives an alert.
type ReceiverRole string

const (
	RoleAdmin     ReceiverRole = "ADMIN"
	RoleCounselor ReceiverRole = "COUNSELOR"
	RoleGuardian  ReceiverRole = "GUARDIAN"
)

// SmsStatus tracks one delivery attempt through the provider.
type SmsStatus string

const (
	SmsPending   SmsStatus = "PENDING"
	SmsSent      SmsStatus = "SENT"
	SmsDelivered SmsStatus = "DELIVERED"
	SmsFailed    SmsStatus = "FAILED"
)

// AlertRecipient links one alert to one human who must see it. At most
// one row exists per (alert, receiver) pair; rows are never deleted.
type AlertRecipient struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	AlertID    uint         `gorm:"not null;uniqueIndex:uniq_alert_receiver,priority:1" json:"alertId"`
	ReceiverID uint         `gorm:"not null;uniqueIndex:uniq_alert_receiver,priority:2;index:idx_recipients_receiver_read,priority:1" json:"receiverId"`
	Role       ReceiverRole `gorm:"type:varchar(20);not null" json:"role"`

	IsRead bool       `gorm:"not null;default:false;index:idx_recipients_receiver_read,priority:2" json:"isRead"`
	ReadAt *time.Time `json:"readAt,omitempty"`

	SmsRequired bool       `gorm:"not null;default:false" json:"smsRequired"`
	SmsSent     bool       `gorm:"not null;default:false" json:"smsSent"`
	SmsSentAt   *time.Time `json:"smsSentAt,omitempty"`
	SmsStatus   SmsStatus  `gorm:"type:varchar(20);not null;default:'PENDING'" json:"smsStatus"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// RefTypeAlert is the SmsLog reference type for emergency alerts.
const RefTypeAlert = "emergency_alerts"

// SmsLog is the append-only delivery ledger: one row per attempted
// send. A retry is a new row, never a rewrite of an old one; only the
// status fields of a row move, up to a terminal state.
type SmsLog struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ReceiverID *uint  `gorm:"index" json:"receiverId,omitempty"`
	Phone      string `gorm:"size:20;not null;index:idx_sms_dedup,priority:1" json:"phone"`

	// MessageType maps 1:1 to alert severity for alert SMS; other
	// non-alert message kinds use their own types.
	MessageType string `gorm:"size:30;not null;index:idx_sms_dedup,priority:2" json:"messageType"`

	RefType string `gorm:"size:40" json:"refType,omitempty"`
	RefID   uint   `gorm:"index:idx_sms_dedup,priority:3" json:"refId,omitempty"`

	Body      string `gorm:"type:text;not null" json:"body"`
	ShortLink string `gorm:"size:255" json:"shortLink,omitempty"`

	Status            SmsStatus `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	ProviderMessageID string    `gorm:"size:64" json:"providerMessageId,omitempty"`

	SentAt      *time.Time `json:"sentAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ErrorText   string     `gorm:"type:text" json:"errorText,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_sms_dedup,priority:4" json:"createdAt"`
}

// SmsTypeForSeverity maps alert severity to the ledger message type.
func SmsTypeForSeverity(severity AlertSeverity) string {
	if severity == SeverityCritical {
		return "ALERT_CRITICAL"
	}
	return "ALERT_WARNING"
}

func GetAlertByID(db *gorm.DB, id uint) (*Alert, error) {
	var alert Alert
	if err := db.First(&alert, id).Error; err != nil {
		return nil, err
	}
	return &alert, nil
}

func GetRecipients(db *gorm.DB, alertID uint) ([]AlertRecipient, error) {
	var recipients []AlertRecipient
	if err := db.Where("alert_id = ?", alertID).Find(&recipients).Error; err != nil {
		return nil, err
	}
	return recipients, nil
}

func GetRecipient(db *gorm.DB, alertID, receiverID uint) (*AlertRecipient, error) {
	var r AlertRecipient
	err := db.Where("alert_id = ? AND receiver_id = ?", alertID, receiverID).First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RecentSmsExists reports whether an unexpired non-failed send already
// exists for the dedup key.
func RecentSmsExists(db *gorm.DB, phone, messageType string, refID uint, since time.Time) (bool, error) {
	var count int64
	err := db.Model(&SmsLog{}).
		Where("phone = ? AND message_type = ? AND ref_id = ? AND created_at >= ? AND status <> ?",
			phone, messageType, refID, since, SmsFailed).
		Count(&count).Error
	return count > 0, err
}

// HasNewerAttempt reports whether a later ledger row exists for the
// same (phone, type, reference) key. The resend sweep uses it to skip
// failed rows that were already retried.
func HasNewerAttempt(db *gorm.DB, entry *SmsLog) (bool, error) {
	var count int64
	err := db.Model(&SmsLog{}).
		Where("phone = ? AND message_type = ? AND ref_id = ? AND id > ?",
			entry.Phone, entry.MessageType, entry.RefID, entry.ID).
		Count(&count).Error
	return count > 0, err
}

// FailedSmsLogs returns FAILED ledger rows created after cutoff, for
// the resend sweep.
func FailedSmsLogs(db *gorm.DB, cutoff time.Time, limit int) ([]SmsLog, error) {
	var logs []SmsLog
	err := db.Where("status = ? AND created_at >= ?", SmsFailed, cutoff).
		Order("created_at ASC").Limit(limit).Find(&logs).Error
	return logs, err
}
