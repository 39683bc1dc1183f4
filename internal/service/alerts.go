package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"silvercare/internal/models"
	"silvercare/pkg/errors"
	"silvercare/pkg/logger"
	"silvercare/pkg/metrics"
	"silvercare/pkg/push"
)

// AlertService owns the alert state machine and the creation fanout.
// Creation persists the alert and its recipient rows in one
// transaction; live push and SMS dispatch run afterwards and are
// allowed to fail without touching the durable record.
type AlertService struct {
	db       *gorm.DB
	hub      *push.Hub
	resolver *Resolver
	sms      *SmsDispatcher
	tracker  *ReadTracker
}

func NewAlertService(db *gorm.DB, hub *push.Hub, resolver *Resolver, sms *SmsDispatcher, tracker *ReadTracker) *AlertService {
	return &AlertService{db: db, hub: hub, resolver: resolver, sms: sms, tracker: tracker}
}

type CreateAlertInput struct {
	SeniorID          uint
	CallSessionID     *uint
	Severity          models.AlertSeverity
	Category          models.AlertCategory
	Title             string
	Description       string
	DangerKeywords    []string
	TranscriptExcerpt string
}

// CreateAlert validates the subject, snapshots the assigned counselor,
// persists alert + recipients together and returns without waiting for
// either delivery channel.
func (s *AlertService) CreateAlert(ctx context.Context, in CreateAlertInput) (*models.Alert, error) {
	senior, err := models.GetSeniorByID(s.db, in.SeniorID)
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NotFound("senior")
	}
	if err != nil {
		return nil, errors.Wrap(err, "senior lookup failed")
	}

	counselorID, err := models.ActiveCounselorID(s.db, senior.ID)
	if err != nil {
		return nil, errors.Wrap(err, "counselor assignment lookup failed")
	}

	resolved, err := s.resolver.Resolve(senior, counselorID, in.Severity)
	if err != nil {
		return nil, errors.Wrap(err, "recipient resolution failed")
	}

	alert := &models.Alert{
		SeniorID:          senior.ID,
		CallSessionID:     in.CallSessionID,
		Severity:          in.Severity,
		Category:          in.Category,
		Title:             in.Title,
		Description:       in.Description,
		DangerKeywords:    in.DangerKeywords,
		TranscriptExcerpt: in.TranscriptExcerpt,
		Status:            models.StatusPending,
		CounselorID:       counselorID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(alert).Error; err != nil {
			return err
		}
		for _, r := range resolved {
			rcpt := models.AlertRecipient{
				AlertID:     alert.ID,
				ReceiverID:  r.UserID,
				Role:        r.Role,
				SmsRequired: r.SmsRequired,
				SmsStatus:   models.SmsPending,
			}
			if err := tx.Create(&rcpt).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "alert persistence failed")
	}

	metrics.AlertsCreated.WithLabelValues(string(alert.Severity), string(alert.Category)).Inc()
	logger.Info("alert created",
		zap.Uint("alert", alert.ID), zap.Uint("senior", senior.ID),
		zap.String("severity", string(alert.Severity)),
		zap.String("category", string(alert.Category)),
		zap.Int("recipients", len(resolved)))

	go s.dispatch(alert, senior, resolved)
	return alert, nil
}

// dispatch fans the alert out over both channels once the transaction
// has committed. Runs detached from the creating request.
func (s *AlertService) dispatch(alert *models.Alert, senior *models.Senior, resolved []ResolvedRecipient) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("alert dispatch panicked", zap.Any("panic", r), zap.Uint("alert", alert.ID))
		}
	}()

	payload := map[string]interface{}{
		"alertId":    alert.ID,
		"seniorId":   alert.SeniorID,
		"seniorName": senior.Name,
		"severity":   alert.Severity,
		"category":   alert.Category,
		"title":      alert.Title,
		"createdAt":  alert.CreatedAt,
	}

	ctx := context.Background()
	for _, r := range resolved {
		s.hub.Send(r.UserID, push.EventEmergencyAlert, payload)
		if r.SmsRequired {
			go s.sms.DispatchAlert(ctx, alert, senior, r)
		}
	}
}

// ProcessAlert applies one state-machine transition and notifies every
// recipient's live connections of the status change.
func (s *AlertService) ProcessAlert(ctx context.Context, alertID, actorID uint, target models.AlertStatus, note string) (*models.Alert, error) {
	switch target {
	case models.StatusInProgress, models.StatusResolved, models.StatusEscalated:
	default:
		return nil, errors.WithCodef(errors.CodeBadRequest, "unknown target status %q", target)
	}

	alert, err := models.GetAlertByID(s.db, alertID)
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NotFound("alert")
	}
	if err != nil {
		return nil, errors.Wrap(err, "alert lookup failed")
	}

	if _, err := models.GetUserByID(s.db, actorID); err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NotFound("user")
		}
		return nil, errors.Wrap(err, "actor lookup failed")
	}

	if !alert.Status.CanTransitionTo(target) {
		return nil, errors.InvalidTransition(string(alert.Status), string(target))
	}

	now := time.Now()
	updates := map[string]interface{}{"status": target}
	if target.Terminal() {
		updates["processed_by"] = actorID
		updates["processed_at"] = now
		updates["resolution_note"] = note
	}

	// Guard the transition at the database too, so two concurrent
	// processors cannot both win.
	res := s.db.Model(&models.Alert{}).
		Where("id = ? AND status = ?", alert.ID, alert.Status).
		Updates(updates)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "alert update failed")
	}
	if res.RowsAffected == 0 {
		fresh, ferr := models.GetAlertByID(s.db, alertID)
		from := string(alert.Status)
		if ferr == nil {
			from = string(fresh.Status)
		}
		return nil, errors.InvalidTransition(from, string(target))
	}

	alert.Status = target
	if target.Terminal() {
		alert.ProcessedBy = &actorID
		alert.ProcessedAt = &now
		alert.ResolutionNote = note
	}

	logger.Info("alert processed",
		zap.Uint("alert", alert.ID), zap.Uint("actor", actorID), zap.String("status", string(target)))

	go s.notifyStatusChange(alert.ID, target)
	return alert, nil
}

// notifyStatusChange pushes a lightweight {alertId, status} event to
// every recipient; not a full re-fanout.
func (s *AlertService) notifyStatusChange(alertID uint, status models.AlertStatus) {
	recipients, err := models.GetRecipients(s.db, alertID)
	if err != nil {
		logger.Warn("status-change push skipped", zap.Error(err), zap.Uint("alert", alertID))
		return
	}
	payload := map[string]interface{}{"alertId": alertID, "status": status}
	for _, r := range recipients {
		s.hub.Send(r.ReceiverID, push.EventAlertStatusUpdate, payload)
	}
}

// AlertDetail joins the alert with its recipient rows.
type AlertDetail struct {
	Alert      models.Alert            `json:"alert"`
	Recipients []models.AlertRecipient `json:"recipients"`
}

// GetDetail returns the alert plus all recipient state and marks the
// requester's row read as a side effect. Detail is visible only to the
// alert's recipients: everyone with a legitimate claim on the alert is
// in the fanout set, and the transcript excerpt must not leak beyond
// it. Non-recipients get the same NotFound an absent alert produces.
func (s *AlertService) GetDetail(alertID, requesterID uint) (*AlertDetail, error) {
	alert, err := models.GetAlertByID(s.db, alertID)
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NotFound("alert")
	}
	if err != nil {
		return nil, errors.Wrap(err, "alert lookup failed")
	}

	if _, err := models.GetRecipient(s.db, alertID, requesterID); err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.NotFound("alert")
		}
		return nil, errors.Wrap(err, "recipient lookup failed")
	}

	if err := s.tracker.MarkRead(alertID, requesterID); err != nil && !errors.IsCode(err, errors.CodeNotFound) {
		logger.Warn("implicit read-ack failed", zap.Error(err),
			zap.Uint("alert", alertID), zap.Uint("user", requesterID))
	}

	recipients, err := models.GetRecipients(s.db, alertID)
	if err != nil {
		return nil, errors.Wrap(err, "recipient lookup failed")
	}
	return &AlertDetail{Alert: *alert, Recipients: recipients}, nil
}

// ListFilter narrows and pages the role-scoped list queries.
type ListFilter struct {
	Status   models.AlertStatus
	Severity models.AlertSeverity
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

func (f ListFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("alerts.status = ?", f.Status)
	}
	if f.Severity != "" {
		q = q.Where("alerts.severity = ?", f.Severity)
	}
	if f.From != nil {
		q = q.Where("alerts.created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("alerts.created_at < ?", *f.To)
	}
	return q
}

func (f ListFilter) page() (offset, limit int) {
	size := f.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * size, size
}

// ListForCounselor lists alerts whose creation-time assignment points
// at the counselor.
func (s *AlertService) ListForCounselor(counselorID uint, f ListFilter) ([]models.Alert, int64, error) {
	q := f.apply(s.db.Model(&models.Alert{}).Where("counselor_id = ?", counselorID))
	return s.listAlerts(q, f)
}

// ListPendingForCounselor is the counselor's work queue.
func (s *AlertService) ListPendingForCounselor(counselorID uint) ([]models.Alert, error) {
	var alerts []models.Alert
	err := s.db.Where("counselor_id = ? AND status = ?", counselorID, models.StatusPending).
		Order("CASE severity WHEN 'CRITICAL' THEN 0 ELSE 1 END, created_at DESC").
		Find(&alerts).Error
	if err != nil {
		return nil, errors.Wrap(err, "pending list failed")
	}
	return alerts, nil
}

// ListForReceiver lists alerts the user was fanned out to; serves both
// admins and guardians.
func (s *AlertService) ListForReceiver(userID uint, f ListFilter) ([]models.Alert, int64, error) {
	q := f.apply(s.db.Model(&models.Alert{}).
		Joins("JOIN alert_recipients ON alert_recipients.alert_id = alerts.id").
		Where("alert_recipients.receiver_id = ?", userID))
	return s.listAlerts(q, f)
}

func (s *AlertService) listAlerts(q *gorm.DB, f ListFilter) ([]models.Alert, int64, error) {
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "alert count failed")
	}
	offset, limit := f.page()
	var alerts []models.Alert
	err := q.Order("alerts.created_at DESC").Offset(offset).Limit(limit).Find(&alerts).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "alert list failed")
	}
	return alerts, total, nil
}
