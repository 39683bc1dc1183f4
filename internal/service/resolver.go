package service

import (
	"gorm.io/gorm"

	"silvercare/internal/models"
)

// ResolvedRecipient is one human the fanout must reach, with the
// contact data delivery needs.
type ResolvedRecipient struct {
	UserID      uint
	Name        string
	Phone       string
	Role        models.ReceiverRole
	SmsRequired bool
}

// Resolver computes the distinct set of humans to notify for an alert:
// the snapshot counselor, the linked guardian and every admin whose
// jurisdiction covers the subject's region.
type Resolver struct {
	db              *gorm.DB
	regionPrefixLen int
	warningSMS      bool
}

func NewResolver(db *gorm.DB, regionPrefixLen int, warningSMS bool) *Resolver {
	return &Resolver{db: db, regionPrefixLen: regionPrefixLen, warningSMS: warningSMS}
}

// Resolve returns the deduplicated recipient set. A human holding two
// qualifying roles at once appears a single time, under the first role
// that matched (counselor before guardian before admin).
func (r *Resolver) Resolve(senior *models.Senior, counselorID *uint, severity models.AlertSeverity) ([]ResolvedRecipient, error) {
	smsRequired := severity == models.SeverityCritical || (severity == models.SeverityWarning && r.warningSMS)

	seen := make(map[uint]bool)
	var out []ResolvedRecipient

	add := func(user *models.User, role models.ReceiverRole) {
		if user == nil || seen[user.ID] {
			return
		}
		seen[user.ID] = true
		out = append(out, ResolvedRecipient{
			UserID:      user.ID,
			Name:        user.Name,
			Phone:       user.Phone,
			Role:        role,
			SmsRequired: smsRequired,
		})
	}

	if counselorID != nil {
		counselor, err := models.GetUserByID(r.db, *counselorID)
		if err != nil && err != gorm.ErrRecordNotFound {
			return nil, err
		}
		if err == nil {
			add(counselor, models.RoleCounselor)
		}
	}

	if senior.GuardianID != nil {
		guardian, err := models.GetUserByID(r.db, *senior.GuardianID)
		if err != nil && err != gorm.ErrRecordNotFound {
			return nil, err
		}
		if err == nil {
			add(guardian, models.RoleGuardian)
		}
	}

	admins, err := models.AdminsForRegion(r.db, senior.RegionCode, r.regionPrefixLen)
	if err != nil {
		return nil, err
	}
	for i := range admins {
		add(&admins[i], models.RoleAdmin)
	}

	return out, nil
}
