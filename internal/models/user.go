package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// User is a notifiable human: admin, counselor or guardian. The full
// account/profile lifecycle lives elsewhere; the alert flow only reads
// identity, role, phone and jurisdiction.
type User struct {
	ID    uint         `gorm:"primaryKey" json:"id"`
	Name  string       `gorm:"size:100;not null" json:"name"`
	Phone string       `gorm:"size:20" json:"phone"`
	Role  ReceiverRole `gorm:"type:varchar(20);not null;index" json:"role"`

	// RegionCode is the administrative region an admin is responsible
	// for; matched by prefix against a senior's region.
	RegionCode string `gorm:"size:10;index" json:"regionCode,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Senior is a monitored elderly person.
type Senior struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Name       string     `gorm:"size:100;not null" json:"name"`
	Phone      string     `gorm:"size:20" json:"phone"`
	BirthDate  *time.Time `json:"birthDate,omitempty"`
	RegionCode string     `gorm:"size:10;not null;index" json:"regionCode"`

	// GuardianID links the senior's guardian, if one is registered.
	GuardianID *uint `gorm:"index" json:"guardianId,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Age derives years from birth date; 0 when unknown.
func (s *Senior) Age(now time.Time) int {
	if s.BirthDate == nil {
		return 0
	}
	years := now.Year() - s.BirthDate.Year()
	if now.YearDay() < s.BirthDate.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// CounselorAssignment records which counselor currently covers a
// senior. Only the active row matters to the alert flow.
type CounselorAssignment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SeniorID    uint      `gorm:"not null;index:idx_assignment_senior_active,priority:1" json:"seniorId"`
	CounselorID uint      `gorm:"not null;index" json:"counselorId"`
	Active      bool      `gorm:"not null;default:true;index:idx_assignment_senior_active,priority:2" json:"active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func GetUserByID(db *gorm.DB, id uint) (*User, error) {
	var user User
	if err := db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetSeniorByID(db *gorm.DB, id uint) (*Senior, error) {
	var senior Senior
	if err := db.First(&senior, id).Error; err != nil {
		return nil, err
	}
	return &senior, nil
}

// ActiveCounselorID returns the senior's currently assigned counselor,
// or nil when none is active.
func ActiveCounselorID(db *gorm.DB, seniorID uint) (*uint, error) {
	var assignment CounselorAssignment
	err := db.Where("senior_id = ? AND active = ?", seniorID, true).
		Order("updated_at DESC").First(&assignment).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id := assignment.CounselorID
	return &id, nil
}

// RegionCovers reports whether an admin's jurisdiction code covers a
// senior's region code. Codes are hierarchical; both are truncated to
// prefixLen digits before comparison, and a shorter jurisdiction covers
// every region beneath it. prefixLen 0 demands an exact match.
func RegionCovers(jurisdiction, region string, prefixLen int) bool {
	if jurisdiction == "" || region == "" {
		return false
	}
	if prefixLen <= 0 {
		return jurisdiction == region
	}
	if len(jurisdiction) > prefixLen {
		jurisdiction = jurisdiction[:prefixLen]
	}
	if len(region) > prefixLen {
		region = region[:prefixLen]
	}
	return strings.HasPrefix(region, jurisdiction)
}

// AdminsForRegion returns every admin whose jurisdiction covers the
// region code, per RegionCovers.
func AdminsForRegion(db *gorm.DB, regionCode string, prefixLen int) ([]User, error) {
	var admins []User
	err := db.Where("role = ? AND region_code <> ''", RoleAdmin).Find(&admins).Error
	if err != nil {
		return nil, err
	}
	matched := make([]User, 0, len(admins))
	for _, admin := range admins {
		if RegionCovers(admin.RegionCode, regionCode, prefixLen) {
			matched = append(matched, admin)
		}
	}
	return matched, nil
}

// AutoMigrate creates the alert-flow tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Senior{},
		&CounselorAssignment{},
		&Alert{},
		&AlertRecipient{},
		&SmsLog{},
	)
}
