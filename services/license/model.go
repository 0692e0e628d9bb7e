package license

import (
	"time"

	"gorm.io/datatypes"
)

// ResourceKind is the closed set of countable portal resources a
// subscription gates. Adding a kind means provisioning a quota row for it
// on every plan.
type ResourceKind string

const (
	KindUsers         ResourceKind = "users"
	KindVessels       ResourceKind = "vessels"
	KindItems         ResourceKind = "items"
	KindEmployees     ResourceKind = "employees"
	KindBusinessUnits ResourceKind = "business_units"
)

func AllKinds() []ResourceKind {
	return []ResourceKind{KindUsers, KindVessels, KindItems, KindEmployees, KindBusinessUnits}
}

func (k ResourceKind) Valid() bool {
	switch k {
	case KindUsers, KindVessels, KindItems, KindEmployees, KindBusinessUnits:
		return true
	default:
		return false
	}
}

type LicenseStatus string

const (
	StatusActive    LicenseStatus = "active"
	StatusExpired   LicenseStatus = "expired"
	StatusSuspended LicenseStatus = "suspended"
	StatusRevoked   LicenseStatus = "revoked"
)

func (s LicenseStatus) String() string {
	switch s {
	case StatusActive, StatusExpired, StatusSuspended, StatusRevoked:
		return string(s)
	default:
		return ""
	}
}

// UsageMap maps a resource kind to a count. For limits, 0 means unlimited.
type UsageMap map[ResourceKind]int64

type License struct {
	ID               string         `gorm:"column:id;primaryKey"`
	CreatedAt        time.Time      `gorm:"column:created_at"`
	UpdatedAt        time.Time      `gorm:"column:updated_at"`
	OrganizationID   string         `gorm:"column:organization_id;index"`
	OrganizationType string         `gorm:"column:organization_type"`
	LicenseKey       string         `gorm:"column:license_key;uniqueIndex"`
	Status           LicenseStatus  `gorm:"column:status"`
	IssuedAt         time.Time      `gorm:"column:issued_at"`
	ExpiresAt        time.Time      `gorm:"column:expires_at"`
	Pricing          datatypes.JSON `gorm:"column:pricing"`
	PaymentID        string         `gorm:"column:payment_id;index"`
	Quotas           []LicenseQuota `gorm:"foreignKey:LicenseID"`
}

// LicenseQuota is one per-kind counter row under a license. Keeping each
// kind in its own row is what makes the reserve path a single conditional
// UPDATE instead of a read-modify-write on a document.
type LicenseQuota struct {
	ID             string       `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time    `gorm:"column:created_at"`
	UpdatedAt      time.Time    `gorm:"column:updated_at"`
	LicenseID      string       `gorm:"column:license_id;uniqueIndex:idx_license_quota_kind"`
	OrganizationID string       `gorm:"column:organization_id;index"`
	Kind           ResourceKind `gorm:"column:kind;uniqueIndex:idx_license_quota_kind"`
	LimitValue     int64        `gorm:"column:limit_value"`
	Used           int64        `gorm:"column:used"`
}

// LicensePayment is the durable record of every payment ever applied to a
// license. The licenses.payment_id column only tracks the newest
// application, so this history is what keeps a redelivered older payment a
// no-op after later payments have re-pointed the column.
type LicensePayment struct {
	ID             string    `gorm:"column:id;primaryKey"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	LicenseID      string    `gorm:"column:license_id;index"`
	OrganizationID string    `gorm:"column:organization_id;index"`
	PaymentID      string    `gorm:"column:payment_id;uniqueIndex"`
}

func (m *License) UsageLimits() UsageMap {
	out := make(UsageMap, len(m.Quotas))
	for _, q := range m.Quotas {
		out[q.Kind] = q.LimitValue
	}
	return out
}

func (m *License) CurrentUsage() UsageMap {
	out := make(UsageMap, len(m.Quotas))
	for _, q := range m.Quotas {
		out[q.Kind] = q.Used
	}
	return out
}

// EffectiveLicense is the read view every consumer outside the core uses.
// Status here is the computed effective status, never the raw stored field.
type EffectiveLicense struct {
	LicenseID        string        `json:"license_id"`
	OrganizationID   string        `json:"organization_id"`
	OrganizationType string        `json:"organization_type"`
	LicenseKey       string        `json:"license_key"`
	Status           LicenseStatus `json:"status"`
	IssuedAt         time.Time     `json:"issued_at"`
	ExpiresAt        time.Time     `json:"expires_at"`
	UsageLimits      UsageMap      `json:"usage_limits"`
	CurrentUsage     UsageMap      `json:"current_usage"`
}
