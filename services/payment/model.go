package payment

import (
	"time"

	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	StatusPending PaymentStatus = "pending"
	StatusSuccess PaymentStatus = "success"
	StatusFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) String() string {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed:
		return string(s)
	default:
		return ""
	}
}

// Payment is the durable record of a gateway notification or a manual
// administrative approval. The gateway's payment id is the primary key, so
// redelivered notifications collide instead of duplicating.
type Payment struct {
	ID               string         `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt        time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"column:updated_at" json:"updated_at"`
	OrganizationID   string         `gorm:"column:organization_id;index" json:"organization_id"`
	OrganizationType string         `gorm:"column:organization_type" json:"organization_type"`
	Status           PaymentStatus  `gorm:"column:status" json:"status"`
	Amount           int64          `gorm:"column:amount" json:"amount"`
	Currency         string         `gorm:"column:currency" json:"currency"`
	PlanCode         string         `gorm:"column:plan_code" json:"plan_code"`
	PeriodStart      time.Time      `gorm:"column:period_start" json:"period_start"`
	PeriodEnd        time.Time      `gorm:"column:period_end" json:"period_end"`
	UsageLimits      datatypes.JSON `gorm:"column:usage_limits" json:"usage_limits"`
	Pricing          datatypes.JSON `gorm:"column:pricing" json:"pricing,omitempty"`
	Manual           bool           `gorm:"column:manual" json:"manual"`
}
