package vessel

import "time"

type Vessel struct {
	ID             string    `gorm:"column:id;primaryKey" json:"id"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`
	OrganizationID string    `gorm:"column:organization_id;index" json:"organization_id"`
	Name           string    `gorm:"column:name" json:"name"`
	IMONumber      string    `gorm:"column:imo_number" json:"imo_number"`
	Flag           string    `gorm:"column:flag" json:"flag"`
	VesselType     string    `gorm:"column:vessel_type" json:"vessel_type"`
}
