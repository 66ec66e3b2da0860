// Package domain contains tax reference data applied at invoice creation.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TaxDefinition is a stateless tax policy. The code is a stable,
// engine-facing identifier; name and description are editable.
type TaxDefinition struct {
	ID snowflake.ID `gorm:"primaryKey"`

	Name string `gorm:"type:text;not null"`
	Code string `gorm:"type:text;not null;uniqueIndex:ux_tax_definitions_code"`
	// Rate is a fraction (e.g. 0.11 for 11%), nil if placeholder.
	Rate *float64 `gorm:"type:numeric(6,4)"`

	Description *string `gorm:"type:text"`

	IsEnabled bool `gorm:"column:is_enabled;not null;default:true"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (TaxDefinition) TableName() string { return "tax_definitions" }

func (t *TaxDefinition) Validate() error {
	if t.Code == "" {
		return ErrInvalidTaxCode
	}
	if t.Rate != nil && (*t.Rate < 0 || *t.Rate > 1) {
		return ErrInvalidTaxRate
	}
	return nil
}
