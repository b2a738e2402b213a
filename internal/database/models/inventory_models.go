package models

import "time"

type Category struct {
	ID               string  `gorm:"type:varchar(36);primaryKey"`
	Name             string  `gorm:"size:128;uniqueIndex;not null"`
	CloverCategoryID POSLink `gorm:"column:clover_category_id"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type MenuItem struct {
	ID           string  `gorm:"type:varchar(36);primaryKey"`
	Name         string  `gorm:"size:255;not null"`
	Description  *string `gorm:"type:text"`
	Price        string  `gorm:"type:varchar(32);not null"`
	Stock        int     `gorm:"not null;default:0"`
	IsAvailable  bool    `gorm:"not null;default:true"`
	CategoryID   *string `gorm:"type:varchar(36);index"`
	CloverItemID POSLink `gorm:"column:clover_item_id;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Category     *Category     `gorm:"foreignKey:CategoryID"`
	OptionGroups []OptionGroup `gorm:"foreignKey:MenuItemID"`
}

type OptionGroup struct {
	ID            string  `gorm:"type:varchar(36);primaryKey"`
	MenuItemID    string  `gorm:"type:varchar(36);index;not null"`
	Title         string  `gorm:"size:128;not null"`
	Required      bool    `gorm:"not null;default:false"`
	MinSelect     int     `gorm:"not null;default:0"`
	MaxSelect     int     `gorm:"not null;default:1"`
	SortOrder     int     `gorm:"not null;default:0"`
	CloverGroupID POSLink `gorm:"column:clover_group_id"`

	Choices []OptionChoice `gorm:"foreignKey:OptionGroupID"`
}

type OptionChoice struct {
	ID               string  `gorm:"type:varchar(36);primaryKey"`
	OptionGroupID    string  `gorm:"type:varchar(36);index;not null"`
	Label            string  `gorm:"size:128;not null"`
	PriceDelta       string  `gorm:"type:varchar(32);not null;default:'0.00'"`
	SortOrder        int     `gorm:"not null;default:0"`
	CloverModifierID POSLink `gorm:"column:clover_modifier_id"`

	NestedGroup *NestedOptionGroup `gorm:"foreignKey:ParentChoiceID"`
}

// NestedOptionGroup hangs off a single choice. Only one level of nesting exists.
type NestedOptionGroup struct {
	ID             string  `gorm:"type:varchar(36);primaryKey"`
	ParentChoiceID string  `gorm:"type:varchar(36);uniqueIndex;not null"`
	Title          string  `gorm:"size:128;not null"`
	CloverGroupID  POSLink `gorm:"column:clover_group_id"`

	Choices []NestedOptionChoice `gorm:"foreignKey:NestedGroupID"`
}

type NestedOptionChoice struct {
	ID               string  `gorm:"type:varchar(36);primaryKey"`
	NestedGroupID    string  `gorm:"type:varchar(36);index;not null"`
	Label            string  `gorm:"size:128;not null"`
	PriceDelta       string  `gorm:"type:varchar(32);not null;default:'0.00'"`
	SortOrder        int     `gorm:"not null;default:0"`
	CloverModifierID POSLink `gorm:"column:clover_modifier_id"`
}
