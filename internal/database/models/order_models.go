package models

import (
	"time"

	"clubhouse-system/internal/lifecycle"

	"gorm.io/datatypes"
)

type Order struct {
	ID                string           `gorm:"type:varchar(36);primaryKey"`
	OrderCode         string           `gorm:"size:32;uniqueIndex;not null"`
	CheckoutSessionID *string          `gorm:"size:128;index"`
	CloverOrderID     POSLink          `gorm:"column:clover_order_id;index"`
	Status            lifecycle.Status `gorm:"type:varchar(32);not null;index"`

	PaymentMethod   lifecycle.PaymentMethod `gorm:"type:varchar(8);not null"`
	DeliveryType    lifecycle.DeliveryType  `gorm:"type:varchar(32);not null"`
	ContainsAlcohol bool                    `gorm:"not null;default:false"`
	AgeVerified     bool                    `gorm:"not null;default:false"`
	ScheduledFor    *time.Time

	DriverID   *string `gorm:"type:varchar(36);index"`
	StaffID    *string `gorm:"type:varchar(36)"`
	CustomerID *string `gorm:"type:varchar(36)"`
	GuestName  *string `gorm:"size:128"`

	// Financial snapshot written at checkout. Never recomputed here.
	Subtotal              string `gorm:"type:varchar(32);not null;default:'0.00'"`
	Tax                   string `gorm:"type:varchar(32);not null;default:'0.00'"`
	Tip                   string `gorm:"type:varchar(32);not null;default:'0.00'"`
	DeliveryFee           string `gorm:"type:varchar(32);not null;default:'0.00'"`
	RestaurantDeliveryFee string `gorm:"type:varchar(32);not null;default:'0.00'"`
	TotalDeliveryFee      string `gorm:"type:varchar(32);not null;default:'0.00'"`
	TotalAmount           string `gorm:"type:varchar(32);not null;default:'0.00'"`
	DriverPayout          string `gorm:"type:varchar(32);not null;default:'0.00'"`

	LegacyItems datatypes.JSONType[[]LegacyItem]

	CreatedAt time.Time
	UpdatedAt time.Time

	Items          []OrderItem          `gorm:"foreignKey:OrderID"`
	StatusHistory  []StatusHistoryEntry `gorm:"foreignKey:OrderID"`
	CashCollection *CashCollection      `gorm:"foreignKey:OrderID"`
}

// LegacyItem is the embedded line representation older orders carry instead
// of structured OrderItem rows.
type LegacyItem struct {
	MenuItemID string `json:"menuItemId,omitempty"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	Price      string `json:"price"`
}

type SelectedOption struct {
	ChoiceID        string   `json:"choiceId"`
	NestedChoiceIDs []string `json:"nestedChoiceIds,omitempty"`
}

type OrderItem struct {
	ID                  string  `gorm:"type:varchar(36);primaryKey"`
	OrderID             string  `gorm:"type:varchar(36);index;not null"`
	Position            int     `gorm:"not null;default:0"`
	MenuItemID          string  `gorm:"type:varchar(36);index;not null"`
	Quantity            int     `gorm:"not null"`
	UnitPrice           string  `gorm:"type:varchar(32);not null"`
	SpecialInstructions *string `gorm:"type:text"`
	SpiceLevel          *string `gorm:"size:32"`
	CreatedAt           time.Time

	SelectedOptions datatypes.JSONType[[]SelectedOption]

	MenuItem *MenuItem `gorm:"foreignKey:MenuItemID"`
}

type StatusHistoryEntry struct {
	ID        string           `gorm:"type:varchar(36);primaryKey"`
	OrderID   string           `gorm:"type:varchar(36);index;not null"`
	Status    lifecycle.Status `gorm:"type:varchar(32);not null"`
	ActorID   *string          `gorm:"type:varchar(36)"`
	CreatedAt time.Time
}

type CashCollectionStatus string

const (
	CashPending CashCollectionStatus = "PENDING"
	CashSettled CashCollectionStatus = "SETTLED"
)

type CashCollection struct {
	ID             string               `gorm:"type:varchar(36);primaryKey"`
	OrderID        string               `gorm:"type:varchar(36);uniqueIndex;not null"`
	Status         CashCollectionStatus `gorm:"type:varchar(16);not null;index"`
	CollectedBy    string               `gorm:"type:varchar(36);not null"`
	Amount         string               `gorm:"type:varchar(32);not null"`
	ReceivedAmount *string              `gorm:"type:varchar(32)"`
	SettledBy      *string              `gorm:"type:varchar(36)"`
	SettledAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
