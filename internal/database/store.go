package database

import (
	"context"
	"errors"
	"time"

	"clubhouse-system/internal/database/models"
	"clubhouse-system/internal/lifecycle"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrStaleState    = errors.New("order changed concurrently")
	ErrAlreadyLinked = errors.New("record already linked to a different POS id")
	ErrDuplicate     = errors.New("duplicate record")
)

// LinkTarget names a table carrying a write-once POS link column.
type LinkTarget string

const (
	LinkOrder        LinkTarget = "order"
	LinkMenuItem     LinkTarget = "menu_item"
	LinkCategory     LinkTarget = "category"
	LinkOptionGroup  LinkTarget = "option_group"
	LinkOptionChoice LinkTarget = "option_choice"
	LinkNestedGroup  LinkTarget = "nested_option_group"
	LinkNestedChoice LinkTarget = "nested_option_choice"
)

type StockLevel struct {
	MenuItemID   string
	CloverItemID models.POSLink
	Stock        int
	// Oversold is how far below zero the decrement would have gone.
	Oversold int
}

type PaymentConfirmation struct {
	Applied bool
	Stock   []StockLevel
}

// StatusWrite is one conditional status update. It only applies while the
// order is still in From; the driver fields add ownership preconditions.
type StatusWrite struct {
	OrderID string
	From    lifecycle.Status
	To      lifecycle.Status
	ActorID string

	// ClaimDriver sets driver_id to ActorID, only if unassigned or already ActorID.
	ClaimDriver bool
	// RequireDriver restricts the write to orders assigned to this driver.
	RequireDriver *string

	OpenCashCollection *models.CashCollection
}

type ReleaseWrite struct {
	OrderID  string
	DriverID string
	From     lifecycle.Status
}

// Target is the status an order returns to when its driver lets go of it.
// Orders already out with the driver roll back to ORDER_READY; earlier
// states are left as they are.
func (w ReleaseWrite) Target() lifecycle.Status {
	switch w.From {
	case lifecycle.StatusPickedUpByDriver, lifecycle.StatusOnTheWay:
		return lifecycle.StatusOrderReady
	}
	return w.From
}

type Settlement struct {
	OrderID        string
	SettledBy      string
	ReceivedAmount string
	At             time.Time
}

// Store is the full persistence surface. Services depend on narrower
// interfaces declared next to them.
type Store interface {
	CreateCategory(ctx context.Context, c *models.Category) error
	CreateMenuItem(ctx context.Context, item *models.MenuItem) error
	CreateOrder(ctx context.Context, order *models.Order) error

	GetOrder(ctx context.Context, id string) (*models.Order, error)
	FindOrderByReference(ctx context.Context, ref string) (*models.Order, error)
	FindOrderByCheckoutSession(ctx context.Context, sessionID string) (*models.Order, error)
	ListStatusHistory(ctx context.Context, orderID string) ([]models.StatusHistoryEntry, error)
	ListBackfillCandidates(ctx context.Context, limit int) ([]string, error)

	ConfirmPayment(ctx context.Context, orderID string) (*PaymentConfirmation, error)
	ApplyStatus(ctx context.Context, w StatusWrite) error
	SetDriver(ctx context.Context, orderID string, driverID *string) error
	ClaimDriver(ctx context.Context, orderID, driverID string) error
	ReleaseDriver(ctx context.Context, w ReleaseWrite) error

	GetCashCollection(ctx context.Context, orderID string) (*models.CashCollection, error)
	SettleCashCollection(ctx context.Context, s Settlement) (*models.CashCollection, bool, error)
	RevertCashCollection(ctx context.Context, orderID string) (*models.CashCollection, error)

	GetMenuItem(ctx context.Context, id string) (*models.MenuItem, error)
	FindMenuItemsByCloverIDs(ctx context.Context, cloverIDs []string) ([]models.MenuItem, error)
	SetMenuItemStock(ctx context.Context, id string, stock int) error
	GetCatalogSyncRecord(ctx context.Context, menuItemID string) (*models.CatalogSyncRecord, error)
	SaveCatalogSyncRecord(ctx context.Context, rec *models.CatalogSyncRecord) error

	Link(ctx context.Context, target LinkTarget, id, cloverID string) error
}
