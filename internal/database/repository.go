package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"clubhouse-system/internal/database/models"
	"clubhouse-system/internal/lifecycle"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pgUniqueViolation = "23505"

// Repository is the postgres-backed Store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// --- Seeding ---

func (r *Repository) CreateCategory(ctx context.Context, c *models.Category) error {
	ensureID(&c.ID)
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("category %q: %w", c.Name, ErrDuplicate)
		}
		return err
	}
	return nil
}

func (r *Repository) CreateMenuItem(ctx context.Context, item *models.MenuItem) error {
	AssignMenuItemIDs(item)
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("menu item %s: %w", item.ID, ErrDuplicate)
		}
		return err
	}
	return nil
}

func (r *Repository) CreateOrder(ctx context.Context, order *models.Order) error {
	AssignOrderIDs(order)
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %s: %w", order.OrderCode, ErrDuplicate)
		}
		return err
	}
	return nil
}

// --- Orders ---

func (r *Repository) orderQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Items.MenuItem.OptionGroups.Choices.NestedGroup.Choices").
		Preload("CashCollection")
}

func (r *Repository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	if err := r.orderQuery(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (r *Repository) FindOrderByReference(ctx context.Context, ref string) (*models.Order, error) {
	var order models.Order
	if err := r.orderQuery(ctx).Where("id = ? OR order_code = ?", ref, ref).First(&order).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (r *Repository) FindOrderByCheckoutSession(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	if err := r.orderQuery(ctx).Where("checkout_session_id = ?", sessionID).First(&order).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (r *Repository) ListStatusHistory(ctx context.Context, orderID string) ([]models.StatusHistoryEntry, error) {
	var entries []models.StatusHistoryEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

func (r *Repository) ListBackfillCandidates(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Joins("LEFT JOIN cash_collections ON cash_collections.order_id = orders.id").
		Where("orders.status = ?", lifecycle.StatusDelivered).
		Where("(orders.clover_order_id IS NULL OR cash_collections.status = ?)", models.CashPending).
		Order("orders.created_at ASC").
		Limit(limit).
		Pluck("orders.id", &ids).Error
	return ids, err
}

func (r *Repository) ConfirmPayment(ctx context.Context, orderID string) (*PaymentConfirmation, error) {
	result := &PaymentConfirmation{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", orderID, lifecycle.StatusPendingPayment).
			Updates(map[string]interface{}{"status": lifecycle.StatusOrderReceived, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		result.Applied = true

		// Payment confirmation has no human actor.
		if err := tx.Create(HistoryEntry(orderID, lifecycle.StatusOrderReceived, "", now)).Error; err != nil {
			return err
		}

		var order models.Order
		if err := tx.Preload("Items").Where("id = ?", orderID).First(&order).Error; err != nil {
			return err
		}

		ids, quantities := OrderQuantities(&order)
		for _, menuItemID := range ids {
			var item models.MenuItem
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Select("id", "stock", "clover_item_id").
				Where("id = ?", menuItemID).
				First(&item).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("[payments] order %s references unknown menu item %s", orderID, menuItemID)
				continue
			}
			if err != nil {
				return err
			}

			level := Decrement(item.ID, item.CloverItemID, item.Stock, quantities[menuItemID])
			if err := tx.Model(&models.MenuItem{}).
				Where("id = ?", item.ID).
				Updates(map[string]interface{}{"stock": level.Stock, "updated_at": now}).Error; err != nil {
				return err
			}
			result.Stock = append(result.Stock, level)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Repository) ApplyStatus(ctx context.Context, w StatusWrite) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		updates := map[string]interface{}{"status": w.To, "updated_at": now}

		q := tx.Model(&models.Order{}).Where("id = ? AND status = ?", w.OrderID, w.From)
		if w.ClaimDriver {
			q = q.Where("(driver_id IS NULL OR driver_id = ?)", w.ActorID)
			updates["driver_id"] = w.ActorID
		}
		if w.RequireDriver != nil {
			q = q.Where("driver_id = ?", *w.RequireDriver)
		}

		res := q.Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleState
		}

		if err := tx.Create(HistoryEntry(w.OrderID, w.To, w.ActorID, now)).Error; err != nil {
			return err
		}

		if w.OpenCashCollection == nil {
			return nil
		}
		cc := *w.OpenCashCollection
		ensureID(&cc.ID)
		// Savepoint so a duplicate does not abort the outer transaction.
		err := tx.Transaction(func(sp *gorm.DB) error {
			return sp.Create(&cc).Error
		})
		if err != nil && isUniqueViolation(err) {
			log.Printf("[orders] cash collection for order %s already exists", w.OrderID)
			return nil
		}
		return err
	})
}

func (r *Repository) SetDriver(ctx context.Context, orderID string, driverID *string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status NOT IN ?", orderID, []lifecycle.Status{lifecycle.StatusDelivered, lifecycle.StatusCancelled}).
		Updates(map[string]interface{}{"driver_id": driverID, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.staleOrMissing(ctx, orderID)
	}
	return nil
}

// ClaimDriver assigns driverID only while the order has no driver, so
// concurrent claims produce a single winner.
func (r *Repository) ClaimDriver(ctx context.Context, orderID, driverID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status NOT IN ?", orderID, []lifecycle.Status{lifecycle.StatusDelivered, lifecycle.StatusCancelled}).
		Where("(driver_id IS NULL OR driver_id = ?)", driverID).
		Updates(map[string]interface{}{"driver_id": driverID, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.staleOrMissing(ctx, orderID)
	}
	return nil
}

func (r *Repository) ReleaseDriver(ctx context.Context, w ReleaseWrite) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		target := w.Target()
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ? AND driver_id = ?", w.OrderID, w.From, w.DriverID).
			Updates(map[string]interface{}{
				"driver_id":  nil,
				"status":     target,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleState
		}

		if target != w.From {
			if err := tx.Create(HistoryEntry(w.OrderID, target, w.DriverID, now)).Error; err != nil {
				return err
			}
		}

		return tx.Where("order_id = ? AND status = ?", w.OrderID, models.CashPending).
			Delete(&models.CashCollection{}).Error
	})
}

func (r *Repository) staleOrMissing(ctx context.Context, orderID string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrStaleState
}

// --- Cash collections ---

func (r *Repository) GetCashCollection(ctx context.Context, orderID string) (*models.CashCollection, error) {
	var cc models.CashCollection
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&cc).Error; err != nil {
		return nil, notFound(err)
	}
	return &cc, nil
}

func (r *Repository) SettleCashCollection(ctx context.Context, s Settlement) (*models.CashCollection, bool, error) {
	var cc models.CashCollection
	changed := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", s.OrderID).
			First(&cc).Error; err != nil {
			return notFound(err)
		}
		if cc.Status == models.CashSettled {
			return nil
		}

		cc.Status = models.CashSettled
		cc.SettledBy = &s.SettledBy
		cc.SettledAt = &s.At
		if s.ReceivedAmount != "" {
			cc.ReceivedAmount = &s.ReceivedAmount
		}
		changed = true
		return tx.Save(&cc).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &cc, changed, nil
}

func (r *Repository) RevertCashCollection(ctx context.Context, orderID string) (*models.CashCollection, error) {
	var cc models.CashCollection
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderID).
			First(&cc).Error; err != nil {
			return notFound(err)
		}
		cc.Status = models.CashPending
		cc.SettledBy = nil
		cc.SettledAt = nil
		cc.ReceivedAmount = nil
		return tx.Save(&cc).Error
	})
	if err != nil {
		return nil, err
	}
	return &cc, nil
}

// --- Catalog ---

func (r *Repository) GetMenuItem(ctx context.Context, id string) (*models.MenuItem, error) {
	var item models.MenuItem
	err := r.db.WithContext(ctx).
		Preload("Category").
		Preload("OptionGroups", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Preload("OptionGroups.Choices", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Preload("OptionGroups.Choices.NestedGroup.Choices", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Where("id = ?", id).
		First(&item).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (r *Repository) FindMenuItemsByCloverIDs(ctx context.Context, cloverIDs []string) ([]models.MenuItem, error) {
	var items []models.MenuItem
	if len(cloverIDs) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).
		Select("id", "stock", "clover_item_id").
		Where("clover_item_id IN ?", cloverIDs).
		Find(&items).Error
	return items, err
}

func (r *Repository) SetMenuItemStock(ctx context.Context, id string, stock int) error {
	res := r.db.WithContext(ctx).
		Model(&models.MenuItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"stock": stock, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) GetCatalogSyncRecord(ctx context.Context, menuItemID string) (*models.CatalogSyncRecord, error) {
	var rec models.CatalogSyncRecord
	if err := r.db.WithContext(ctx).Where("menu_item_id = ?", menuItemID).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *Repository) SaveCatalogSyncRecord(ctx context.Context, rec *models.CatalogSyncRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "menu_item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"remote", "synced_at"}),
		}).
		Create(rec).Error
}

var linkColumns = map[LinkTarget]struct {
	model  interface{}
	column string
}{
	LinkOrder:        {&models.Order{}, "clover_order_id"},
	LinkMenuItem:     {&models.MenuItem{}, "clover_item_id"},
	LinkCategory:     {&models.Category{}, "clover_category_id"},
	LinkOptionGroup:  {&models.OptionGroup{}, "clover_group_id"},
	LinkOptionChoice: {&models.OptionChoice{}, "clover_modifier_id"},
	LinkNestedGroup:  {&models.NestedOptionGroup{}, "clover_group_id"},
	LinkNestedChoice: {&models.NestedOptionChoice{}, "clover_modifier_id"},
}

// Link writes a POS id once. Re-linking to the same id is a no-op; a
// different id returns ErrAlreadyLinked.
func (r *Repository) Link(ctx context.Context, target LinkTarget, id, cloverID string) error {
	spec, ok := linkColumns[target]
	if !ok {
		return fmt.Errorf("unknown link target %q", target)
	}

	res := r.db.WithContext(ctx).
		Model(spec.model).
		Where("id = ? AND "+spec.column+" IS NULL", id).
		Update(spec.column, cloverID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var current models.POSLink
	err := r.db.WithContext(ctx).
		Model(spec.model).
		Where("id = ?", id).
		Select(spec.column).
		Row().
		Scan(&current)
	if err != nil {
		return ErrNotFound
	}
	if existing, _ := current.ID(); existing == cloverID {
		return nil
	}
	return fmt.Errorf("%s %s: %w", target, id, ErrAlreadyLinked)
}
