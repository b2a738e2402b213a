package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// POSLink is the write-once reference from a local row to its Clover
// counterpart. The zero value is Unlinked and is stored as NULL.
type POSLink struct {
	id string
}

var Unlinked = POSLink{}

func Linked(id string) POSLink {
	return POSLink{id: id}
}

// ID returns the remote ID and whether the row is linked at all.
func (l POSLink) ID() (string, bool) {
	return l.id, l.id != ""
}

func (l POSLink) IsLinked() bool {
	return l.id != ""
}

func (l POSLink) String() string {
	if l.id == "" {
		return "<unlinked>"
	}
	return l.id
}

func (l *POSLink) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		l.id = ""
	case string:
		l.id = v
	case []byte:
		l.id = string(v)
	default:
		return fmt.Errorf("failed to scan POSLink: %v", value)
	}
	return nil
}

func (l POSLink) Value() (driver.Value, error) {
	if l.id == "" {
		return nil, nil
	}
	return l.id, nil
}

func (POSLink) GormDataType() string {
	return "varchar(64)"
}

func (l POSLink) MarshalJSON() ([]byte, error) {
	if l.id == "" {
		return []byte("null"), nil
	}
	return json.Marshal(l.id)
}

func (l *POSLink) UnmarshalJSON(data []byte) error {
	var id *string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	l.id = ""
	if id != nil {
		l.id = *id
	}
	return nil
}

// RemoteCatalog is what the last catalog sync created on the POS for one
// menu item: modifier group ID -> modifier IDs inside it.
type RemoteCatalog struct {
	Groups map[string][]string `json:"groups"`
}

type CatalogSyncRecord struct {
	MenuItemID string                            `gorm:"type:varchar(36);primaryKey"`
	Remote     datatypes.JSONType[RemoteCatalog] `gorm:"not null"`
	SyncedAt   time.Time
}
