package model

import (
	"time"

	"gorm.io/datatypes"
)

// RecordModel is one key-value record; Store names the collection it belongs to.
type RecordModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	Store         string         `gorm:"column:store;uniqueIndex:idx_record_store_key,priority:1"`
	Key           string         `gorm:"column:record_key;uniqueIndex:idx_record_store_key,priority:2"`
	Value         datatypes.JSON `gorm:"column:value;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`

	CreatedAt time.Time `gorm:"-"`
	UpdatedAt time.Time `gorm:"-"`
}

func (RecordModel) TableName() string { return "kv_records" }
