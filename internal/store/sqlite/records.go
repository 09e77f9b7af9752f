package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"pbroadmap/internal/store"
	"pbroadmap/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// collection implements store.KeyValueStore on the kv_records table.
type collection struct {
	db   *gorm.DB
	name string
}

func (c *collection) record(key string, value any, now int64) (*model.RecordModel, error) {
	if key == "" {
		return nil, store.ErrEmptyKey
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode record %s/%s: %w", c.name, key, err)
	}
	return &model.RecordModel{
		Store:         c.name,
		Key:           key,
		Value:         datatypes.JSON(raw),
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}, nil
}

// SetValue upserts the record; created_at is kept on update.
func (c *collection) SetValue(ctx context.Context, key string, value any) error {
	rec, err := c.record(key, value, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store"}, {Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(rec).Error
}

func (c *collection) GetValue(ctx context.Context, key string, dest any) (bool, error) {
	var rec model.RecordModel
	err := c.db.WithContext(ctx).
		Where("store = ? AND record_key = ?", c.name, key).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if dest == nil {
		return true, nil
	}
	if err := json.Unmarshal(rec.Value, dest); err != nil {
		return true, fmt.Errorf("decode record %s/%s: %w", c.name, rec.Key, err)
	}
	return true, nil
}

func (c *collection) ForEachKey(ctx context.Context, fn func(key string, value json.RawMessage) error) error {
	var rows []model.RecordModel
	if err := c.db.WithContext(ctx).
		Where("store = ?", c.name).
		Order("record_key").
		Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		if err := fn(row.Key, json.RawMessage(row.Value)); err != nil {
			return err
		}
	}
	return nil
}

func (c *collection) ReplaceAll(ctx context.Context, values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	now := time.Now().UnixMilli()
	recs := make([]*model.RecordModel, 0, len(keys))
	for _, k := range keys {
		rec, err := c.record(k, values[k], now)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("store = ?", c.name).Delete(&model.RecordModel{}).Error; err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		return tx.CreateInBatches(recs, 100).Error
	})
}

func (c *collection) Clear(ctx context.Context) error {
	return c.db.WithContext(ctx).Where("store = ?", c.name).Delete(&model.RecordModel{}).Error
}
