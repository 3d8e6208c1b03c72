// 文件: pkg/store/repository.go
// 估值台账仓库 (GORM / MySQL)

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("valuation record not found")

// Repository 台账仓库接口
type Repository interface {
	// 写入
	Save(ctx context.Context, rec *ValuationRecord) error
	BatchSave(ctx context.Context, recs []*ValuationRecord) error

	// 查询
	GetByRunID(ctx context.Context, runID int64) ([]*ValuationRecord, error)
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]*ValuationRecord, error)
}

// OpenMySQL 连接 MySQL 并迁移表结构
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.AutoMigrate(&ValuationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate valuation_records: %w", err)
	}
	return db, nil
}

// MySQLRepository GORM 实现
type MySQLRepository struct {
	db *gorm.DB
}

func NewMySQLRepository(db *gorm.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

// Save 写入一条记录 (幂等，重复的 run_id + method 忽略)
func (r *MySQLRepository) Save(ctx context.Context, rec *ValuationRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.Insert{Modifier: "IGNORE"}).
		Create(rec).Error
}

// BatchSave 批量写入 (幂等)
func (r *MySQLRepository) BatchSave(ctx context.Context, recs []*ValuationRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.Insert{Modifier: "IGNORE"}).
		CreateInBatches(recs, 100). // 每批 100 条
		Error
}

// GetByRunID 查询一次估值的全部方法
func (r *MySQLRepository) GetByRunID(ctx context.Context, runID int64) ([]*ValuationRecord, error) {
	var recs []*ValuationRecord
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("method ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs, nil
}

// ListBySymbol 按合约查询最近的记录
func (r *MySQLRepository) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*ValuationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []*ValuationRecord
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}
