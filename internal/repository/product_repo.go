package repository

import (
	"context"
	"errors"

	"trademall/internal/model"
	"trademall/pkg/apperr"

	"gorm.io/gorm"
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *ProductRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Product, error) {
	if tx == nil {
		tx = r.db
	}
	var product model.Product
	err := tx.WithContext(ctx).Where("id = ?", id).First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "产品不存在")
		}
		return nil, err
	}
	return &product, nil
}

// ListActive 取全部上架产品，计划抽取用
// 目录规模在几百以内，整表加载后在内存里洗牌
func (r *ProductRepository) ListActive(ctx context.Context) ([]*model.Product, error) {
	var products []*model.Product
	err := r.db.WithContext(ctx).
		Where("status = ?", model.ProductStatusActive).
		Find(&products).Error
	return products, err
}

func (r *ProductRepository) List(ctx context.Context, page, pageSize int) ([]*model.Product, int64, error) {
	var products []*model.Product
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Product{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&products).Error

	return products, total, err
}

func (r *ProductRepository) Updates(ctx context.Context, id int64, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "产品不存在")
	}
	return nil
}

func (r *ProductRepository) ExistsProductID(ctx context.Context, productID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("product_id = ?", productID).
		Count(&count).Error
	return count > 0, err
}

// ============================================================
// 会员等级
// ============================================================

type LevelRepository struct {
	db *gorm.DB
}

func NewLevelRepository(db *gorm.DB) *LevelRepository {
	return &LevelRepository{db: db}
}

func (r *LevelRepository) Create(ctx context.Context, level *model.Level) error {
	return r.db.WithContext(ctx).Create(level).Error
}

func (r *LevelRepository) GetByID(ctx context.Context, id int64) (*model.Level, error) {
	var level model.Level
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&level).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "等级不存在")
		}
		return nil, err
	}
	return &level, nil
}

func (r *LevelRepository) List(ctx context.Context) ([]*model.Level, error) {
	var levels []*model.Level
	err := r.db.WithContext(ctx).Order("id ASC").Find(&levels).Error
	return levels, err
}

func (r *LevelRepository) Updates(ctx context.Context, id int64, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.Level{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "等级不存在")
	}
	return nil
}
