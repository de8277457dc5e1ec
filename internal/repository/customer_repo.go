package repository

import (
	"context"
	"errors"

	"trademall/internal/model"
	"trademall/pkg/apperr"

	"gorm.io/gorm"
)

type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) Create(ctx context.Context, tx *gorm.DB, customer *model.Customer) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(customer).Error
}

// AssignUserID 回填由自增ID派生的 user_id（两段式编号，同一事务内执行）
func (r *CustomerRepository) AssignUserID(ctx context.Context, tx *gorm.DB, id int64, userID string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Customer{}).
		Where("id = ?", id).
		Update("user_id", userID).Error
}

func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*model.Customer, error) {
	var customer model.Customer
	err := r.db.WithContext(ctx).Preload("Level").Where("id = ?", id).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "客户不存在")
		}
		return nil, err
	}
	return &customer, nil
}

func (r *CustomerRepository) GetByEmail(ctx context.Context, email string) (*model.Customer, error) {
	var customer model.Customer
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "客户不存在")
		}
		return nil, err
	}
	return &customer, nil
}

func (r *CustomerRepository) GetByReferCode(ctx context.Context, referCode string) (*model.Customer, error) {
	var customer model.Customer
	err := r.db.WithContext(ctx).Where("refer_code = ?", referCode).First(&customer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "推荐码不存在")
		}
		return nil, err
	}
	return &customer, nil
}

func (r *CustomerRepository) ExistsEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Customer{}).
		Where("email = ?", email).
		Count(&count).Error
	return count > 0, err
}

func (r *CustomerRepository) ExistsReferCode(ctx context.Context, referCode string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Customer{}).
		Where("refer_code = ?", referCode).
		Count(&count).Error
	return count > 0, err
}

func (r *CustomerRepository) List(ctx context.Context, page, pageSize int) ([]*model.Customer, int64, error) {
	var customers []*model.Customer
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Customer{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Level").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&customers).Error

	return customers, total, err
}

func (r *CustomerRepository) Updates(ctx context.Context, id int64, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.Customer{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "客户不存在")
	}
	return nil
}

func (r *CustomerRepository) Delete(ctx context.Context, tx *gorm.DB, id int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Where("id = ?", id).Delete(&model.Customer{}).Error
}

// ============================================================
// 管理员
// ============================================================

type AdminRepository struct {
	db *gorm.DB
}

func NewAdminRepository(db *gorm.DB) *AdminRepository {
	return &AdminRepository{db: db}
}

func (r *AdminRepository) Create(ctx context.Context, admin *model.Admin) error {
	return r.db.WithContext(ctx).Create(admin).Error
}

func (r *AdminRepository) GetByID(ctx context.Context, id int64) (*model.Admin, error) {
	var admin model.Admin
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&admin).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "管理员不存在")
		}
		return nil, err
	}
	return &admin, nil
}

func (r *AdminRepository) GetByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var admin model.Admin
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&admin).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "管理员不存在")
		}
		return nil, err
	}
	return &admin, nil
}
