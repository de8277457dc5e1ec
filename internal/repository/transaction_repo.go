package repository

import (
	"context"
	"errors"
	"time"

	"trademall/internal/model"
	"trademall/pkg/apperr"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// AssignTransactionID 回填由自增ID派生的 transaction_id
// 插入时该列为 NULL（唯一索引允许多个 NULL），同一事务内回填，占位窗口不会碰撞
func (r *TransactionRepository) AssignTransactionID(ctx context.Context, tx *gorm.DB, id int64, transactionID string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ?", id).
		Update("transaction_id", transactionID).Error
}

func (r *TransactionRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Transaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.Transaction
	err := tx.WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "交易不存在")
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Wrap(apperr.ErrNotFound, "交易不存在")
		}
		return nil, err
	}
	return &trans, nil
}

// MarkProcessed PENDING 守卫式终态流转
//
// 【关键点】WHERE status = PENDING 保证同一笔交易只会被审批一次：
// 两个管理员同时审批，只有一个 UPDATE 生效，另一个 RowsAffected == 0。
func (r *TransactionRepository) MarkProcessed(ctx context.Context, tx *gorm.DB, id int64, toStatus string, adminID int64, note string) error {
	if tx == nil {
		tx = r.db
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":       toStatus,
		"processed_by": adminID,
		"processed_at": &now,
	}
	if note != "" {
		updates["admin_note"] = note
	}

	result := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, model.TransactionStatusPending).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		trans, err := r.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}
		return apperr.Wrap(apperr.ErrInvalidState, "交易已是 %s 状态", trans.Status)
	}
	return nil
}

func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("account_id = ?", accountID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

func (r *TransactionRepository) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}
