package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trademall/internal/config"
	"trademall/internal/model"
	"trademall/internal/repository"
	"trademall/pkg/apperr"
	"trademall/pkg/idgen"

	"gorm.io/gorm"
)

// TransactionService 充值/提现两段式审批引擎
//
// PENDING → APPROVED | REJECTED，终态单向。
//
// 【关键点】余额变动当且仅当流转到 APPROVED，且与状态写入同一事务：
// - 充值审批：balance + amount
// - 提现审批：balance - amount，扣减语句自带 balance >= amount 守卫，
//   申请后余额可能已经被其他活动消耗，事务内的复查才是权威判定
type TransactionService struct {
	db              *gorm.DB
	cfg             *config.Config
	transactionRepo *repository.TransactionRepository
	accountRepo     *repository.AccountRepository
	outboxRepo      *repository.OutboxRepository
}

func NewTransactionService(db *gorm.DB, cfg *config.Config) *TransactionService {
	return &TransactionService{
		db:              db,
		cfg:             cfg,
		transactionRepo: repository.NewTransactionRepository(db),
		accountRepo:     repository.NewAccountRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// ownedAccount 校验账户归属后返回账户
func (s *TransactionService) ownedAccount(ctx context.Context, accountID, customerID int64) (*model.Account, error) {
	account, err := s.accountRepo.GetByID(ctx, nil, accountID)
	if err != nil {
		return nil, err
	}
	if account.CustomerID != customerID {
		return nil, apperr.Wrap(apperr.ErrForbidden, "账户不属于当前客户")
	}
	return account, nil
}

// CreateDeposit 发起充值申请（需要付款凭证）
func (s *TransactionService) CreateDeposit(ctx context.Context, customerID, accountID int64, amount float64, proofImageURL string) (*model.Transaction, error) {
	if amount < s.cfg.Business.MinAmount {
		return nil, apperr.Wrap(apperr.ErrInvalidState, "充值金额不能低于 %.2f", s.cfg.Business.MinAmount)
	}
	if proofImageURL == "" {
		return nil, apperr.Wrap(apperr.ErrInvalidState, "缺少付款凭证")
	}
	if _, err := s.ownedAccount(ctx, accountID, customerID); err != nil {
		return nil, err
	}

	trans := &model.Transaction{
		AccountID:     accountID,
		Type:          model.TransactionTypeDeposit,
		Amount:        amount,
		Status:        model.TransactionStatusPending,
		ProofImageURL: proofImageURL,
	}
	if err := s.createWithID(ctx, trans); err != nil {
		return nil, err
	}
	return trans, nil
}

// CreateWithdrawal 发起提现申请
//
// 这里的余额检查只是快速失败（Scenario：余额 50 提 100 直接拒绝，
// 不产生 PENDING 行）；申请时不冻结资金，权威判定在审批事务内。
func (s *TransactionService) CreateWithdrawal(ctx context.Context, customerID, accountID int64, amount float64) (*model.Transaction, error) {
	if amount < s.cfg.Business.MinAmount {
		return nil, apperr.Wrap(apperr.ErrInvalidState, "提现金额不能低于 %.2f", s.cfg.Business.MinAmount)
	}
	account, err := s.ownedAccount(ctx, accountID, customerID)
	if err != nil {
		return nil, err
	}
	if account.Balance < amount {
		return nil, apperr.Wrap(apperr.ErrInsufficientBalance, "余额 %.2f 低于提现金额 %.2f", account.Balance, amount)
	}

	trans := &model.Transaction{
		AccountID: accountID,
		Type:      model.TransactionTypeWithdrawal,
		Amount:    amount,
		Status:    model.TransactionStatusPending,
	}
	if err := s.createWithID(ctx, trans); err != nil {
		return nil, err
	}
	return trans, nil
}

// createWithID 插入 + 同一事务内回填 TXN 编号（两段式，占位为 NULL 不碰撞）
func (s *TransactionService) createWithID(ctx context.Context, trans *model.Transaction) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
			return fmt.Errorf("创建交易失败: %w", err)
		}
		transactionID := idgen.FormatTransactionID(trans.ID)
		if err := s.transactionRepo.AssignTransactionID(ctx, tx, trans.ID, transactionID); err != nil {
			return fmt.Errorf("回填交易编号失败: %w", err)
		}
		trans.TransactionID = &transactionID
		return nil
	})
}

// Approve 审批通过
//
// adminID 是显式注入的已认证管理员身份，没有任何默认值回退。
// 状态流转和余额变动在一个事务内：
// - MarkProcessed 的 PENDING 守卫保证同一笔只会被审批一次
// - 提现扣减失败（余额不足）时整个事务回滚，交易保持 PENDING
func (s *TransactionService) Approve(ctx context.Context, transactionID int64, adminID int64) (*model.Transaction, error) {
	txCtx, cancel := context.WithTimeout(ctx, s.cfg.Business.TxTimeout())
	defer cancel()

	var result *model.Transaction
	err := s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		trans, err := s.transactionRepo.GetByID(txCtx, tx, transactionID)
		if err != nil {
			return err
		}

		if err := s.transactionRepo.MarkProcessed(txCtx, tx, trans.ID, model.TransactionStatusApproved, adminID, ""); err != nil {
			return err
		}

		switch trans.Type {
		case model.TransactionTypeDeposit:
			if err := s.accountRepo.Deposit(txCtx, tx, trans.AccountID, trans.Amount); err != nil {
				return fmt.Errorf("充值入账失败: %w", err)
			}
		case model.TransactionTypeWithdrawal:
			// 事务内复查余额并扣减，防止申请后余额已经下降
			if err := s.accountRepo.Withdraw(txCtx, tx, trans.AccountID, trans.Amount); err != nil {
				return err
			}
		default:
			return apperr.Wrap(apperr.ErrInvalidState, "未知交易类型: %s", trans.Type)
		}

		if err := s.writeDecisionMessage(txCtx, tx, trans, model.TransactionStatusApproved, adminID); err != nil {
			return err
		}

		result, err = s.transactionRepo.GetByID(txCtx, tx, trans.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reject 审批拒绝：只写状态和备注，不动余额
func (s *TransactionService) Reject(ctx context.Context, transactionID int64, adminID int64, reason string) (*model.Transaction, error) {
	var result *model.Transaction
	err := s.db.Transaction(func(tx *gorm.DB) error {
		trans, err := s.transactionRepo.GetByID(ctx, tx, transactionID)
		if err != nil {
			return err
		}

		if err := s.transactionRepo.MarkProcessed(ctx, tx, trans.ID, model.TransactionStatusRejected, adminID, reason); err != nil {
			return err
		}

		if err := s.writeDecisionMessage(ctx, tx, trans, model.TransactionStatusRejected, adminID); err != nil {
			return err
		}

		result, err = s.transactionRepo.GetByID(ctx, tx, trans.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *TransactionService) writeDecisionMessage(ctx context.Context, tx *gorm.DB, trans *model.Transaction, decision string, adminID int64) error {
	key := ""
	if trans.TransactionID != nil {
		key = *trans.TransactionID
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"transaction_id": key,
		"account_id":     trans.AccountID,
		"type":           trans.Type,
		"amount":         trans.Amount,
		"decision":       decision,
		"processed_by":   adminID,
		"processed_at":   time.Now().Format(time.RFC3339),
	})
	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      s.cfg.Kafka.Topic.TransactionResult,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("写入审批结果消息失败: %w", err)
	}
	return nil
}

func (s *TransactionService) ListByCustomer(ctx context.Context, customerID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	account, err := s.accountRepo.GetPrimaryByCustomer(ctx, nil, customerID)
	if err != nil {
		return nil, 0, err
	}
	return s.transactionRepo.ListByAccount(ctx, account.ID, page, pageSize)
}

func (s *TransactionService) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.Transaction, int64, error) {
	return s.transactionRepo.ListByStatus(ctx, status, page, pageSize)
}
