package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"trademall/internal/model"
	"trademall/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDeposit(t *testing.T) {
	db := setupTestDB(t)
	svc := NewTransactionService(db, testConfig(20))
	ctx := context.Background()

	customer, account := seedCustomer(t, db, 0)

	trans, err := svc.CreateDeposit(ctx, customer.ID, account.ID, 100, "/uploads/proof.png")
	require.NoError(t, err)

	assert.Equal(t, model.TransactionStatusPending, trans.Status)
	require.NotNil(t, trans.TransactionID)
	assert.True(t, strings.HasPrefix(*trans.TransactionID, "TXN"))
	assert.Len(t, *trans.TransactionID, 12)

	// 申请不动余额
	assert.Zero(t, reloadAccount(t, db, account.ID).Balance)
}

func TestCreateDepositValidation(t *testing.T) {
	db := setupTestDB(t)
	svc := NewTransactionService(db, testConfig(20))
	ctx := context.Background()

	customer, account := seedCustomer(t, db, 0)

	_, err := svc.CreateDeposit(ctx, customer.ID, account.ID, 0.5, "/uploads/proof.png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	_, err = svc.CreateDeposit(ctx, customer.ID, account.ID, 100, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	// 别人的账户不能充
	other, _ := seedCustomer(t, db, 0)
	_, err = svc.CreateDeposit(ctx, other.ID, account.ID, 100, "/uploads/proof.png")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
}

func TestApproveDeposit(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(20)
	svc := NewTransactionService(db, cfg)
	ctx := context.Background()
	admin := seedAdmin(t, db)

	customer, account := seedCustomer(t, db, 0)
	trans, err := svc.CreateDeposit(ctx, customer.ID, account.ID, 100, "/uploads/proof.png")
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, trans.ID, admin.ID)
	require.NoError(t, err)

	assert.Equal(t, model.TransactionStatusApproved, approved.Status)
	require.NotNil(t, approved.ProcessedBy)
	assert.Equal(t, admin.ID, *approved.ProcessedBy)
	assert.NotNil(t, approved.ProcessedAt)

	assert.Equal(t, float64(100), reloadAccount(t, db, account.ID).Balance)
	assert.EqualValues(t, 1, countOutbox(t, db, cfg.Kafka.Topic.TransactionResult))
}

func TestApproveTwiceRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := NewTransactionService(db, testConfig(20))
	ctx := context.Background()
	admin := seedAdmin(t, db)

	customer, account := seedCustomer(t, db, 0)
	trans, err := svc.CreateDeposit(ctx, customer.ID, account.ID, 100, "/uploads/proof.png")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, trans.ID, admin.ID)
	require.NoError(t, err)

	// 二次审批被 PENDING 守卫拦下，余额不变
	_, err = svc.Approve(ctx, trans.ID, admin.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
	assert.Equal(t, float64(100), reloadAccount(t, db, account.ID).Balance)

	// 已审批的也不能再拒绝
	_, err = svc.Reject(ctx, trans.ID, admin.ID, "重复操作")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func TestRejectDeposit(t *testing.T) {
	db := setupTestDB(t)
	svc := NewTransactionService(db, testConfig(20))
	ctx := context.Background()
	admin := seedAdmin(t, db)

	customer, account := seedCustomer(t, db, 0)
	trans, err := svc.CreateDeposit(ctx, customer.ID, account.ID, 100, "/uploads/proof.png")
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, trans.ID, admin.ID, "凭证不清晰")
	require.NoError(t, err)

	assert.Equal(t, model.TransactionStatusRejected, rejected.Status)
	assert.Equal(t, "凭证不清晰", rejected.AdminNote)
	assert.Zero(t, reloadAccount(t, db, account.ID).Balance)
}

func TestCreateWithdrawalInsufficientBalance(t *testing.T) {
	db := setupTestDB(t)
	svc := NewTransactionService(db, testConfig(20))
	ctx := context.Background()

	// 余额 50 提 100：申请时直接失败，不产生 PENDING 行
	customer, account := seedCustomer(t, db, 50)

	_, err := svc.CreateWithdrawal(ctx, customer.ID, account.ID, 100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInsufficientBalance))

	var count int64
	require.NoError(t, db.Model(&model.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, float64(50), reloadAccount(t, db, account.ID).Balance)
}

func TestApproveWithdrawal(t *testing.T) {
	db := setupTestDB(t)
	svc := NewTransactionService(db, testConfig(20))
	ctx := context.Background()
	admin := seedAdmin(t, db)

	customer, account := seedCustomer(t, db, 200)
	trans, err := svc.CreateWithdrawal(ctx, customer.ID, account.ID, 80)
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, trans.ID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusApproved, approved.Status)
	assert.Equal(t, float64(120), reloadAccount(t, db, account.ID).Balance)
}

func TestApproveWithdrawalRechecksBalance(t *testing.T) {
	db := setupTestDB(t)
	svc := NewTransactionService(db, testConfig(20))
	ctx := context.Background()
	admin := seedAdmin(t, db)

	customer, account := seedCustomer(t, db, 100)
	trans, err := svc.CreateWithdrawal(ctx, customer.ID, account.ID, 100)
	require.NoError(t, err)

	// 申请后余额被消耗掉一部分，审批事务内的复查必须拦下
	require.NoError(t, db.Model(&model.Account{}).Where("id = ?", account.ID).
		Update("balance", 30).Error)

	_, err = svc.Approve(ctx, trans.ID, admin.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInsufficientBalance))

	// 整个事务回滚：交易仍是 PENDING，余额没动
	reloaded := &model.Transaction{}
	require.NoError(t, db.First(reloaded, trans.ID).Error)
	assert.Equal(t, model.TransactionStatusPending, reloaded.Status)
	assert.Equal(t, float64(30), reloadAccount(t, db, account.ID).Balance)
}

func TestConcurrentApproveCreditsOnce(t *testing.T) {
	db := setupTestDB(t)
	cfg := testConfig(20)
	svc := NewTransactionService(db, cfg)
	ctx := context.Background()
	admin := seedAdmin(t, db)

	customer, account := seedCustomer(t, db, 0)
	trans, err := svc.CreateDeposit(ctx, customer.ID, account.ID, 100, "/uploads/proof.png")
	require.NoError(t, err)

	// 并发重复审批：PENDING 守卫保证只有一个赢家，入账恰好一次
	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Approve(ctx, trans.ID, admin.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	approved := 0
	for err := range errs {
		if err == nil {
			approved++
			continue
		}
		assert.True(t, errors.Is(err, apperr.ErrInvalidState))
	}
	assert.Equal(t, 1, approved)

	assert.Equal(t, float64(100), reloadAccount(t, db, account.ID).Balance)
	assert.EqualValues(t, 1, countOutbox(t, db, cfg.Kafka.Topic.TransactionResult))
}

func TestListByCustomer(t *testing.T) {
	db := setupTestDB(t)
	svc := NewTransactionService(db, testConfig(20))
	ctx := context.Background()

	customer, account := seedCustomer(t, db, 500)
	_, err := svc.CreateDeposit(ctx, customer.ID, account.ID, 100, "/uploads/p1.png")
	require.NoError(t, err)
	_, err = svc.CreateWithdrawal(ctx, customer.ID, account.ID, 50)
	require.NoError(t, err)

	list, total, err := svc.ListByCustomer(ctx, customer.ID, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, list, 2)
}
