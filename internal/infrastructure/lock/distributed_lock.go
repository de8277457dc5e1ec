package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【为什么需要分布式锁？】
//
// 场景：客户连点两次"开通计划"（网络抖动导致重复提交）
//
// 如果没有分布式锁：
//   goroutine1: 查无 ACTIVE 计划 -> 建计划A
//   goroutine2: 查无 ACTIVE 计划 -> 建计划B  同一客户出现两个活跃计划！
//
// 加了分布式锁：
//   goroutine1: 获取锁 -> 查无计划 -> 建计划A -> 释放锁
//   goroutine2: 等锁 -> 获取锁 -> 查到计划A -> 返回冲突
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：使用 Lua 脚本保证"检查+删除"的原子性
//
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// Lua 脚本先校验 value 是自己的再删除，避免锁过期后误删后来者的锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================================
// Manager：service 层依赖的锁抽象
// ============================================================================
//
// service 不直接持有 *redis.Client，而是注入 Manager；测试里用 Nop 实现。
// 锁不带续租也不带 fencing token，临界区超过 TTL 时互斥可能失效，
// 所以正确性不依赖锁：订单流转靠守卫式 UPDATE，计划开通靠事务内
// 重查 + active_customer_id 唯一索引兜底，锁只负责减少无谓的竞争回滚。

type Manager interface {
	// WithLock 持有 key 对应的锁执行 fn，拿不到锁返回 ErrLockFailed
	WithLock(ctx context.Context, key, owner string, fn func() error) error
}

// RedisManager 基于 Redis 的锁管理器
type RedisManager struct {
	client *redis.Client
}

func NewRedisManager(client *redis.Client) *RedisManager {
	return &RedisManager{client: client}
}

func (m *RedisManager) WithLock(ctx context.Context, key, owner string, fn func() error) error {
	l := NewDistributedLock(m.client, key, owner, 30*time.Second)
	if err := l.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return err
	}
	defer l.Unlock(ctx)
	return fn()
}

// Nop 空实现，测试用
type Nop struct{}

func (Nop) WithLock(ctx context.Context, key, owner string, fn func() error) error {
	return fn()
}

// PlanActivationKey 计划开通锁，按客户维度
// 不同客户可以并发开通，同一客户串行（正是我们要的互斥粒度）
func PlanActivationKey(customerID int64) string {
	return fmt.Sprintf("plan:lock:customer:%d", customerID)
}

// OrderCompletionKey 订单完成锁，按订单维度
func OrderCompletionKey(orderID string) string {
	return fmt.Sprintf("order:lock:%s", orderID)
}
