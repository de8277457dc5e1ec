package idgen

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// 对外ID生成
// ============================================================================
//
// 系统里有两类对外ID：
//
// 1. 序列号派生ID：行的自增ID已知后，格式化为固定宽度的可读编号。
//    确定性、可反解，例如 user_id、account_id、transaction_id。
//
// 2. 随机ID：在行的自增ID已知之前就要分配（或要求不可猜测），
//    例如 order_id、plan_id。生成器只保证低碰撞概率，
//    全局唯一性由调用方负责：依赖唯一索引，探测到冲突就重新生成。
//
// ============================================================================

// UserIDBase 用户编号基数：user_id = 1000000 + 自增ID
const UserIDBase = int64(1000000)

var ErrInvalidID = errors.New("无法解析的ID")

// FormatSequence 由序列号派生确定性ID：prefix + 零填充的序列号
// 例如 FormatSequence("A", 12, 7) => "A0000012"
func FormatSequence(prefix string, seq int64, width int) string {
	return fmt.Sprintf("%s%0*d", prefix, width, seq)
}

// ParseSequence 反解 FormatSequence 生成的ID，返回内部序列号
func ParseSequence(prefix, id string) (int64, error) {
	if !strings.HasPrefix(id, prefix) {
		return 0, ErrInvalidID
	}
	seq, err := strconv.ParseInt(id[len(prefix):], 10, 64)
	if err != nil {
		return 0, ErrInvalidID
	}
	return seq, nil
}

// FormatUserID 用户编号：1000000 + 自增ID，不带前缀
func FormatUserID(seq int64) string {
	return strconv.FormatInt(UserIDBase+seq, 10)
}

// FormatAccountID 账户编号：A + 7位序列号
func FormatAccountID(seq int64) string {
	return FormatSequence("A", seq, 7)
}

// FormatTransactionID 交易编号：TXN + 9位序列号
func FormatTransactionID(seq int64) string {
	return FormatSequence("TXN", seq, 9)
}

// RandomID 生成随机ID：prefix + 时间戳 + 雪花ID后8位，截断到 maxLen
//
// 【注意】这里不保证全局唯一，只保证碰撞概率极低。
// 调用方必须用唯一索引探测冲突并循环重新生成。
func RandomID(prefix string, maxLen int) string {
	id := NextID()
	timestamp := time.Now().Format("20060102150405")
	s := fmt.Sprintf("%s%s%08d", prefix, timestamp, id%100000000)
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// RandomReferCode 生成推荐码：8位大写字母数字
func RandomReferCode() string {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	id := NextID()
	b := make([]byte, 8)
	for i := range b {
		b[i] = alphabet[id%int64(len(alphabet))]
		id /= int64(len(alphabet))
		if id == 0 {
			id = NextID()
		}
	}
	return string(b)
}
