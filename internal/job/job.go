package job

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentCommerce-Chain/internal/errors"
)

// Memo 是一次阶段转移提案的不可变记录。NextPhase 在创建后不再变化，
// 对方签署通过后任务才会真正进入该阶段。
type Memo struct {
	ID        int64          `json:"memoId"`
	JobID     int64          `json:"jobId"`
	Sender    common.Address `json:"senderAddress"`
	Type      MemoType       `json:"memoType"`
	Content   string         `json:"content"`
	NextPhase Phase          `json:"nextPhase"`
	IsSecured bool           `json:"isSecured"`
}

// Actionable 判断备忘录是否可以被签署。部分后端的只读视图不返回
// 备忘录 ID，这类记录只能展示，不能作为签署对象。
func (m Memo) Actionable() bool {
	return m.ID != 0
}

// Job 是可交易的聚合根。权威数据始终在链上/后端，客户端持有的只是
// 可能过期的副本，动作执行前应当重新拉取。
type Job struct {
	ID               int64          `json:"id"`
	ClientAddress    common.Address `json:"clientAddress"`
	ProviderAddress  common.Address `json:"providerAddress"`
	EvaluatorAddress common.Address `json:"evaluatorAddress"`
	Budget           *big.Int       `json:"budget"`
	AmountClaimed    *big.Int       `json:"amountClaimed"`
	Phase            Phase          `json:"phase"`
	MemoCount        int            `json:"memoCount"`
	ExpiredAt        time.Time      `json:"expiredAt"`
	Memos            []Memo         `json:"memos"`
}

// Expired 判断任务是否已经超过截止时间。过期任务不会被客户端主动
// 取消，但调用方应当视其为正在走向 REJECTED。
func (j *Job) Expired(now time.Time) bool {
	if j == nil || j.ExpiredAt.IsZero() {
		return false
	}
	return now.After(j.ExpiredAt)
}

// ErrNoApplicableMemo 表示任务中找不到指向目标阶段的备忘录。
var ErrNoApplicableMemo = xerrors.New(xerrors.CodeNoApplicableMemo, "")

// MemoTargeting 在备忘录列表中选出 NextPhase 等于 target 的那一条。
// 同一阶段可能存在多条提案，约定取最近创建的（列表尾部优先）。
func MemoTargeting(memos []Memo, target Phase) (Memo, error) {
	for i := len(memos) - 1; i >= 0; i-- {
		if memos[i].NextPhase == target {
			return memos[i], nil
		}
	}
	return Memo{}, xerrors.New(xerrors.CodeNoApplicableMemo,
		fmt.Sprintf("任务中没有指向 %s 阶段的备忘录", target))
}

// MemoTargeting 在任务自己的备忘录列表里找以 target 为下一阶段的
// 最新备忘录, 规则同包级函数。
func (j *Job) MemoTargeting(target Phase) (Memo, error) {
	if j == nil {
		return Memo{}, xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	return MemoTargeting(j.Memos, target)
}

// ValidateTransition 校验一次阶段转移是否合法，非法转移返回
// PROTOCOL_VIOLATION，不会发往后端。
func ValidateTransition(from, to Phase) error {
	if from.CanAdvanceTo(to) {
		return nil
	}
	return xerrors.New(xerrors.CodeProtocolViolation,
		fmt.Sprintf("不允许从 %s 转移到 %s", from, to))
}
