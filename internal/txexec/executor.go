package txexec

import (
	"fmt"
	"log/slog"
	"math/big"

	"context"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/pkg/logger"
)

// State 表示一笔已提交交易的确认状态。
type State string

const (
	StateSuccess State = "success"
	StateFailed  State = "failed"
	StateRetry   State = "retry"
	StatePending State = "pending"
)

// Call 描述一次链上调用：目标合约与 ABI 编码后的数据。
// 编码由网关完成，执行器不关心方法语义。
type Call struct {
	Target common.Address
	Data   []byte
	Value  *big.Int
}

// Receipt 是提交成功后拿到的句柄。
type Receipt struct {
	Ref    string
	MemoID int64
}

// Confirmation 是一次状态查询的结果。任务创建场景下后端会在
// 成功结果里带回新任务的链上 ID。
type Confirmation struct {
	State State
	JobID int64
}

// Backend 抽象交易的提交与状态查询。实现包括中继后端和直连链后端。
type Backend interface {
	// Submit 签名并提交一次调用。同一个逻辑意图只允许调用一次。
	Submit(ctx context.Context, call Call, signer *Signer) (Receipt, error)
	// Status 查询已提交交易的确认状态。
	Status(ctx context.Context, ref string) (Confirmation, error)
}

// Executor 负责执行单次状态变更调用：签名、提交一次、轮询确认。
// 重试只作用于确认轮询，绝不重新签名重发——提交结果未知时重发
// 可能造成重复扣款。
type Executor struct {
	backend Backend
	signer  *Signer
	confirm RetryPolicy
	log     *slog.Logger
}

// ExecutorOption 定义可选配置。
type ExecutorOption func(*Executor)

// WithConfirmPolicy 覆盖确认轮询策略。
func WithConfirmPolicy(policy RetryPolicy) ExecutorOption {
	return func(e *Executor) {
		e.confirm = policy
	}
}

// WithExecutorLogger 指定日志输出。
func WithExecutorLogger(log *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.log = log
	}
}

// NewExecutor 构造 Executor。
func NewExecutor(backend Backend, signer *Signer, opts ...ExecutorOption) *Executor {
	e := &Executor{
		backend: backend,
		signer:  signer,
		confirm: DefaultConfirmPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.log == nil {
		e.log = logger.Named("txexec")
	}
	return e
}

// Signer 返回执行器使用的签名者。
func (e *Executor) Signer() *Signer {
	return e.signer
}

// Submit 签名并提交一次调用，不等待确认。
func (e *Executor) Submit(ctx context.Context, call Call) (Receipt, error) {
	if e.backend == nil || e.signer == nil {
		return Receipt{}, xerrors.New(xerrors.CodeInitializationFailure, "执行器未初始化")
	}
	receipt, err := e.backend.Submit(ctx, call, e.signer)
	if err != nil {
		return Receipt{}, err
	}
	logger.TxSubmitted(receipt.Ref, call.Target.Hex(), e.signer.Address().Hex())
	return receipt, nil
}

// Await 轮询交易状态直到终态或预算耗尽。终态失败返回 TX_FAILED 且不再
// 重试；预算耗尽但状态仍为 pending/retry 时返回 TX_UNCONFIRMED，由调用方
// 自行对账。
func (e *Executor) Await(ctx context.Context, ref string) (Confirmation, error) {
	attempts := e.confirm.Attempts()
	last := Confirmation{State: StatePending}

	for attempt := 1; attempt <= attempts; attempt++ {
		confirmation, err := e.backend.Status(ctx, ref)
		if err != nil {
			e.log.Warn("查询交易状态失败",
				slog.String("ref", ref),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			if !xerrors.RetryableError(err) {
				return Confirmation{}, err
			}
		} else {
			last = confirmation
			switch confirmation.State {
			case StateSuccess:
				return confirmation, nil
			case StateFailed:
				return confirmation, xerrors.New(xerrors.CodeTransactionFailed,
					fmt.Sprintf("交易 %s 已被后端确认为失败", ref))
			}
		}

		if attempt < attempts {
			if waitErr := e.confirm.Wait(ctx, attempt); waitErr != nil {
				return last, waitErr
			}
		}
	}

	return last, xerrors.New(xerrors.CodeTransactionUnconfirmed,
		fmt.Sprintf("交易 %s 在 %d 次轮询后仍处于 %s 状态", ref, attempts, last.State),
		xerrors.WithMetadata("last_state", string(last.State)),
	)
}

// Execute 提交一次调用并等待确认成功。
func (e *Executor) Execute(ctx context.Context, call Call) (Receipt, Confirmation, error) {
	receipt, err := e.Submit(ctx, call)
	if err != nil {
		return Receipt{}, Confirmation{}, err
	}
	confirmation, err := e.Await(ctx, receipt.Ref)
	if err != nil {
		return receipt, confirmation, err
	}
	return receipt, confirmation, nil
}
