package contract

import (
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"context"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/internal/job"
	"AgentCommerce-Chain/internal/txexec"
	"AgentCommerce-Chain/pkg/logger"
)

// Reader 提供任务与备忘录的读取路径。中继适配器和直连链客户端
// 都实现该接口，网关不关心数据从哪条路来。
type Reader interface {
	// JobByID 拉取任务全量状态与备忘录。
	JobByID(ctx context.Context, jobID int64) (*job.Job, error)
	// Memos 按阶段过滤并分页返回备忘录，第二个返回值为总数。
	// phase 为 nil 时不过滤。
	Memos(ctx context.Context, jobID int64, phase *job.Phase, offset, limit int) ([]job.Memo, int, error)
}

// Gateway 把协议合约的方法封装成领域操作：ABI 编码在这里完成，
// 签名提交与确认交给执行器。
type Gateway struct {
	executor     *txexec.Executor
	reader       Reader
	contractAddr common.Address
	tokenAddr    common.Address
	write        txexec.RetryPolicy
	log          *slog.Logger
}

// GatewayOption 定义可选配置。
type GatewayOption func(*Gateway)

// WithWritePolicy 覆盖 createMemo/signMemo 的写重试策略。
func WithWritePolicy(policy txexec.RetryPolicy) GatewayOption {
	return func(g *Gateway) {
		g.write = policy
	}
}

// WithGatewayLogger 指定日志输出。
func WithGatewayLogger(log *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.log = log
	}
}

// NewGateway 构造 Gateway。reader 负责读取路径，可传中继适配器
// 或直连链客户端。
func NewGateway(executor *txexec.Executor, reader Reader, contractAddr, tokenAddr common.Address, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		executor:     executor,
		reader:       reader,
		contractAddr: contractAddr,
		tokenAddr:    tokenAddr,
		write:        txexec.DefaultWritePolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.log == nil {
		g.log = logger.Named("contract")
	}
	return g
}

// CreateJob 在链上创建任务并返回其链上 ID。提交只发生一次；
// 后端异步确认时任务 ID 通过确认轮询找回，轮询耗尽仍拿不到
// ID 则整个调用以 JOB_CREATION_FAILED 失败。
func (g *Gateway) CreateJob(ctx context.Context, provider, evaluator common.Address, expiredAt time.Time) (int64, error) {
	data, err := ProtocolABI.Pack("createJob", provider, evaluator, big.NewInt(expiredAt.Unix()))
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeJobCreationFailed, err, "编码 createJob 调用失败")
	}

	receipt, err := g.executor.Submit(ctx, txexec.Call{Target: g.contractAddr, Data: data})
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeJobCreationFailed, err, "提交 createJob 交易失败")
	}

	confirmation, err := g.executor.Await(ctx, receipt.Ref)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeJobCreationFailed, err,
			fmt.Sprintf("交易 %s 的任务 ID 无法确认", receipt.Ref))
	}
	if confirmation.JobID <= 0 {
		return 0, xerrors.New(xerrors.CodeJobCreationFailed,
			fmt.Sprintf("交易 %s 确认成功但未返回任务 ID", receipt.Ref))
	}

	g.log.Info("任务创建成功",
		slog.Int64("job_id", confirmation.JobID),
		slog.String("provider", provider.Hex()),
		slog.String("ref", receipt.Ref),
	)
	return confirmation.JobID, nil
}

// CreateMemo 在任务上追加一条备忘录并返回其 ID。整体操作最多
// 重试三次，退避逐次加长，耗尽后返回 MEMO_CREATION_FAILED。
func (g *Gateway) CreateMemo(ctx context.Context, jobID int64, content string, memoType job.MemoType, isSecured bool, nextPhase job.Phase) (int64, error) {
	data, err := ProtocolABI.Pack("createMemo",
		big.NewInt(jobID), content, uint8(memoType), isSecured, uint8(nextPhase))
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeMemoCreationFailed, err, "编码 createMemo 调用失败")
	}

	var memoID int64
	err = g.writeWithRetry(ctx, "createMemo", txexec.Call{Target: g.contractAddr, Data: data},
		func(receipt txexec.Receipt) {
			memoID = receipt.MemoID
		})
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeMemoCreationFailed, err,
			fmt.Sprintf("任务 %d 的备忘录创建失败", jobID))
	}

	g.log.Info("备忘录创建成功",
		slog.Int64("job_id", jobID),
		slog.Int64("memo_id", memoID),
		slog.String("next_phase", nextPhase.String()),
	)
	return memoID, nil
}

// SignMemo 对一条备忘录签署同意或拒绝。重试语义与 CreateMemo
// 相同，耗尽后返回 MEMO_SIGN_FAILED。
func (g *Gateway) SignMemo(ctx context.Context, memoID int64, approved bool, reason string) error {
	data, err := ProtocolABI.Pack("signMemo", big.NewInt(memoID), approved, reason)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeMemoSignFailed, err, "编码 signMemo 调用失败")
	}

	err = g.writeWithRetry(ctx, "signMemo", txexec.Call{Target: g.contractAddr, Data: data}, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeMemoSignFailed, err,
			fmt.Sprintf("备忘录 %d 签署失败", memoID))
	}

	g.log.Info("备忘录签署完成",
		slog.Int64("memo_id", memoID),
		slog.Bool("approved", approved),
	)
	return nil
}

// ApproveAllowance 给协议合约授权结算代币。支付序列里的每一步
// 都只尝试一次，失败直接向上返回，由调用方决定是否重新支付。
func (g *Gateway) ApproveAllowance(ctx context.Context, amount *big.Int) error {
	data, err := TokenABI.Pack("approve", g.contractAddr, amount)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransactionFailed, err, "编码 approve 调用失败")
	}
	_, _, err = g.executor.Execute(ctx, txexec.Call{Target: g.tokenAddr, Data: data})
	return err
}

// SetBudget 设置任务预算。与 ApproveAllowance 相同，只尝试一次。
func (g *Gateway) SetBudget(ctx context.Context, jobID int64, amount *big.Int) error {
	data, err := ProtocolABI.Pack("setBudget", big.NewInt(jobID), amount)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransactionFailed, err, "编码 setBudget 调用失败")
	}
	_, _, err = g.executor.Execute(ctx, txexec.Call{Target: g.contractAddr, Data: data})
	return err
}

// JobDetails 读取任务全量状态。
func (g *Gateway) JobDetails(ctx context.Context, jobID int64) (*job.Job, error) {
	if g.reader == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "网关未配置读取路径")
	}
	return g.reader.JobByID(ctx, jobID)
}

// Memos 按阶段过滤并分页读取任务的备忘录。
func (g *Gateway) Memos(ctx context.Context, jobID int64, phase *job.Phase, offset, limit int) ([]job.Memo, int, error) {
	if g.reader == nil {
		return nil, 0, xerrors.New(xerrors.CodeInitializationFailure, "网关未配置读取路径")
	}
	return g.reader.Memos(ctx, jobID, phase, offset, limit)
}

// writeWithRetry 按写策略重复执行整个提交加确认流程。与确认轮询
// 不同，这里每次尝试都是一笔新交易，只适用于可幂等重放的写操作。
func (g *Gateway) writeWithRetry(ctx context.Context, method string, call txexec.Call, onSuccess func(txexec.Receipt)) error {
	attempts := g.write.Attempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		receipt, _, err := g.executor.Execute(ctx, call)
		if err == nil {
			if onSuccess != nil {
				onSuccess(receipt)
			}
			return nil
		}
		lastErr = err
		g.log.Warn("合约写操作失败",
			slog.String("method", method),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < attempts {
			if waitErr := g.write.Wait(ctx, attempt); waitErr != nil {
				return waitErr
			}
		}
	}
	return lastErr
}
