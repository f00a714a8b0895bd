// Package lifecycle 实现任务状态机：校验阶段转移、选取目标备忘录、
// 按角色编排客户/服务方/评估方的动作。权威状态永远来自链上/后端，
// 每个动作执行之前都应重新拉取任务快照。
package lifecycle

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"context"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/internal/job"
	"AgentCommerce-Chain/pkg/logger"
)

// Gateway 是状态机依赖的合约操作集合，由合约网关实现。
type Gateway interface {
	CreateJob(ctx context.Context, provider, evaluator common.Address, expiredAt time.Time) (int64, error)
	CreateMemo(ctx context.Context, jobID int64, content string, memoType job.MemoType, isSecured bool, nextPhase job.Phase) (int64, error)
	SignMemo(ctx context.Context, memoID int64, approved bool, reason string) error
	ApproveAllowance(ctx context.Context, amount *big.Int) error
	SetBudget(ctx context.Context, jobID int64, amount *big.Int) error
	JobDetails(ctx context.Context, jobID int64) (*job.Job, error)
}

// Service 以某个代理的身份驱动任务状态机。同一个代理在不同任务里
// 可以分别扮演客户、服务方或评估方，动作各自做角色校验。
type Service struct {
	gateway Gateway
	actor   common.Address
	log     *slog.Logger
}

// NewService 构造 Service。actor 是当前代理的链上地址。
func NewService(gateway Gateway, actor common.Address) *Service {
	return &Service{
		gateway: gateway,
		actor:   actor,
		log:     logger.Named("lifecycle"),
	}
}

// Actor 返回当前代理地址。
func (s *Service) Actor() common.Address {
	return s.actor
}

// Refresh 重新拉取任务快照。状态机本身无状态，动作之间不缓存任务。
func (s *Service) Refresh(ctx context.Context, jobID int64) (*job.Job, error) {
	return s.gateway.JobDetails(ctx, jobID)
}

// Initiate 以客户身份创建任务并写入首条需求备忘录，返回链上任务 ID。
// 首条备忘录的 NextPhase 指向 NEGOTIATION，等待服务方应答。
// requirement 可以是字符串，也可以是结构化需求，后者会序列化为 JSON。
func (s *Service) Initiate(ctx context.Context, provider, evaluator common.Address, requirement any, expiredAt time.Time) (int64, error) {
	content, err := encodeRequirement(requirement)
	if err != nil {
		return 0, err
	}

	jobID, err := s.gateway.CreateJob(ctx, provider, evaluator, expiredAt)
	if err != nil {
		return 0, err
	}

	if _, err := s.gateway.CreateMemo(ctx, jobID, content, job.MemoMessage, false, job.PhaseNegotiation); err != nil {
		// 任务已经在链上, 备忘录补写失败时把 ID 一并返回给调用方对账。
		return jobID, err
	}

	s.log.Info("任务已发起",
		slog.Int64("job_id", jobID),
		slog.String("provider", provider.Hex()),
	)
	return jobID, nil
}

// Respond 以服务方身份应答报价：签署指向 NEGOTIATION 的备忘录，
// 接受时追加一条指向 TRANSACTION 的备忘录提示客户付款。
func (s *Service) Respond(ctx context.Context, j *job.Job, accept bool, reason string) error {
	if err := s.requireRole(j, j.ProviderAddress, "服务方"); err != nil {
		return err
	}

	effective := j.Phase
	if effective == job.PhaseRequest {
		effective = job.PhaseNegotiation
	}
	target := job.PhaseTransaction
	if !accept {
		target = job.PhaseRejected
	}
	if err := job.ValidateTransition(effective, target); err != nil {
		return err
	}

	memo, err := s.actionableMemo(j, job.PhaseNegotiation)
	if err != nil {
		return err
	}
	if err := s.gateway.SignMemo(ctx, memo.ID, accept, reason); err != nil {
		return err
	}

	if accept {
		content := reason
		if content == "" {
			content = fmt.Sprintf("任务 %d 已接受, 等待付款", j.ID)
		}
		if _, err := s.gateway.CreateMemo(ctx, j.ID, content, job.MemoMessage, false, job.PhaseTransaction); err != nil {
			return err
		}
	}

	s.log.Info("任务已应答",
		slog.Int64("job_id", j.ID),
		slog.Bool("accepted", accept),
	)
	return nil
}

// Pay 以客户身份支付：先给协议合约授权并设置预算，再签署指向
// TRANSACTION 的备忘录，最后追加指向 EVALUATION 的备忘录等待交付。
func (s *Service) Pay(ctx context.Context, j *job.Job, amount *big.Int, reason string) error {
	if err := s.requireRole(j, j.ClientAddress, "客户"); err != nil {
		return err
	}
	if err := job.ValidateTransition(j.Phase, job.PhaseTransaction); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "支付金额必须为正数")
	}

	memo, err := s.actionableMemo(j, job.PhaseTransaction)
	if err != nil {
		return err
	}

	if err := s.gateway.ApproveAllowance(ctx, amount); err != nil {
		return err
	}
	if err := s.gateway.SetBudget(ctx, j.ID, amount); err != nil {
		return err
	}
	if err := s.gateway.SignMemo(ctx, memo.ID, true, reason); err != nil {
		return err
	}
	if _, err := s.gateway.CreateMemo(ctx, j.ID,
		fmt.Sprintf("任务 %d 已支付 %s", j.ID, amount.String()),
		job.MemoMessage, false, job.PhaseEvaluation); err != nil {
		return err
	}

	s.log.Info("任务已支付",
		slog.Int64("job_id", j.ID),
		slog.String("amount", amount.String()),
	)
	return nil
}

// Deliver 以服务方身份交付：签署指向 EVALUATION 的备忘录，并把交付物
// 写入一条 OBJECT_URL 备忘录，NextPhase 指向 COMPLETED 等待评估。
func (s *Service) Deliver(ctx context.Context, j *job.Job, deliverable string) error {
	if err := s.requireRole(j, j.ProviderAddress, "服务方"); err != nil {
		return err
	}
	if err := job.ValidateTransition(j.Phase, job.PhaseEvaluation); err != nil {
		return err
	}

	memo, err := s.actionableMemo(j, job.PhaseEvaluation)
	if err != nil {
		return err
	}
	if err := s.gateway.SignMemo(ctx, memo.ID, true, "交付"); err != nil {
		return err
	}
	if _, err := s.gateway.CreateMemo(ctx, j.ID, deliverable, job.MemoObjectURL, false, job.PhaseCompleted); err != nil {
		return err
	}

	s.log.Info("任务已交付", slog.Int64("job_id", j.ID))
	return nil
}

// Evaluate 以评估方身份验收：签署指向 COMPLETED 的交付备忘录，
// accept 为 false 时任务进入 REJECTED。
func (s *Service) Evaluate(ctx context.Context, j *job.Job, accept bool, reason string) error {
	if err := s.requireRole(j, j.EvaluatorAddress, "评估方"); err != nil {
		return err
	}
	target := job.PhaseCompleted
	if !accept {
		target = job.PhaseRejected
	}
	if err := job.ValidateTransition(j.Phase, target); err != nil {
		return err
	}

	memo, err := s.actionableMemo(j, job.PhaseCompleted)
	if err != nil {
		return err
	}
	if err := s.gateway.SignMemo(ctx, memo.ID, accept, reason); err != nil {
		return err
	}

	s.log.Info("任务已评估",
		slog.Int64("job_id", j.ID),
		slog.Bool("accepted", accept),
	)
	return nil
}

func (s *Service) requireRole(j *job.Job, expected common.Address, role string) error {
	if j == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if s.actor != expected {
		return xerrors.New(xerrors.CodeProtocolViolation,
			fmt.Sprintf("任务 %d 的%s是 %s, 当前代理 %s 无权执行该动作",
				j.ID, role, expected.Hex(), s.actor.Hex()))
	}
	return nil
}

// actionableMemo 选出指向目标阶段且可签署的备忘录。只读视图返回的
// 备忘录没有 ID，不能作为签署对象。
func (s *Service) actionableMemo(j *job.Job, target job.Phase) (job.Memo, error) {
	memo, err := j.MemoTargeting(target)
	if err != nil {
		return job.Memo{}, err
	}
	if !memo.Actionable() {
		return job.Memo{}, xerrors.New(xerrors.CodeNoApplicableMemo,
			fmt.Sprintf("指向 %s 阶段的备忘录缺少 ID, 无法签署", target))
	}
	return memo, nil
}

// encodeRequirement 把需求载荷编码成备忘录内容：字符串原样使用，
// 其余类型序列化为 JSON。
func encodeRequirement(requirement any) (string, error) {
	switch v := requirement.(type) {
	case string:
		return v, nil
	case nil:
		return "", xerrors.New(xerrors.CodeInvalidArgument, "需求内容不能为空")
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "需求序列化失败")
		}
		return string(raw), nil
	}
}
