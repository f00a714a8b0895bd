package dispatch

import (
	"log/slog"
	"time"

	"context"

	"github.com/ethereum/go-ethereum/common"

	"AgentCommerce-Chain/internal/job"
	"AgentCommerce-Chain/pkg/logger"
)

// JobLister 提供活跃任务列表，轮询模式的数据来源。
type JobLister interface {
	ActiveJobs(ctx context.Context, page, pageSize int) ([]*job.Job, error)
}

// Poller 是推送通道的替代：周期性全量拉取活跃任务，为每个轮到
// 本代理行动的任务合成与推送等价的事件。重复扫到的任务靠调度器
// 的去重集合吸收，不会触发重复动作。
type Poller struct {
	lister     JobLister
	dispatcher *Dispatcher
	agent      common.Address
	evaluator  bool
	interval   time.Duration
	pageSize   int
	log        *slog.Logger
}

// NewPoller 构造 Poller。evaluator 表示本代理是否承担评估角色。
func NewPoller(lister JobLister, dispatcher *Dispatcher, agent common.Address, evaluator bool, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	return &Poller{
		lister:     lister,
		dispatcher: dispatcher,
		agent:      agent,
		evaluator:  evaluator,
		interval:   interval,
		pageSize:   100,
		log:        logger.Named("dispatch.poller"),
	}
}

// Run 周期性扫描直到 ctx 取消。
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.scan(ctx)
		}
	}
}

func (p *Poller) scan(ctx context.Context) {
	for page := 1; ; page++ {
		jobs, err := p.lister.ActiveJobs(ctx, page, p.pageSize)
		if err != nil {
			p.log.Warn("拉取活跃任务失败", slog.Any("error", err))
			return
		}
		for _, j := range jobs {
			if evt, ok := p.synthesize(j); ok {
				if err := p.dispatcher.Intake(ctx, evt); err != nil {
					p.log.Error("事件入队失败", slog.Int64("job_id", evt.JobID), slog.Any("error", err))
				}
			}
		}
		if len(jobs) < p.pageSize {
			return
		}
	}
}

// synthesize 判断任务当前阶段是否轮到本代理行动，是则合成事件。
// 事件的 MemoID 取指向下一目标阶段的最新备忘录，与推送通道保持
// 一致的去重键。
func (p *Poller) synthesize(j *job.Job) (Event, bool) {
	if j == nil || j.Phase.Terminal() {
		return Event{}, false
	}

	kind := KindNewTask
	var target job.Phase
	switch {
	case p.evaluator && p.agent == j.EvaluatorAddress && j.Phase == job.PhaseEvaluation:
		kind = KindEvaluate
		target = job.PhaseCompleted
	case p.agent == j.ProviderAddress && (j.Phase == job.PhaseRequest || j.Phase == job.PhaseNegotiation):
		target = job.PhaseNegotiation
	case p.agent == j.ClientAddress && j.Phase == job.PhaseNegotiation:
		target = job.PhaseTransaction
	case p.agent == j.ProviderAddress && j.Phase == job.PhaseTransaction:
		target = job.PhaseEvaluation
	default:
		return Event{}, false
	}

	memo, err := j.MemoTargeting(target)
	if err != nil {
		return Event{}, false
	}
	return Event{
		Kind:   kind,
		JobID:  j.ID,
		MemoID: memo.ID,
		Phase:  j.Phase,
		Memos:  j.Memos,
	}, true
}
