package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"context"

	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/internal/lifecycle"
	"AgentCommerce-Chain/internal/observability/alerting"
	"AgentCommerce-Chain/pkg/logger"
)

// TaskHandler 处理需要本代理作为客户或服务方行动的事件。
type TaskHandler interface {
	OnNewTask(ctx context.Context, evt Event) error
}

// TaskHandlerFunc 把函数适配成 TaskHandler。
type TaskHandlerFunc func(ctx context.Context, evt Event) error

// OnNewTask 实现 TaskHandler。
func (f TaskHandlerFunc) OnNewTask(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// EvaluateHandler 处理需要本代理评估验收的事件。
type EvaluateHandler interface {
	OnEvaluate(ctx context.Context, evt Event) error
}

// EvaluateHandlerFunc 把函数适配成 EvaluateHandler。
type EvaluateHandlerFunc func(ctx context.Context, evt Event) error

// OnEvaluate 实现 EvaluateHandler。
func (f EvaluateHandlerFunc) OnEvaluate(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// AutoAcceptEvaluator 是默认的评估回调：重新拉取任务后直接验收通过。
// 未显式注册评估逻辑的代理用它兜底，避免任务卡死在评估阶段。
type AutoAcceptEvaluator struct {
	svc *lifecycle.Service
}

// NewAutoAcceptEvaluator 构造 AutoAcceptEvaluator。
func NewAutoAcceptEvaluator(svc *lifecycle.Service) *AutoAcceptEvaluator {
	return &AutoAcceptEvaluator{svc: svc}
}

// OnEvaluate 实现 EvaluateHandler。
func (a *AutoAcceptEvaluator) OnEvaluate(ctx context.Context, evt Event) error {
	j, err := a.svc.Refresh(ctx, evt.JobID)
	if err != nil {
		return err
	}
	return a.svc.Evaluate(ctx, j, true, "自动验收通过")
}

// Dispatcher 是通知调度器。事件先经过 (jobID, memoID) 去重，再进入
// 队列由工作池消费；同一任务的事件按到达顺序串行处理，不同任务并发。
// 去重集合与每任务待处理列表共用一把互斥锁，锁内只做追加和弹出，
// 绝不跨网络调用持锁。
type Dispatcher struct {
	queue   Queue
	store   SeenStore
	onTask  TaskHandler
	onEval  EvaluateHandler
	alerts  alerting.Dispatcher
	workers int
	log     *slog.Logger

	mu      sync.Mutex
	pending map[int64][]Event
	active  map[int64]bool
	sem     chan struct{}
}

// DispatcherOption 定义可选配置。
type DispatcherOption func(*Dispatcher)

// WithWorkers 设置工作协程数量。
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithEvaluateHandler 注册评估回调。
func WithEvaluateHandler(h EvaluateHandler) DispatcherOption {
	return func(d *Dispatcher) {
		d.onEval = h
	}
}

// WithAlerts 注册告警分发器，回调失败时触发。
func WithAlerts(alerts alerting.Dispatcher) DispatcherOption {
	return func(d *Dispatcher) {
		d.alerts = alerts
	}
}

// WithDispatchLogger 指定日志输出。
func WithDispatchLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// NewDispatcher 构造 Dispatcher。
func NewDispatcher(queue Queue, store SeenStore, onTask TaskHandler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:   queue,
		store:   store,
		onTask:  onTask,
		workers: 4,
		pending: make(map[int64][]Event),
		active:  make(map[int64]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.log == nil {
		d.log = logger.Named("dispatch")
	}
	d.sem = make(chan struct{}, d.workers)
	return d
}

// Intake 接收一条事件：畸形的记录日志后丢弃，重复的静默跳过，
// 其余进入队列。Intake 从不被回调处理阻塞。
func (d *Dispatcher) Intake(ctx context.Context, evt Event) error {
	if err := evt.Valid(); err != nil {
		d.log.Warn("丢弃畸形事件", slog.Any("error", err))
		return nil
	}

	first, err := d.store.MarkSeen(ctx, evt.JobID, evt.MemoID)
	if err != nil {
		return err
	}
	if !first {
		d.log.Debug("丢弃重复事件",
			slog.Int64("job_id", evt.JobID),
			slog.Int64("memo_id", evt.MemoID),
		)
		return nil
	}

	payload, err := evt.Encode()
	if err != nil {
		d.log.Warn("丢弃无法序列化的事件", slog.Any("error", err))
		return nil
	}
	if err := d.queue.Publish(ctx, payload); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "事件入队失败")
	}
	return nil
}

// Run 消费队列直到 ctx 取消。队列侧只用单个消费者以保住到达顺序,
// 并发来自按任务拉起的处理协程, 数量由信号量限制在 workers 以内。
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.queue.Consume(ctx, 1, d.dispatch)
}

// Close 释放队列与去重存储。
func (d *Dispatcher) Close() error {
	if err := d.queue.Close(); err != nil {
		return err
	}
	return d.store.Close()
}

// dispatch 是队列消费入口。把事件挂到所属任务的待处理列表; 该任务
// 若没有处理协程则认领一个。追加和认领都在锁内完成, 处理在锁外。
func (d *Dispatcher) dispatch(ctx context.Context, payload string) error {
	evt, err := DecodeEvent(payload)
	if err != nil {
		d.log.Warn("丢弃无法解析的队列载荷", slog.Any("error", err))
		return nil
	}

	d.mu.Lock()
	d.pending[evt.JobID] = append(d.pending[evt.JobID], evt)
	claimed := !d.active[evt.JobID]
	if claimed {
		d.active[evt.JobID] = true
	}
	d.mu.Unlock()

	if claimed {
		go d.drain(ctx, evt.JobID)
	}
	return nil
}

// drain 串行清空一个任务的待处理列表，保证任务内事件按到达顺序
// 执行; 不同任务的 drain 并发运行, 总数受信号量约束。
func (d *Dispatcher) drain(ctx context.Context, jobID int64) {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.pending, jobID)
		delete(d.active, jobID)
		d.mu.Unlock()
		return
	}
	defer func() { <-d.sem }()

	for {
		d.mu.Lock()
		backlog := d.pending[jobID]
		if len(backlog) == 0 {
			delete(d.pending, jobID)
			delete(d.active, jobID)
			d.mu.Unlock()
			return
		}
		next := backlog[0]
		d.pending[jobID] = backlog[1:]
		d.mu.Unlock()

		d.handle(ctx, next)
	}
}

// handle 执行单条事件的回调。失败不重投（去重已消费该事件），
// 记审计日志并走告警通道升级。
func (d *Dispatcher) handle(ctx context.Context, evt Event) {
	err := d.invoke(ctx, evt)
	if err == nil {
		logger.EventHandled(string(evt.Kind), evt.JobID, evt.MemoID)
		return
	}

	d.log.Error("事件处理失败",
		slog.String("kind", string(evt.Kind)),
		slog.Int64("job_id", evt.JobID),
		slog.Int64("memo_id", evt.MemoID),
		slog.Any("error", err),
	)
	if d.alerts != nil && xerrors.ShouldAlert(err) {
		_ = d.alerts.Notify(ctx, alerting.Event{
			Code:       xerrors.CodeOf(err),
			Message:    err.Error(),
			Severity:   xerrors.SeverityOf(err),
			JobID:      evt.JobID,
			MemoID:     evt.MemoID,
			OccurredAt: time.Now(),
		})
	}
}

// invoke 调回调并兜住 panic, 回调的崩溃不能带走分发协程。
func (d *Dispatcher) invoke(ctx context.Context, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("回调 panic: %v", r))
		}
	}()

	switch evt.Kind {
	case KindEvaluate:
		if d.onEval == nil {
			d.log.Warn("未注册评估回调, 丢弃事件", slog.Int64("job_id", evt.JobID))
			return nil
		}
		return d.onEval.OnEvaluate(ctx, evt)
	default:
		if d.onTask == nil {
			d.log.Warn("未注册任务回调, 丢弃事件", slog.Int64("job_id", evt.JobID))
			return nil
		}
		return d.onTask.OnNewTask(ctx, evt)
	}
}
