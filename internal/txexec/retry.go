package txexec

import (
	"context"
	"time"
)

// RetryPolicy 统一描述有界重试：最大尝试次数加一个退避函数。
// 执行器的确认轮询、任务 ID 恢复和网关的写重试共用这一个类型，
// 避免散落在各处的 sleep 循环带着不同的常量。
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// FixedBackoff 返回固定间隔的退避函数。
func FixedBackoff(delay time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return delay }
}

// LinearBackoff 返回线性增长的退避函数：第 n 次尝试后等待 n*base。
func LinearBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration { return time.Duration(attempt) * base }
}

// DefaultConfirmPolicy 是确认轮询的默认策略：3 次尝试，每次间隔 3 秒。
func DefaultConfirmPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: FixedBackoff(3 * time.Second)}
}

// DefaultWritePolicy 是网关写操作的默认策略：3 次尝试，退避逐次加长。
func DefaultWritePolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(2 * time.Second)}
}

// Attempts 返回归一化后的尝试次数，至少为 1。
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Wait 在第 attempt 次尝试之后等待退避时间，上下文取消时立即返回。
func (p RetryPolicy) Wait(ctx context.Context, attempt int) error {
	if p.Backoff == nil {
		return ctx.Err()
	}
	delay := p.Backoff(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
