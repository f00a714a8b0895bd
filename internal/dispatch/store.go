package dispatch

import "context"

// SeenStore 记录已经处理过的 (jobID, memoID) 对。MarkSeen 的首次
// 调用返回 true，重复调用返回 false，调度器据此丢弃重复事件。
type SeenStore interface {
	MarkSeen(ctx context.Context, jobID, memoID int64) (bool, error)
	Seen(ctx context.Context, jobID, memoID int64) (bool, error)
	Close() error
}
