// Package dispatch 把外部推送或轮询到的任务更新事件转换成状态机调用：
// 去重、按任务保序、通过有界工作池执行回调，事件接收永远不会被回调
// 处理阻塞。
package dispatch

import (
	"encoding/json"
	"fmt"

	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/internal/job"
)

// Kind 表示事件类别，对应推送通道的事件名。
type Kind string

const (
	// KindNewTask 表示有新任务或任务进入了需要本代理行动的阶段。
	KindNewTask Kind = "onNewTask"
	// KindEvaluate 表示任务等待本代理评估验收。
	KindEvaluate Kind = "onEvaluate"
)

// Event 是一次任务更新通知。MemoID 是触发本次通知的目标备忘录，
// 与 JobID 一起构成去重键。Memos 是事件携带的快照，回调在需要
// 权威状态时应重新拉取任务。
type Event struct {
	Kind   Kind       `json:"kind"`
	JobID  int64      `json:"jobId"`
	MemoID int64      `json:"memoId"`
	Phase  job.Phase  `json:"phase"`
	Memos  []job.Memo `json:"memos,omitempty"`
}

// Valid 校验事件的最低要求。不满足的事件记录日志后丢弃，绝不让
// 畸形载荷击穿调度器。
func (e Event) Valid() error {
	if e.Kind != KindNewTask && e.Kind != KindEvaluate {
		return xerrors.New(xerrors.CodeEventDropped, fmt.Sprintf("未知的事件类别: %q", e.Kind))
	}
	if e.JobID <= 0 {
		return xerrors.New(xerrors.CodeEventDropped, "事件缺少任务 ID")
	}
	return nil
}

// Encode 把事件序列化为队列载荷。
func (e Event) Encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeEventDropped, err, "事件序列化失败")
	}
	return string(raw), nil
}

// DecodeEvent 从队列载荷还原事件，畸形载荷返回 EVENT_DROPPED。
func DecodeEvent(payload string) (Event, error) {
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeEventDropped, err, "事件载荷不是合法的 JSON")
	}
	if err := evt.Valid(); err != nil {
		return Event{}, err
	}
	return evt, nil
}
