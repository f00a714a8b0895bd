package contract

import (
	"context"

	"AgentCommerce-Chain/internal/job"
	"AgentCommerce-Chain/internal/relayer"
)

// RelayerReader 用中继接口实现读取路径。中继返回的任务已带全量
// 备忘录，阶段过滤与分页在本地完成。
type RelayerReader struct {
	client *relayer.Client
}

// NewRelayerReader 构造 RelayerReader。
func NewRelayerReader(client *relayer.Client) *RelayerReader {
	return &RelayerReader{client: client}
}

// JobByID 实现 Reader。
func (r *RelayerReader) JobByID(ctx context.Context, jobID int64) (*job.Job, error) {
	return r.client.JobByID(ctx, jobID)
}

// Memos 实现 Reader。
func (r *RelayerReader) Memos(ctx context.Context, jobID int64, phase *job.Phase, offset, limit int) ([]job.Memo, int, error) {
	j, err := r.client.JobByID(ctx, jobID)
	if err != nil {
		return nil, 0, err
	}

	filtered := j.Memos
	if phase != nil {
		filtered = make([]job.Memo, 0, len(j.Memos))
		for _, m := range j.Memos {
			if m.NextPhase == *phase {
				filtered = append(filtered, m)
			}
		}
	}

	total := len(filtered)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return filtered[offset:end], total, nil
}
