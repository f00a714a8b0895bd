package chain

import (
	"fmt"
	"math/big"
	"time"

	"context"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"AgentCommerce-Chain/internal/contract"
	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/internal/job"
)

// 合约视图函数返回的备忘录元组不带 ID，经由这条路读到的备忘录
// 一律是只读的（Actionable() == false），签署需走中继读取路径。

var _ contract.Reader = (*Client)(nil)

type jobView struct {
	Id            *big.Int
	Client        common.Address
	Provider      common.Address
	Budget        *big.Int
	AmountClaimed *big.Int
	Phase         uint8
	MemoCount     *big.Int
	ExpiredAt     *big.Int
	Evaluator     common.Address
}

type memoView struct {
	Content   string
	MemoType  uint8
	IsSecured bool
	NextPhase uint8
	JobId     *big.Int
	Sender    common.Address
}

type memoPage struct {
	Memos []memoView
	Total *big.Int
}

// JobByID 实现 contract.Reader,从合约视图函数读取任务状态。
func (c *Client) JobByID(ctx context.Context, jobID int64) (*job.Job, error) {
	var view jobView
	if err := c.view(ctx, &view, "jobs", big.NewInt(jobID)); err != nil {
		return nil, err
	}
	if view.Id == nil || view.Id.Sign() == 0 {
		return nil, xerrors.New(xerrors.CodeAPIError, fmt.Sprintf("任务 %d 不存在", jobID))
	}

	phase, err := job.ParsePhase(int(view.Phase))
	if err != nil {
		return nil, err
	}

	memoCount := int(view.MemoCount.Int64())
	memos, _, err := c.Memos(ctx, jobID, nil, 0, memoCount)
	if err != nil {
		return nil, err
	}

	return &job.Job{
		ID:               jobID,
		ClientAddress:    view.Client,
		ProviderAddress:  view.Provider,
		EvaluatorAddress: view.Evaluator,
		Budget:           view.Budget,
		AmountClaimed:    view.AmountClaimed,
		Phase:            phase,
		MemoCount:        memoCount,
		ExpiredAt:        unixTime(view.ExpiredAt),
		Memos:            memos,
	}, nil
}

// Memos 实现 contract.Reader。phase 非空时走按阶段过滤的视图。
func (c *Client) Memos(ctx context.Context, jobID int64, phase *job.Phase, offset, limit int) ([]job.Memo, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 100
	}

	var page memoPage
	var err error
	if phase != nil {
		err = c.view(ctx, &page, "getMemosForPhase",
			big.NewInt(jobID), uint8(*phase), big.NewInt(int64(offset)), big.NewInt(int64(limit)))
	} else {
		err = c.view(ctx, &page, "getAllMemos",
			big.NewInt(jobID), big.NewInt(int64(offset)), big.NewInt(int64(limit)))
	}
	if err != nil {
		return nil, 0, err
	}

	memos := make([]job.Memo, 0, len(page.Memos))
	for _, raw := range page.Memos {
		nextPhase, perr := job.ParsePhase(int(raw.NextPhase))
		if perr != nil {
			return nil, 0, perr
		}
		memos = append(memos, job.Memo{
			JobID:     jobID,
			Sender:    raw.Sender,
			Type:      job.MemoType(raw.MemoType),
			Content:   raw.Content,
			NextPhase: nextPhase,
			IsSecured: raw.IsSecured,
		})
	}

	total := 0
	if page.Total != nil {
		total = int(page.Total.Int64())
	}
	return memos, total, nil
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}

func (c *Client) view(ctx context.Context, out any, method string, args ...any) error {
	data, err := contract.ProtocolABI.Pack(method, args...)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err,
			fmt.Sprintf("编码 %s 调用失败", method))
	}
	raw, err := c.eth.CallContract(ctx, gethcore.CallMsg{
		To:   &c.contractAddr,
		Data: data,
	}, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConnectivity, err,
			fmt.Sprintf("调用视图函数 %s 失败", method))
	}
	if err := contract.ProtocolABI.UnpackIntoInterface(out, method, raw); err != nil {
		return xerrors.Wrap(xerrors.CodeAPIError, err,
			fmt.Sprintf("解码 %s 返回值失败", method))
	}
	return nil
}
