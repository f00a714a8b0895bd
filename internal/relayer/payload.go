package relayer

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/internal/job"
)

// jobPayload mirrors the job shape the read endpoints return. Identifier and
// amount fields are decoded leniently: different backend revisions emit them
// as numbers or strings. Phases are normalized into job.Phase here, at the
// deserialization boundary, and nowhere else.
type jobPayload struct {
	ID               json.Number   `json:"id"`
	OnChainJobID     json.Number   `json:"onChainJobId"`
	ClientAddress    string        `json:"clientAddress"`
	ProviderAddress  string        `json:"providerAddress"`
	SellerAddress    string        `json:"sellerAddress"`
	EvaluatorAddress string        `json:"evaluatorAddress"`
	Budget           json.Number   `json:"budget"`
	AmountClaimed    json.Number   `json:"amountClaimed"`
	Phase            job.Phase     `json:"phase"`
	MemoCount        int           `json:"memoCount"`
	ExpiredAt        string        `json:"expiredAt"`
	Memos            []memoPayload `json:"memos"`
}

type memoPayload struct {
	MemoID    json.Number  `json:"memoId"`
	JobID     json.Number  `json:"jobId"`
	Sender    string       `json:"senderAddress"`
	MemoType  job.MemoType `json:"memoType"`
	Content   string       `json:"content"`
	NextPhase job.Phase    `json:"nextPhase"`
	IsSecured bool         `json:"isSecured"`
}

func (p jobPayload) toJob() (*job.Job, error) {
	id := p.OnChainJobID
	if id == "" {
		id = p.ID
	}
	jobID, err := numberToInt64(id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeAPIError, err, "malformed job id")
	}

	provider := p.ProviderAddress
	if provider == "" {
		provider = p.SellerAddress
	}

	decoded := &job.Job{
		ID:               jobID,
		ClientAddress:    common.HexToAddress(p.ClientAddress),
		ProviderAddress:  common.HexToAddress(provider),
		EvaluatorAddress: common.HexToAddress(p.EvaluatorAddress),
		Budget:           numberToWei(p.Budget),
		AmountClaimed:    numberToWei(p.AmountClaimed),
		Phase:            p.Phase,
		MemoCount:        p.MemoCount,
	}

	if p.ExpiredAt != "" {
		expiredAt, err := time.Parse(time.RFC3339, p.ExpiredAt)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeAPIError, err, "malformed job expiry")
		}
		decoded.ExpiredAt = expiredAt
	}

	decoded.Memos = make([]job.Memo, 0, len(p.Memos))
	for _, raw := range p.Memos {
		memo, err := raw.toMemo()
		if err != nil {
			return nil, err
		}
		if memo.JobID == 0 {
			memo.JobID = jobID
		}
		decoded.Memos = append(decoded.Memos, memo)
	}
	if decoded.MemoCount == 0 {
		decoded.MemoCount = len(decoded.Memos)
	}
	return decoded, nil
}

func (p memoPayload) toMemo() (job.Memo, error) {
	memoID, err := numberToInt64(p.MemoID)
	if err != nil {
		return job.Memo{}, xerrors.Wrap(xerrors.CodeAPIError, err, "malformed memo id")
	}
	jobID, err := numberToInt64(p.JobID)
	if err != nil {
		return job.Memo{}, xerrors.Wrap(xerrors.CodeAPIError, err, "malformed memo job id")
	}
	return job.Memo{
		ID:        memoID,
		JobID:     jobID,
		Sender:    common.HexToAddress(p.Sender),
		Type:      p.MemoType,
		Content:   p.Content,
		NextPhase: p.NextPhase,
		IsSecured: p.IsSecured,
	}, nil
}

func numberToInt64(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	return n.Int64()
}

// numberToWei decodes an integer amount in the smallest currency unit. Values
// that do not parse are treated as zero rather than failing the whole job.
func numberToWei(n json.Number) *big.Int {
	if n == "" {
		return new(big.Int)
	}
	value, ok := new(big.Int).SetString(n.String(), 10)
	if !ok {
		return new(big.Int)
	}
	return value
}
