package txexec

import (
	"context"
	"encoding/hex"
	"encoding/json"

	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/internal/relayer"
)

// RelayerBackend 通过中继后端提交交易：代理对 trxData 做 personal 签名，
// 由中继代为上链，之后通过 trx-result 查询确认状态。
type RelayerBackend struct {
	client      *relayer.Client
	agentWallet string
}

// NewRelayerBackend 构造中继后端。agentWallet 是链上代理钱包地址，
// 可能与签名 EOA 不同。
func NewRelayerBackend(client *relayer.Client, agentWallet string) *RelayerBackend {
	return &RelayerBackend{client: client, agentWallet: agentWallet}
}

// Submit 实现 Backend 接口。签名的消息是 trxData 的紧凑 JSON，
// 字段顺序 target/value/data 是签名约定的一部分。
func (b *RelayerBackend) Submit(ctx context.Context, call Call, signer *Signer) (Receipt, error) {
	if b == nil || b.client == nil {
		return Receipt{}, xerrors.New(xerrors.CodeInitializationFailure, "中继后端未初始化")
	}

	value := "0"
	if call.Value != nil && call.Value.Sign() > 0 {
		value = call.Value.String()
	}
	trxData := relayer.TrxData{
		Target: call.Target.Hex(),
		Value:  value,
		Data:   "0x" + hex.EncodeToString(call.Data),
	}

	message, err := json.Marshal(trxData)
	if err != nil {
		return Receipt{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 trxData 失败")
	}
	signature, err := signer.SignPersonal(message)
	if err != nil {
		return Receipt{}, err
	}

	result, err := b.client.SubmitTransaction(ctx, relayer.Submission{
		AgentWallet: b.agentWallet,
		TrxData:     trxData,
		Signature:   signature,
	})
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Ref: result.Ref(), MemoID: result.MemoID}, nil
}

// Status 实现 Backend 接口。
func (b *RelayerBackend) Status(ctx context.Context, ref string) (Confirmation, error) {
	result, err := b.client.TransactionResult(ctx, ref)
	if err != nil {
		return Confirmation{}, err
	}
	confirmation := Confirmation{JobID: result.JobID}
	switch result.Status {
	case relayer.StatusSuccess:
		confirmation.State = StateSuccess
	case relayer.StatusFailed:
		confirmation.State = StateFailed
	case relayer.StatusRetry:
		confirmation.State = StateRetry
	default:
		confirmation.State = StatePending
	}
	return confirmation, nil
}
