package chain

import (
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"context"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"AgentCommerce-Chain/internal/config"
	"AgentCommerce-Chain/internal/contract"
	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/internal/txexec"
	"AgentCommerce-Chain/pkg/logger"
)

var _ txexec.Backend = (*Client)(nil)

// Client 是直连链后端：自己组装、签名并广播交易，不经过中继。
// 同时提供基于合约视图函数的读取路径。
type Client struct {
	eth          *ethclient.Client
	rpcClient    *gethrpc.Client
	chainID      *big.Int
	contractAddr common.Address
	log          *slog.Logger

	// nonce 由本地维护，防止连续提交时读到落后的链上值。
	nonceMu   sync.Mutex
	nextNonce uint64
	nonceSet  bool
}

// Dial 按链环境配置建立直连客户端。
func Dial(ctx context.Context, env config.ChainEnvironment) (*Client, error) {
	rpcURL := strings.TrimSpace(env.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置链 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnectivity, err, "连接链节点失败")
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := big.NewInt(env.ChainID)
	if env.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, xerrors.Wrap(xerrors.CodeConnectivity, err, "获取链 ID 失败")
		}
	}

	return &Client{
		eth:          eth,
		rpcClient:    rpcClient,
		chainID:      chainID,
		contractAddr: common.HexToAddress(env.ContractAddress),
		log:          logger.Named("chain"),
	}, nil
}

// Close 释放底层连接。
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
		c.eth = nil
	}
}

// ChainID 返回客户端连接的链 ID。
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Submit 实现 txexec.Backend:组装动态费率交易、用本地私钥签名
// 后广播。nonce 在本地递增，提交失败时回滚供下次复用。
func (c *Client) Submit(ctx context.Context, call txexec.Call, signer *txexec.Signer) (txexec.Receipt, error) {
	if c == nil || c.eth == nil {
		return txexec.Receipt{}, xerrors.New(xerrors.CodeInitializationFailure, "链客户端未初始化")
	}

	nonce, err := c.reserveNonce(ctx, signer.Address())
	if err != nil {
		return txexec.Receipt{}, err
	}

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	gasTip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		c.releaseNonce(nonce)
		return txexec.Receipt{}, xerrors.Wrap(xerrors.CodeConnectivity, err, "获取小费上限失败")
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		c.releaseNonce(nonce)
		return txexec.Receipt{}, xerrors.Wrap(xerrors.CodeConnectivity, err, "获取最新区块头失败")
	}
	feeCap := new(big.Int).Add(gasTip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gasLimit, err := c.eth.EstimateGas(ctx, gethcore.CallMsg{
		From:  signer.Address(),
		To:    &call.Target,
		Value: value,
		Data:  call.Data,
	})
	if err != nil {
		c.releaseNonce(nonce)
		return txexec.Receipt{}, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "预估 gas 失败")
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: gasTip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &call.Target,
		Value:     value,
		Data:      call.Data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(c.chainID), signer.Key())
	if err != nil {
		c.releaseNonce(nonce)
		return txexec.Receipt{}, xerrors.Wrap(xerrors.CodeTransactionFailed, err, "签名交易失败")
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		c.releaseNonce(nonce)
		return txexec.Receipt{}, xerrors.Wrap(xerrors.CodeConnectivity, err, "广播交易失败")
	}

	c.log.Debug("交易已广播",
		slog.String("hash", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
	)
	return txexec.Receipt{Ref: signed.Hash().Hex()}, nil
}

// Status 实现 txexec.Backend:按交易哈希查询回执。
func (c *Client) Status(ctx context.Context, ref string) (txexec.Confirmation, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, common.HexToHash(ref))
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return txexec.Confirmation{State: txexec.StatePending}, nil
		}
		return txexec.Confirmation{}, xerrors.Wrap(xerrors.CodeConnectivity, err, "查询交易回执失败")
	}
	if receipt.Status == coretypes.ReceiptStatusSuccessful {
		// createJob 的任务 ID 靠回执里的 JobCreated 事件带回来。
		return txexec.Confirmation{
			State: txexec.StateSuccess,
			JobID: contract.JobIDFromLogs(c.contractAddr, receipt.Logs),
		}, nil
	}
	return txexec.Confirmation{State: txexec.StateFailed}, nil
}

// WaitMined 轮询交易回执直到出块或超时,部署调试用。
func (c *Client) WaitMined(ctx context.Context, ref string, interval time.Duration) (txexec.Confirmation, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		confirmation, err := c.Status(ctx, ref)
		if err != nil {
			return txexec.Confirmation{}, err
		}
		if confirmation.State != txexec.StatePending {
			return confirmation, nil
		}
		select {
		case <-ctx.Done():
			return confirmation, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) reserveNonce(ctx context.Context, from common.Address) (uint64, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	if !c.nonceSet {
		pending, err := c.eth.PendingNonceAt(ctx, from)
		if err != nil {
			return 0, xerrors.Wrap(xerrors.CodeConnectivity, err, "查询账户 nonce 失败")
		}
		c.nextNonce = pending
		c.nonceSet = true
	}
	nonce := c.nextNonce
	c.nextNonce++
	return nonce, nil
}

func (c *Client) releaseNonce(nonce uint64) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	if c.nonceSet && c.nextNonce == nonce+1 {
		c.nextNonce = nonce
	}
}
