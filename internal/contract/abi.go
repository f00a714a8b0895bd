package contract

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// 协议合约中客户端实际用到的方法子集。视图函数返回的备忘录元组不含
// 备忘录 ID，这是合约本身的限制，读取路径据此把结果标记为只读。
const protocolABIJSON = `[
  {"type":"function","name":"createJob","stateMutability":"nonpayable","inputs":[
    {"name":"provider","type":"address"},
    {"name":"evaluator","type":"address"},
    {"name":"expiredAt","type":"uint256"}],
   "outputs":[]},
  {"type":"event","name":"JobCreated","inputs":[
    {"name":"jobId","type":"uint256","indexed":true},
    {"name":"client","type":"address","indexed":true},
    {"name":"provider","type":"address","indexed":true}]},
  {"type":"function","name":"createMemo","stateMutability":"nonpayable","inputs":[
    {"name":"jobId","type":"uint256"},
    {"name":"content","type":"string"},
    {"name":"memoType","type":"uint8"},
    {"name":"isSecured","type":"bool"},
    {"name":"nextPhase","type":"uint8"}],
   "outputs":[]},
  {"type":"function","name":"signMemo","stateMutability":"nonpayable","inputs":[
    {"name":"memoId","type":"uint256"},
    {"name":"isApproved","type":"bool"},
    {"name":"reason","type":"string"}],
   "outputs":[]},
  {"type":"function","name":"setBudget","stateMutability":"nonpayable","inputs":[
    {"name":"jobId","type":"uint256"},
    {"name":"budget","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"jobs","stateMutability":"view","inputs":[
    {"name":"jobId","type":"uint256"}],
   "outputs":[
    {"name":"id","type":"uint256"},
    {"name":"client","type":"address"},
    {"name":"provider","type":"address"},
    {"name":"budget","type":"uint256"},
    {"name":"amountClaimed","type":"uint256"},
    {"name":"phase","type":"uint8"},
    {"name":"memoCount","type":"uint256"},
    {"name":"expiredAt","type":"uint256"},
    {"name":"evaluator","type":"address"}]},
  {"type":"function","name":"getAllMemos","stateMutability":"view","inputs":[
    {"name":"jobId","type":"uint256"},
    {"name":"offset","type":"uint256"},
    {"name":"limit","type":"uint256"}],
   "outputs":[
    {"name":"memos","type":"tuple[]","components":[
      {"name":"content","type":"string"},
      {"name":"memoType","type":"uint8"},
      {"name":"isSecured","type":"bool"},
      {"name":"nextPhase","type":"uint8"},
      {"name":"jobId","type":"uint256"},
      {"name":"sender","type":"address"}]},
    {"name":"total","type":"uint256"}]},
  {"type":"function","name":"getMemosForPhase","stateMutability":"view","inputs":[
    {"name":"jobId","type":"uint256"},
    {"name":"phase","type":"uint8"},
    {"name":"offset","type":"uint256"},
    {"name":"limit","type":"uint256"}],
   "outputs":[
    {"name":"memos","type":"tuple[]","components":[
      {"name":"content","type":"string"},
      {"name":"memoType","type":"uint8"},
      {"name":"isSecured","type":"bool"},
      {"name":"nextPhase","type":"uint8"},
      {"name":"jobId","type":"uint256"},
      {"name":"sender","type":"address"}]},
    {"name":"total","type":"uint256"}]}
]`

// 结算代币只用到授权方法。
const tokenABIJSON = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
    {"name":"spender","type":"address"},
    {"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

var (
	// ProtocolABI 是协议合约的解析结果。
	ProtocolABI abi.ABI
	// TokenABI 是结算代币的解析结果。
	TokenABI abi.ABI
)

func init() {
	var err error
	ProtocolABI, err = abi.JSON(strings.NewReader(protocolABIJSON))
	if err != nil {
		panic("解析协议 ABI 失败: " + err.Error())
	}
	TokenABI, err = abi.JSON(strings.NewReader(tokenABIJSON))
	if err != nil {
		panic("解析代币 ABI 失败: " + err.Error())
	}
}

// JobIDFromLogs 在回执日志里找协议合约的 JobCreated 事件, 返回其中的
// 任务 ID。jobId 是第一个索引参数, 直接落在 Topics[1]。找不到时返回 0。
func JobIDFromLogs(contractAddr common.Address, logs []*coretypes.Log) int64 {
	topic := ProtocolABI.Events["JobCreated"].ID
	for _, entry := range logs {
		if entry == nil || entry.Address != contractAddr {
			continue
		}
		if len(entry.Topics) < 2 || entry.Topics[0] != topic {
			continue
		}
		return new(big.Int).SetBytes(entry.Topics[1].Bytes()).Int64()
	}
	return 0
}
