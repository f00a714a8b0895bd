package contract

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

func jobCreatedLog(addr common.Address, jobID int64) *coretypes.Log {
	return &coretypes.Log{
		Address: addr,
		Topics: []common.Hash{
			ProtocolABI.Events["JobCreated"].ID,
			common.BigToHash(big.NewInt(jobID)),
			common.HexToHash("0x1"),
			common.HexToHash("0x2"),
		},
	}
}

func TestJobIDFromLogsRecoversID(t *testing.T) {
	logs := []*coretypes.Log{
		// 其他合约发出的同名事件不算数。
		jobCreatedLog(common.HexToAddress("0xdead"), 99),
		// 协议合约的其他事件也要跳过。
		{
			Address: testContract,
			Topics:  []common.Hash{common.HexToHash("0xabcdef")},
		},
		jobCreatedLog(testContract, 42),
	}

	if got := JobIDFromLogs(testContract, logs); got != 42 {
		t.Fatalf("任务 ID = %d, 期望 42", got)
	}
}

func TestJobIDFromLogsMissingEvent(t *testing.T) {
	if got := JobIDFromLogs(testContract, nil); got != 0 {
		t.Fatalf("空日志应返回 0, 实际 %d", got)
	}
	logs := []*coretypes.Log{nil, {Address: testContract}}
	if got := JobIDFromLogs(testContract, logs); got != 0 {
		t.Fatalf("无事件日志应返回 0, 实际 %d", got)
	}
}
