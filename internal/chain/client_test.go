package chain

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"context"

	"github.com/ethereum/go-ethereum/common"

	"AgentCommerce-Chain/internal/config"
	"AgentCommerce-Chain/internal/contract"
	"AgentCommerce-Chain/internal/txexec"
)

var testContract = common.HexToAddress("0x2e1c4d4b9b6a8ab52b8f5b1f2f8b3d0a1c9e7f55")

// rpcStub 只实现测试用到的 JSON-RPC 方法。
func rpcStub(t *testing.T, receipt map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("解析 RPC 请求失败: %v", err)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_getTransactionReceipt":
			resp["result"] = receipt
		default:
			t.Errorf("意外的 RPC 方法 %s", req.Method)
			resp["result"] = nil
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

const testTxHash = "0x9f2f2c1f5ac8a1e24dd5f06e0a43cbd0de6b9c1e4f6a2d3c4b5a69788776655e"

func successReceipt(logs []map[string]any) map[string]any {
	bloom := make([]byte, 512)
	for i := range bloom {
		bloom[i] = '0'
	}
	return map[string]any{
		"type":              "0x2",
		"status":            "0x1",
		"cumulativeGasUsed": "0x5208",
		"gasUsed":           "0x5208",
		"logsBloom":         "0x" + string(bloom),
		"transactionHash":   testTxHash,
		"logs":              logs,
	}
}

func TestStatusExtractsJobIDFromReceipt(t *testing.T) {
	eventTopic := contract.ProtocolABI.Events["JobCreated"].ID.Hex()
	logs := []map[string]any{{
		"address":         testContract.Hex(),
		"transactionHash": testTxHash,
		"topics": []string{
			eventTopic,
			common.BigToHash(common.Big256).Hex(), // jobId = 256
			common.HexToHash("0x1").Hex(),
			common.HexToHash("0x2").Hex(),
		},
		"data": "0x",
	}}
	srv := rpcStub(t, successReceipt(logs))
	defer srv.Close()

	client, err := Dial(context.Background(), config.ChainEnvironment{
		RPCURL:          srv.URL,
		ChainID:         84532,
		ContractAddress: testContract.Hex(),
	})
	if err != nil {
		t.Fatalf("建立链客户端失败: %v", err)
	}
	defer client.Close()

	confirmation, err := client.Status(context.Background(), testTxHash)
	if err != nil {
		t.Fatalf("查询回执失败: %v", err)
	}
	if confirmation.State != txexec.StateSuccess {
		t.Fatalf("状态 = %v, 期望成功", confirmation.State)
	}
	if confirmation.JobID != 256 {
		t.Fatalf("任务 ID = %d, 期望 256", confirmation.JobID)
	}
}

func TestStatusWithoutJobEvent(t *testing.T) {
	srv := rpcStub(t, successReceipt([]map[string]any{}))
	defer srv.Close()

	client, err := Dial(context.Background(), config.ChainEnvironment{
		RPCURL:          srv.URL,
		ChainID:         84532,
		ContractAddress: testContract.Hex(),
	})
	if err != nil {
		t.Fatalf("建立链客户端失败: %v", err)
	}
	defer client.Close()

	confirmation, err := client.Status(context.Background(), testTxHash)
	if err != nil {
		t.Fatalf("查询回执失败: %v", err)
	}
	if confirmation.State != txexec.StateSuccess || confirmation.JobID != 0 {
		t.Fatalf("无事件回执应为成功且任务 ID 为 0, 实际 %+v", confirmation)
	}
}
