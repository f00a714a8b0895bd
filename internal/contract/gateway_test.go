package contract

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"context"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/internal/job"
	"AgentCommerce-Chain/internal/relayer"
	"AgentCommerce-Chain/internal/txexec"
)

const testKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

var (
	testContract = common.HexToAddress("0x2e1c4d4b9b6a8ab52b8f5b1f2f8b3d0a1c9e7f55")
	testToken    = common.HexToAddress("0x036cbd53842c5426634e7929541ec2318f3dcf7e")
)

// fakeRelayer 模拟中继的写端点：提交返回固定句柄，状态查询按脚本
// 依次返回。
type fakeRelayer struct {
	submitStatus []int // 每次提交返回的 HTTP 状态码，超出后按 200 处理
	statuses     []string
	jobID        int64
	memoID       int64

	submits int32
	polls   int32
}

func (f *fakeRelayer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/transactions", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&f.submits, 1)
		if int(n) <= len(f.submitStatus) && f.submitStatus[n-1] >= 400 {
			w.WriteHeader(f.submitStatus[n-1])
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":  "error",
				"message": "提交被拒",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"userOpHash": "0xop1", "memoId": f.memoID},
		})
	})
	mux.HandleFunc("/trx-result", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&f.polls, 1)
		status := "pending"
		if int(n) <= len(f.statuses) {
			status = f.statuses[n-1]
		} else if len(f.statuses) > 0 {
			status = f.statuses[len(f.statuses)-1]
		}
		body := map[string]any{"data": map[string]any{"status": status}}
		if status == relayer.StatusSuccess && f.jobID != 0 {
			body["data"].(map[string]any)["result"] = map[string]any{"jobId": f.jobID}
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	return mux
}

func newTestGateway(t *testing.T, srv *httptest.Server, reader Reader) *Gateway {
	t.Helper()
	client, err := relayer.NewClient(srv.URL, "0xabc", srv.Client())
	if err != nil {
		t.Fatalf("构造客户端失败: %v", err)
	}
	signer, err := txexec.NewSigner(testKey)
	if err != nil {
		t.Fatalf("构造签名者失败: %v", err)
	}
	fast := txexec.RetryPolicy{MaxAttempts: 3, Backoff: txexec.FixedBackoff(time.Millisecond)}
	executor := txexec.NewExecutor(
		txexec.NewRelayerBackend(client, "0xabc"),
		signer,
		txexec.WithConfirmPolicy(fast),
	)
	return NewGateway(executor, reader, testContract, testToken, WithWritePolicy(fast))
}

func TestCreateJobRecoversIDAfterRetries(t *testing.T) {
	fake := &fakeRelayer{
		statuses: []string{relayer.StatusRetry, relayer.StatusRetry, relayer.StatusSuccess},
		jobID:    42,
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	gw := newTestGateway(t, srv, nil)
	jobID, err := gw.CreateJob(context.Background(),
		common.HexToAddress("0x1"), common.HexToAddress("0x2"), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if jobID != 42 {
		t.Fatalf("任务 ID 应为 42, 实际 %d", jobID)
	}
	if got := atomic.LoadInt32(&fake.submits); got != 1 {
		t.Fatalf("提交应只发生一次, 实际 %d 次", got)
	}
	if got := atomic.LoadInt32(&fake.polls); got != 3 {
		t.Fatalf("状态查询应为 3 次, 实际 %d 次", got)
	}
}

func TestCreateJobFailsWhenIDUnrecoverable(t *testing.T) {
	fake := &fakeRelayer{statuses: []string{relayer.StatusPending}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	gw := newTestGateway(t, srv, nil)
	_, err := gw.CreateJob(context.Background(),
		common.HexToAddress("0x1"), common.HexToAddress("0x2"), time.Now().Add(time.Hour))
	if err == nil {
		t.Fatal("轮询耗尽后应返回错误")
	}
	if code := xerrors.CodeOf(err); code != xerrors.CodeJobCreationFailed {
		t.Fatalf("错误码应为 %s, 实际 %s", xerrors.CodeJobCreationFailed, code)
	}
	if got := atomic.LoadInt32(&fake.submits); got != 1 {
		t.Fatalf("失败恢复期间不得重新提交, 实际提交 %d 次", got)
	}
}

func TestCreateMemoRetriesFullWrite(t *testing.T) {
	fake := &fakeRelayer{
		submitStatus: []int{http.StatusInternalServerError, http.StatusInternalServerError},
		statuses:     []string{relayer.StatusSuccess},
		memoID:       7,
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	gw := newTestGateway(t, srv, nil)
	memoID, err := gw.CreateMemo(context.Background(), 42, "交付物", job.MemoObjectURL, false, job.PhaseCompleted)
	if err != nil {
		t.Fatalf("备忘录创建失败: %v", err)
	}
	if memoID != 7 {
		t.Fatalf("备忘录 ID 应为 7, 实际 %d", memoID)
	}
	if got := atomic.LoadInt32(&fake.submits); got != 3 {
		t.Fatalf("前两次提交失败后应重试, 共 3 次提交, 实际 %d 次", got)
	}
}

func TestCreateMemoExhaustsRetries(t *testing.T) {
	fake := &fakeRelayer{
		submitStatus: []int{500, 500, 500},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	gw := newTestGateway(t, srv, nil)
	_, err := gw.CreateMemo(context.Background(), 42, "hello", job.MemoMessage, false, job.PhaseNegotiation)
	if err == nil {
		t.Fatal("重试耗尽后应返回错误")
	}
	if code := xerrors.CodeOf(err); code != xerrors.CodeMemoCreationFailed {
		t.Fatalf("错误码应为 %s, 实际 %s", xerrors.CodeMemoCreationFailed, code)
	}
	if got := atomic.LoadInt32(&fake.submits); got != 3 {
		t.Fatalf("写重试上限为 3 次, 实际 %d 次", got)
	}
}

func TestSignMemoWrapsFailure(t *testing.T) {
	fake := &fakeRelayer{submitStatus: []int{500, 500, 500}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	gw := newTestGateway(t, srv, nil)
	err := gw.SignMemo(context.Background(), 9, true, "同意")
	if code := xerrors.CodeOf(err); code != xerrors.CodeMemoSignFailed {
		t.Fatalf("错误码应为 %s, 实际 %s", xerrors.CodeMemoSignFailed, code)
	}
}

func TestApproveAllowanceSingleAttempt(t *testing.T) {
	fake := &fakeRelayer{submitStatus: []int{500}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	gw := newTestGateway(t, srv, nil)
	err := gw.ApproveAllowance(context.Background(), big.NewInt(1000))
	if err == nil {
		t.Fatal("授权失败应直接返回错误")
	}
	if got := atomic.LoadInt32(&fake.submits); got != 1 {
		t.Fatalf("支付步骤不重试, 实际提交 %d 次", got)
	}
}

func TestRelayerReaderFiltersAndPaginates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs/42", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"onChainJobId":  42,
				"clientAddress": "0x1",
				"sellerAddress": "0x2",
				"phase":         1,
				"memos": []map[string]any{
					{"memoId": 1, "content": "a", "nextPhase": 1},
					{"memoId": 2, "content": "b", "nextPhase": 2},
					{"memoId": 3, "content": "c", "nextPhase": 2},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := relayer.NewClient(srv.URL, "0xabc", srv.Client())
	if err != nil {
		t.Fatalf("构造客户端失败: %v", err)
	}
	reader := NewRelayerReader(client)

	phase := job.PhaseTransaction
	memos, total, err := reader.Memos(context.Background(), 42, &phase, 0, 1)
	if err != nil {
		t.Fatalf("读取备忘录失败: %v", err)
	}
	if total != 2 {
		t.Fatalf("过滤后总数应为 2, 实际 %d", total)
	}
	if len(memos) != 1 || memos[0].ID != 2 {
		t.Fatalf("分页后应仅返回备忘录 2, 实际 %+v", memos)
	}

	memos, total, err = reader.Memos(context.Background(), 42, nil, 2, 10)
	if err != nil {
		t.Fatalf("读取备忘录失败: %v", err)
	}
	if total != 3 || len(memos) != 1 || memos[0].ID != 3 {
		t.Fatalf("偏移分页结果不符: total=%d memos=%+v", total, memos)
	}
}
