package txexec

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	xerrors "AgentCommerce-Chain/internal/errors"
)

// 测试用私钥，对应地址无任何实际资产。
const testKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

type fakeBackend struct {
	submits  atomic.Int32
	statuses []Confirmation
	polls    atomic.Int32
}

func (f *fakeBackend) Submit(ctx context.Context, call Call, signer *Signer) (Receipt, error) {
	f.submits.Add(1)
	return Receipt{Ref: "0xabc"}, nil
}

func (f *fakeBackend) Status(ctx context.Context, ref string) (Confirmation, error) {
	index := int(f.polls.Add(1)) - 1
	if index >= len(f.statuses) {
		index = len(f.statuses) - 1
	}
	return f.statuses[index], nil
}

func newTestExecutor(t *testing.T, backend Backend) *Executor {
	t.Helper()
	signer, err := NewSigner(testKey)
	if err != nil {
		t.Fatalf("构造签名者失败: %v", err)
	}
	return NewExecutor(backend, signer, WithConfirmPolicy(RetryPolicy{
		MaxAttempts: 3,
		Backoff:     FixedBackoff(time.Millisecond),
	}))
}

func TestExecuteSubmitsExactlyOnce(t *testing.T) {
	backend := &fakeBackend{statuses: []Confirmation{
		{State: StateRetry},
		{State: StateRetry},
		{State: StateSuccess, JobID: 42},
	}}
	executor := newTestExecutor(t, backend)

	_, confirmation, err := executor.Execute(context.Background(), Call{})
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if confirmation.JobID != 42 {
		t.Fatalf("期望 jobId 42，得到 %d", confirmation.JobID)
	}
	if got := backend.submits.Load(); got != 1 {
		t.Fatalf("提交应当只发生一次，实际 %d 次", got)
	}
	if got := backend.polls.Load(); got != 3 {
		t.Fatalf("期望恰好 3 次状态轮询，实际 %d 次", got)
	}
}

func TestAwaitFailedIsFatal(t *testing.T) {
	backend := &fakeBackend{statuses: []Confirmation{{State: StateFailed}}}
	executor := newTestExecutor(t, backend)

	_, err := executor.Await(context.Background(), "0xabc")
	if err == nil {
		t.Fatal("期望确认失败返回错误")
	}
	if xerrors.CodeOf(err) != xerrors.CodeTransactionFailed {
		t.Fatalf("期望 TX_FAILED，得到 %s", xerrors.CodeOf(err))
	}
	if got := backend.polls.Load(); got != 1 {
		t.Fatalf("终态失败不应继续轮询，实际 %d 次", got)
	}
}

func TestAwaitExhaustsBudget(t *testing.T) {
	backend := &fakeBackend{statuses: []Confirmation{{State: StateRetry}}}
	executor := newTestExecutor(t, backend)

	_, err := executor.Await(context.Background(), "0xabc")
	if err == nil {
		t.Fatal("期望预算耗尽返回错误")
	}
	if xerrors.CodeOf(err) != xerrors.CodeTransactionUnconfirmed {
		t.Fatalf("期望 TX_UNCONFIRMED，得到 %s", xerrors.CodeOf(err))
	}
	if got := backend.polls.Load(); got != 3 {
		t.Fatalf("期望恰好 3 次轮询后放弃，实际 %d 次", got)
	}
}

func TestAwaitHonorsContextCancel(t *testing.T) {
	backend := &fakeBackend{statuses: []Confirmation{{State: StatePending}}}
	signer, err := NewSigner(testKey)
	if err != nil {
		t.Fatalf("构造签名者失败: %v", err)
	}
	executor := NewExecutor(backend, signer, WithConfirmPolicy(RetryPolicy{
		MaxAttempts: 5,
		Backoff:     FixedBackoff(time.Minute),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = executor.Await(ctx, "0xabc")
	if err == nil {
		t.Fatal("期望取消后返回错误")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("取消后未及时返回，耗时 %s", elapsed)
	}
}

func TestSignPersonalProducesRecoverableSignature(t *testing.T) {
	signer, err := NewSigner(testKey)
	if err != nil {
		t.Fatalf("构造签名者失败: %v", err)
	}
	signature, err := signer.SignPersonal([]byte(`{"target":"0x0","value":"0","data":"0x"}`))
	if err != nil {
		t.Fatalf("签名失败: %v", err)
	}
	if len(signature) != 2+65*2 {
		t.Fatalf("期望 65 字节签名的十六进制表示，实际长度 %d", len(signature))
	}
	if signature[:2] != "0x" {
		t.Fatalf("签名缺少 0x 前缀: %s", signature[:4])
	}
}

func TestRetryPolicyWaitCancel(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: FixedBackoff(time.Hour)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := policy.Wait(ctx, 1); err == nil {
		t.Fatal("期望取消的上下文导致 Wait 返回错误")
	}
}

func TestLinearBackoffGrows(t *testing.T) {
	backoff := LinearBackoff(2 * time.Second)
	if backoff(1) != 2*time.Second || backoff(3) != 6*time.Second {
		t.Fatalf("线性退避计算错误: %s, %s", backoff(1), backoff(3))
	}
}
