package dispatch

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"AgentCommerce-Chain/internal/job"
)

func TestSynthesizeByRoleAndPhase(t *testing.T) {
	provider := common.HexToAddress("0xb2")
	client := common.HexToAddress("0xc1")
	evaluator := common.HexToAddress("0xe3")

	base := job.Job{
		ID:               42,
		ClientAddress:    client,
		ProviderAddress:  provider,
		EvaluatorAddress: evaluator,
		Memos: []job.Memo{
			{ID: 1, NextPhase: job.PhaseNegotiation},
			{ID: 2, NextPhase: job.PhaseTransaction},
			{ID: 3, NextPhase: job.PhaseEvaluation},
			{ID: 4, NextPhase: job.PhaseCompleted},
		},
	}

	cases := []struct {
		name      string
		agent     common.Address
		evaluator bool
		phase     job.Phase
		wantKind  Kind
		wantMemo  int64
		wantOK    bool
	}{
		{"服务方应答", provider, false, job.PhaseRequest, KindNewTask, 1, true},
		{"客户支付", client, false, job.PhaseNegotiation, KindNewTask, 2, true},
		{"服务方交付", provider, false, job.PhaseTransaction, KindNewTask, 3, true},
		{"评估方验收", evaluator, true, job.PhaseEvaluation, KindEvaluate, 4, true},
		{"旁观者无事件", common.HexToAddress("0x9"), false, job.PhaseNegotiation, "", 0, false},
		{"终态无事件", provider, false, job.PhaseCompleted, "", 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPoller(nil, nil, tc.agent, tc.evaluator, time.Second)
			j := base
			j.Phase = tc.phase
			evt, ok := p.synthesize(&j)
			if ok != tc.wantOK {
				t.Fatalf("合成结果应为 %v, 实际 %v", tc.wantOK, ok)
			}
			if !ok {
				return
			}
			if evt.Kind != tc.wantKind || evt.MemoID != tc.wantMemo {
				t.Fatalf("事件不符: kind=%s memo=%d", evt.Kind, evt.MemoID)
			}
		})
	}
}
