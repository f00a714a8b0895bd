package job

import (
	"encoding/json"
	"errors"
	"testing"

	xerrors "AgentCommerce-Chain/internal/errors"
)

func TestPhaseWireRoundTrip(t *testing.T) {
	for value := 0; value <= 5; value++ {
		phase, err := ParsePhase(value)
		if err != nil {
			t.Fatalf("解析阶段 %d 失败: %v", value, err)
		}
		data, err := json.Marshal(phase)
		if err != nil {
			t.Fatalf("编码阶段失败: %v", err)
		}
		var decoded Phase
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("解码阶段失败: %v", err)
		}
		if decoded != phase {
			t.Fatalf("阶段 %d 往返后变成 %d", phase, decoded)
		}
	}

	if _, err := ParsePhase(6); err == nil {
		t.Fatal("期望未知阶段返回错误")
	}
}

func TestPhaseUnmarshalAcceptsNumericString(t *testing.T) {
	var phase Phase
	if err := json.Unmarshal([]byte(`"2"`), &phase); err != nil {
		t.Fatalf("解码字符串形式的阶段失败: %v", err)
	}
	if phase != PhaseTransaction {
		t.Fatalf("期望 TRANSACTION，得到 %s", phase)
	}
}

func TestPhaseTransitions(t *testing.T) {
	cases := []struct {
		from, to Phase
		allowed  bool
	}{
		{PhaseRequest, PhaseNegotiation, true},
		{PhaseNegotiation, PhaseTransaction, true},
		{PhaseTransaction, PhaseEvaluation, true},
		{PhaseEvaluation, PhaseCompleted, true},
		{PhaseRequest, PhaseRejected, true},
		{PhaseEvaluation, PhaseRejected, true},
		{PhaseRequest, PhaseTransaction, false},
		{PhaseNegotiation, PhaseCompleted, false},
		{PhaseCompleted, PhaseRejected, false},
		{PhaseRejected, PhaseNegotiation, false},
		{PhaseCompleted, PhaseCompleted, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.allowed {
			t.Errorf("%s→%s 期望 %v，得到 %v", tc.from, tc.to, tc.allowed, got)
		}
	}
}

func TestValidateTransitionSurfacesProtocolViolation(t *testing.T) {
	err := ValidateTransition(PhaseRejected, PhaseTransaction)
	if err == nil {
		t.Fatal("期望终态转移返回错误")
	}
	if xerrors.CodeOf(err) != xerrors.CodeProtocolViolation {
		t.Fatalf("期望 PROTOCOL_VIOLATION，得到 %s", xerrors.CodeOf(err))
	}
}

func TestMemoTypeWireRoundTrip(t *testing.T) {
	for value := 0; value <= 5; value++ {
		memoType, err := ParseMemoType(value)
		if err != nil {
			t.Fatalf("解析备忘录类型 %d 失败: %v", value, err)
		}
		data, _ := json.Marshal(memoType)
		var decoded MemoType
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("解码备忘录类型失败: %v", err)
		}
		if decoded != memoType {
			t.Fatalf("类型 %d 往返后变成 %d", memoType, decoded)
		}
	}
	if _, err := ParseMemoType(9); err == nil {
		t.Fatal("期望未知类型返回错误")
	}
}

func TestMemoTargetingPrefersLatest(t *testing.T) {
	memos := []Memo{
		{ID: 1, NextPhase: PhaseNegotiation},
		{ID: 2, NextPhase: PhaseTransaction},
		{ID: 3, NextPhase: PhaseTransaction},
	}
	memo, err := MemoTargeting(memos, PhaseTransaction)
	if err != nil {
		t.Fatalf("选取备忘录失败: %v", err)
	}
	if memo.ID != 3 {
		t.Fatalf("期望选中最近的备忘录 3，得到 %d", memo.ID)
	}
}

func TestMemoTargetingMissingPhase(t *testing.T) {
	memos := []Memo{{ID: 1, NextPhase: PhaseNegotiation}}
	_, err := MemoTargeting(memos, PhaseCompleted)
	if err == nil {
		t.Fatal("期望找不到备忘录时返回错误")
	}
	if !errors.Is(err, ErrNoApplicableMemo) {
		t.Fatalf("期望 NO_APPLICABLE_MEMO，得到 %v", err)
	}
}
