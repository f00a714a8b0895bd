package job

import (
	"encoding/json"
	"fmt"
	"strconv"

	xerrors "AgentCommerce-Chain/internal/errors"
)

// Phase 表示任务在生命周期中的阶段，取值与链上协议保持一致。
type Phase uint8

const (
	PhaseRequest     Phase = 0
	PhaseNegotiation Phase = 1
	PhaseTransaction Phase = 2
	PhaseEvaluation  Phase = 3
	PhaseCompleted   Phase = 4
	PhaseRejected    Phase = 5
)

var phaseNames = map[Phase]string{
	PhaseRequest:     "REQUEST",
	PhaseNegotiation: "NEGOTIATION",
	PhaseTransaction: "TRANSACTION",
	PhaseEvaluation:  "EVALUATION",
	PhaseCompleted:   "COMPLETED",
	PhaseRejected:    "REJECTED",
}

// ParsePhase 将线上的整数值解码为 Phase。所有反序列化入口都必须经过这里，
// 业务代码内部只比较 Phase 枚举，不再出现裸整数。
func ParsePhase(value int) (Phase, error) {
	p := Phase(value)
	if _, ok := phaseNames[p]; !ok {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的任务阶段: %d", value))
	}
	return p, nil
}

// String 返回阶段名称。
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PHASE(%d)", uint8(p))
}

// Terminal 判断阶段是否为终态。终态之后不允许任何转移。
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseRejected
}

// CanAdvanceTo 判断从当前阶段是否允许进入 next。
// 合法路径为 REQUEST→NEGOTIATION→TRANSACTION→EVALUATION→COMPLETED，
// 任意非终态都可以直接进入 REJECTED。
func (p Phase) CanAdvanceTo(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseRejected {
		return true
	}
	switch p {
	case PhaseRequest:
		return next == PhaseNegotiation
	case PhaseNegotiation:
		return next == PhaseTransaction
	case PhaseTransaction:
		return next == PhaseEvaluation
	case PhaseEvaluation:
		return next == PhaseCompleted
	}
	return false
}

// MarshalJSON 以协议整数值编码。
func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(p))
}

// UnmarshalJSON 同时接受整数和数字字符串，历史后端两种写法都出现过。
func (p *Phase) UnmarshalJSON(data []byte) error {
	parsed, err := decodeWireInt(data)
	if err != nil {
		return err
	}
	phase, err := ParsePhase(parsed)
	if err != nil {
		return err
	}
	*p = phase
	return nil
}

// MemoType 表示备忘录承载内容的类别，与阶段无关。
type MemoType uint8

const (
	MemoMessage    MemoType = 0
	MemoContextURL MemoType = 1
	MemoImageURL   MemoType = 2
	MemoVoiceURL   MemoType = 3
	MemoObjectURL  MemoType = 4
	MemoTxHash     MemoType = 5
)

var memoTypeNames = map[MemoType]string{
	MemoMessage:    "MESSAGE",
	MemoContextURL: "CONTEXT_URL",
	MemoImageURL:   "IMAGE_URL",
	MemoVoiceURL:   "VOICE_URL",
	MemoObjectURL:  "OBJECT_URL",
	MemoTxHash:     "TXHASH",
}

// ParseMemoType 将线上的整数值解码为 MemoType。
func ParseMemoType(value int) (MemoType, error) {
	t := MemoType(value)
	if _, ok := memoTypeNames[t]; !ok {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的备忘录类型: %d", value))
	}
	return t, nil
}

// String 返回类型名称。
func (t MemoType) String() string {
	if name, ok := memoTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MEMO_TYPE(%d)", uint8(t))
}

// MarshalJSON 以协议整数值编码。
func (t MemoType) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(t))
}

// UnmarshalJSON 同时接受整数和数字字符串。
func (t *MemoType) UnmarshalJSON(data []byte) error {
	parsed, err := decodeWireInt(data)
	if err != nil {
		return err
	}
	memoType, err := ParseMemoType(parsed)
	if err != nil {
		return err
	}
	*t = memoType
	return nil
}

func decodeWireInt(data []byte) (int, error) {
	var number int
	if err := json.Unmarshal(data, &number); err == nil {
		return number, nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析协议枚举值")
	}
	number, err := strconv.Atoi(text)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法解析协议枚举值")
	}
	return number, nil
}
