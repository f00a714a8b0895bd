package dispatch

import (
	"encoding/json"
	"log/slog"
	"time"

	"context"

	"github.com/gorilla/websocket"

	xerrors "AgentCommerce-Chain/internal/errors"
	"AgentCommerce-Chain/internal/job"
	"AgentCommerce-Chain/pkg/logger"
)

// SocketConfig 描述推送通道的接入参数。EvaluatorAddress 为空表示
// 本代理不承担评估角色，不订阅评估事件。
type SocketConfig struct {
	URL              string
	WalletAddress    string
	EvaluatorAddress string
	ReconnectWait    time.Duration
	PingInterval     time.Duration
}

// SocketSource 维护与推送服务的长连接，把收到的事件送入调度器。
// 连接断开后自动重连，单条畸形消息只会被记录并丢弃。
type SocketSource struct {
	cfg        SocketConfig
	dispatcher *Dispatcher
	log        *slog.Logger
}

// NewSocketSource 构造 SocketSource。
func NewSocketSource(cfg SocketConfig, dispatcher *Dispatcher) *SocketSource {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &SocketSource{
		cfg:        cfg,
		dispatcher: dispatcher,
		log:        logger.Named("dispatch.socket"),
	}
}

// Run 维持连接直到 ctx 取消。每次断线等待 ReconnectWait 后重连。
func (s *SocketSource) Run(ctx context.Context) error {
	for {
		if err := s.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("推送连接中断, 等待重连", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReconnectWait):
		}
	}
}

type socketEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type socketAuth struct {
	WalletAddress    string `json:"walletAddress,omitempty"`
	EvaluatorAddress string `json:"evaluatorAddress,omitempty"`
}

type socketJob struct {
	OnChainJobID json.Number `json:"onChainJobId"`
	Phase        job.Phase   `json:"phase"`
	Memos        []job.Memo  `json:"memos"`
}

func (s *SocketSource) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConnectivity, err, "连接推送服务失败")
	}
	defer conn.Close()

	auth := socketAuth{
		WalletAddress:    s.cfg.WalletAddress,
		EvaluatorAddress: s.cfg.EvaluatorAddress,
	}
	if err := conn.WriteJSON(auth); err != nil {
		return xerrors.Wrap(xerrors.CodeConnectivity, err, "推送认证失败")
	}

	// 后台心跳, ctx 取消时顺带关闭连接让 ReadMessage 解除阻塞。
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return xerrors.Wrap(xerrors.CodeConnectivity, err, "读取推送消息失败")
		}
		s.consume(ctx, raw)
	}
}

// consume 解析一条推送消息并送入调度器。任何解析失败只丢弃当前
// 消息，连接继续工作。
func (s *SocketSource) consume(ctx context.Context, raw []byte) {
	var envelope socketEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.log.Warn("丢弃无法解析的推送消息", slog.Any("error", err))
		return
	}

	switch envelope.Event {
	case "roomJoined":
		s.log.Info("推送通道就绪", slog.String("wallet", s.cfg.WalletAddress))
		return
	case string(KindNewTask), string(KindEvaluate):
	default:
		s.log.Debug("忽略未知推送事件", slog.String("event", envelope.Event))
		return
	}

	evt, err := decodeSocketJob(Kind(envelope.Event), envelope.Data)
	if err != nil {
		s.log.Warn("丢弃畸形的任务快照",
			slog.String("event", envelope.Event),
			slog.Any("error", err),
		)
		return
	}
	if err := s.dispatcher.Intake(ctx, evt); err != nil {
		s.log.Error("事件入队失败", slog.Int64("job_id", evt.JobID), slog.Any("error", err))
	}
}

func decodeSocketJob(kind Kind, data []byte) (Event, error) {
	var snapshot socketJob
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeEventDropped, err, "任务快照不是合法的 JSON")
	}
	jobID, err := snapshot.OnChainJobID.Int64()
	if err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeEventDropped, err, "任务快照缺少链上任务 ID")
	}

	evt := Event{
		Kind:  kind,
		JobID: jobID,
		Phase: snapshot.Phase,
		Memos: snapshot.Memos,
	}
	// 触发本次通知的是快照里最新的那条备忘录。
	if n := len(snapshot.Memos); n > 0 {
		evt.MemoID = snapshot.Memos[n-1].ID
	}
	if err := evt.Valid(); err != nil {
		return Event{}, err
	}
	return evt, nil
}
