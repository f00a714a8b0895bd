package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"AgentCommerce-Chain/internal/chain"
	"AgentCommerce-Chain/internal/config"
	"AgentCommerce-Chain/internal/contract"
	"AgentCommerce-Chain/internal/dispatch"
	"AgentCommerce-Chain/internal/lifecycle"
	"AgentCommerce-Chain/internal/observability/metrics"
	"AgentCommerce-Chain/internal/relayer"
	"AgentCommerce-Chain/internal/txexec"
	"AgentCommerce-Chain/pkg/logger"
)

// main 是 ACP 代理守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("acpd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 不存在时静默跳过, 生产环境直接用进程环境变量。
	_ = godotenv.Load()

	configPath := os.Getenv("ACP_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "acp.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	definitions, err := config.LoadChainDefinitions(cfg.Chain.Definitions)
	if err != nil {
		return err
	}
	env, err := definitions.Environment(cfg.Chain.Environment)
	if err != nil {
		return err
	}
	if err := checkSourceConfig(cfg.Dispatch.Mode, env); err != nil {
		return fmt.Errorf("链环境 %s: %w", cfg.Chain.Environment, err)
	}

	signerKey := strings.TrimSpace(os.Getenv(cfg.Agent.SignerKeyEnv))
	if signerKey == "" {
		return fmt.Errorf("环境变量 %s 未提供签名私钥", cfg.Agent.SignerKeyEnv)
	}
	signer, err := txexec.NewSigner(signerKey)
	if err != nil {
		return err
	}

	wallet := cfg.Agent.WalletAddress
	if wallet == "" {
		wallet = signer.Address().Hex()
	}

	httpClient := &http.Client{Timeout: relayer.DefaultHTTPTimeout}
	if cfg.Relayer.TimeoutSeconds > 0 {
		httpClient.Timeout = time.Duration(cfg.Relayer.TimeoutSeconds) * time.Second
	}
	relayerClient, err := relayer.NewClient(env.APIURL, wallet, httpClient)
	if err != nil {
		return err
	}

	// 有中继地址时走中继后端, 否则直连链节点。
	var backend txexec.Backend
	var reader contract.Reader
	if env.APIURL != "" {
		backend = txexec.NewRelayerBackend(relayerClient, wallet)
		reader = contract.NewRelayerReader(relayerClient)
	} else {
		chainClient, err := chain.Dial(ctx, env)
		if err != nil {
			return err
		}
		defer chainClient.Close()
		backend = chainClient
		reader = chainClient
	}

	executor := txexec.NewExecutor(backend, signer)
	gateway := contract.NewGateway(executor, reader,
		common.HexToAddress(env.ContractAddress),
		common.HexToAddress(env.TokenAddress),
	)
	svc := lifecycle.NewService(gateway, common.HexToAddress(wallet))

	queue, err := buildQueue(cfg.Dispatch.Queue)
	if err != nil {
		return err
	}
	store, err := buildStore(cfg.Dispatch.Store)
	if err != nil {
		_ = queue.Close()
		return err
	}

	dispatcher := dispatch.NewDispatcher(queue, store,
		dispatch.TaskHandlerFunc(func(ctx context.Context, evt dispatch.Event) error {
			// 默认回调只刷新任务并记录, 业务代理在此接入自己的策略。
			_, err := svc.Refresh(ctx, evt.JobID)
			return err
		}),
		dispatch.WithWorkers(cfg.Dispatch.Workers),
		dispatch.WithEvaluateHandler(dispatch.NewAutoAcceptEvaluator(svc)),
	)
	defer func() { _ = dispatcher.Close() }()

	dispatchCtx, dispatchCancel := context.WithCancel(ctx)
	defer dispatchCancel()
	go func() {
		if err := dispatcher.Run(dispatchCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("调度器异常退出: %v", err)
		}
	}()

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	switch cfg.Dispatch.Mode {
	case "", "socket":
		source := dispatch.NewSocketSource(dispatch.SocketConfig{
			URL:              env.WSURL,
			WalletAddress:    wallet,
			EvaluatorAddress: wallet,
		}, dispatcher)
		err = source.Run(ctx)
	case "poll":
		poller := dispatch.NewPoller(relayerClient, dispatcher,
			common.HexToAddress(wallet), true,
			time.Duration(cfg.Dispatch.PollIntervalSeconds)*time.Second)
		err = poller.Run(ctx)
	default:
		return fmt.Errorf("未知的调度模式: %s", cfg.Dispatch.Mode)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// checkSourceConfig 在装配前校验事件来源模式需要的链环境字段。
// 轮询模式挂在中继 API 上, 没有 api_url 时轮询器只会空转报错。
func checkSourceConfig(mode string, env config.ChainEnvironment) error {
	switch mode {
	case "", "socket":
		if env.WSURL == "" {
			return errors.New("推送模式需要配置 ws_url")
		}
	case "poll":
		if env.APIURL == "" {
			return errors.New("轮询模式需要配置 api_url")
		}
	default:
		return fmt.Errorf("未知的调度模式: %s", mode)
	}
	return nil
}

func buildQueue(cfg config.QueueConfig) (dispatch.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return dispatch.NewMemoryQueue(1024), nil
	case "redis":
		return dispatch.NewRedisQueue(dispatch.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return dispatch.NewRabbitMQQueue(dispatch.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func buildStore(cfg config.StoreConfig) (dispatch.SeenStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return dispatch.NewMemoryStore(), nil
	case "mysql":
		return dispatch.NewMySQLStore(dispatch.MySQLStoreConfig{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}
